// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package muc

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/form"
	"github.com/hallski/gossip-sub001/internal/attr"
	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

// Participant is an occupant of a room, keyed by room nickname.
type Participant struct {
	addr jid.JID

	Nick        string
	Name        string
	Affiliation Affiliation
	Role        Role
	Online      bool
	Avail       stanza.Availability
}

// Addr returns the participant's in-room address (room@service/nick).
func (p *Participant) Addr() jid.JID {
	return p.addr
}

// Room is a single chatroom session.
//
// The room is shared between the manager's indices and any pending join
// callback; it is torn down when the last of those references is
// released.
type Room struct {
	m        *Manager
	id       ID
	addr     jid.JID
	chatroom Chatroom
	status   Status
	refs     int

	me           *Participant
	participants map[string]*Participant

	joinCB    JoinFunc
	joinTimer clock.Timer
}

// ID returns the manager-local room identifier.
func (r *Room) ID() ID { return r.id }

// Addr returns our in-room address (room@service/nick).
func (r *Room) Addr() jid.JID { return r.addr }

// Name returns the human-readable room name.
func (r *Room) Name() string { return r.chatroom.Name }

// Me returns our own participant entry.
func (r *Room) Me() *Participant { return r.me }

// Status returns the current lifecycle state of the room.
func (r *Room) Status() Status { return r.status }

// Participants returns the current occupants, ourselves included once
// the room is active.
func (r *Room) Participants() []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *Room) participant(addr jid.JID) (p *Participant, fresh bool) {
	p, ok := r.participants[addr.String()]
	if !ok {
		nick := addr.Resourcepart()
		p = &Participant{addr: addr, Nick: nick, Name: nick}
		r.participants[addr.String()] = p
		fresh = true
	}
	return p, fresh
}

// SendText sends a groupchat message to the room.
func (r *Room) SendText(ctx context.Context, body string) error {
	if r.status != StatusActive {
		return ErrRoomNotFound
	}
	msg := stanza.Message{To: r.addr.Bare(), Type: stanza.GroupChatMessage}
	return r.m.s.Send(ctx, msg.Wrap(xmlstream.Wrap(
		xmlstream.Token(xml.CharData(body)),
		xml.StartElement{Name: xml.Name{Local: "body"}},
	)))
}

// Subject sets the room topic.
func (r *Room) Subject(ctx context.Context, subject string) error {
	if r.status != StatusActive {
		return ErrRoomNotFound
	}
	msg := stanza.Message{To: r.addr.Bare(), Type: stanza.GroupChatMessage}
	return r.m.s.Send(ctx, msg.Wrap(xmlstream.Wrap(
		xmlstream.Token(xml.CharData(subject)),
		xml.StartElement{Name: xml.Name{Local: "subject"}},
	)))
}

// Nick requests a new nickname in the room.
// The room address is updated in place; the service confirms or rejects
// the change through normal occupant presence.
func (r *Room) Nick(ctx context.Context, nick string) error {
	if r.status != StatusActive {
		return ErrRoomNotFound
	}
	addr, err := r.addr.WithResource(nick)
	if err != nil {
		return err
	}
	if err := r.m.s.Send(ctx, stanza.Presence{To: addr}.Wrap(nil)); err != nil {
		return err
	}
	key := r.addr.String()
	r.addr = addr
	r.me.Nick = nick
	r.me.addr = addr
	delete(r.participants, key)
	r.participants[addr.String()] = r.me
	return nil
}

// Leave departs the room and releases the manager's references to it.
func (r *Room) Leave(ctx context.Context) error {
	if r.status == StatusJoining {
		r.m.Cancel(r.id)
		return nil
	}
	var err error
	if r.status == StatusActive {
		p := stanza.Presence{To: r.addr, Type: stanza.UnavailablePresence}
		err = r.m.s.Send(ctx, p.Wrap(nil))
	}
	r.status = StatusInactive
	r.m.remove(r)
	return err
}

// Invite sends a mediated invitation for this room through the service.
func (r *Room) Invite(ctx context.Context, to jid.JID, reason string) error {
	if r.status != StatusActive {
		return ErrRoomNotFound
	}
	msg := stanza.Message{To: r.addr.Bare()}
	inv := Invitation{Room: r.addr.Bare(), Password: r.chatroom.Password, Reason: reason}
	return r.m.s.Send(ctx, msg.Wrap(inv.mediatedTokenReader(to)))
}

// Kick removes an occupant from the room by setting their role to none.
// Kicking requires moderator privileges; failures are reported by the
// service as an error IQ.
func (r *Room) Kick(ctx context.Context, nick, reason string) error {
	if r.status != StatusActive {
		return ErrRoomNotFound
	}
	var reasonEl xml.TokenReader
	if reason != "" {
		reasonEl = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(reason)),
			xml.StartElement{Name: xml.Name{Local: "reason"}},
		)
	}
	item := xmlstream.Wrap(reasonEl, xml.StartElement{
		Name: xml.Name{Local: "item"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "nick"}, Value: nick},
			{Name: xml.Name{Local: "role"}, Value: "none"},
		},
	})
	iq := stanza.IQ{ID: attr.RandomID(), To: r.addr.Bare(), Type: stanza.SetIQ}
	return r.m.s.Send(ctx, iq.Wrap(xmlstream.Wrap(item,
		xml.StartElement{Name: xml.Name{Space: NSAdmin, Local: "query"}},
	)))
}

// configure submits the initial configuration of a freshly created
// room, accepting the service defaults except for the name and any
// password from the join request.
func (r *Room) configure(ctx context.Context) error {
	fields := []form.Field{{
		Var:    "muc#roomconfig_roomname",
		Values: []string{r.chatroom.Name},
	}}
	if r.chatroom.Password != "" {
		fields = append(fields,
			form.Field{Var: "muc#roomconfig_passwordprotectedroom", Values: []string{"1"}},
			form.Field{Var: "muc#roomconfig_roomsecret", Values: []string{r.chatroom.Password}},
		)
	}
	submit := form.Submit(fields...)
	iq := stanza.IQ{ID: attr.RandomID(), To: r.addr.Bare(), Type: stanza.SetIQ}
	return r.m.s.Send(ctx, iq.Wrap(xmlstream.Wrap(
		submit.TokenReader(),
		xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "query"}},
	)))
}

// complete fires the pending join callback at most once and releases
// the reference it held.
func (r *Room) complete(room *Room, err error) {
	f := r.joinCB
	r.joinCB = nil
	if f != nil {
		f(room, err)
	}
	r.decRef()
}

func (r *Room) joinTimedOut() {
	if r.status != StatusJoining {
		return
	}
	r.status = StatusError
	r.m.remove(r)
	r.complete(nil, ErrTimedOut)
}

func (r *Room) incRef() { r.refs++ }

func (r *Room) decRef() {
	r.refs--
	if r.refs > 0 {
		return
	}
	if r.joinTimer != nil {
		r.joinTimer.Stop()
	}
	r.participants = nil
}
