// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package muc implements Multi-User Chat from a client perspective.
//
// The Manager owns every joined or joining Room on one session.
// It drives the join handshake (including its timeout and the legacy
// numeric error codes), routes groupchat traffic to room state, and
// exposes room operations such as topic, nick, and invitations.
// Events are reported through the Handle* callback fields.
package muc

import (
	"context"
	"encoding/xml"
	"strconv"
	"time"

	"mellium.im/xmlstream"

	gossip "github.com/hallski/gossip-sub001"
	"github.com/hallski/gossip-sub001/disco"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/stanza"
)

// Various namespaces used by this package, provided as a convenience.
const (
	NS      = `http://jabber.org/protocol/muc`
	NSUser  = `http://jabber.org/protocol/muc#user`
	NSOwner = `http://jabber.org/protocol/muc#owner`
	NSAdmin = `http://jabber.org/protocol/muc#admin`
)

// statusCreated is the status code that marks a freshly created room
// awaiting configuration.
const statusCreated = 201

const joinTimeout = 20 * time.Second

// ID identifies one Room within its Manager.
type ID uint

// Chatroom describes a room to join or one discovered while browsing.
type Chatroom struct {
	// Addr is the bare room address (room@service).
	Addr jid.JID
	// Name is the human-readable room name.
	// It defaults to the localpart of Addr.
	Name string
	// Nick is the nickname to occupy the room under.
	Nick     string
	Password string
}

// JoinFunc is the completion callback of a join request.
// It is invoked exactly once: with the joined room, or with the room
// that was already open and ErrAlreadyOpen, or with whatever chatroom
// error ended the handshake.
type JoinFunc func(room *Room, err error)

// Message is a participant message received in a room.
type Message struct {
	Room *Room
	From *Participant
	Body string
	// Stamp is the delay-extension timestamp for history messages, or
	// the local receive time.
	Stamp time.Time
}

// Manager tracks every room the session has joined or is joining.
//
// A room is indexed both by its Manager-local ID and by its bare
// address; the two indices share one reference-counted Room and a join
// for an already-indexed address is rejected with ErrAlreadyOpen.
type Manager struct {
	s      *gossip.Session
	reg    *disco.Registry
	nextID ID
	byID   map[ID]*Room
	byJID  map[string]*Room

	// HandleJoined is called when a join handshake completes and the
	// room becomes active.
	HandleJoined func(*Room)
	// HandleRoomMessage is called for each participant message.
	HandleRoomMessage func(Message)
	// HandleService is called for room announcements: groupchat bodies
	// with no sender nickname.
	HandleService func(room *Room, text string)
	// HandleSubject is called when the room topic changes.
	// from is nil when the service itself set the topic.
	HandleSubject func(room *Room, from *Participant, subject string)
	// HandleParticipantJoined, HandleParticipantUpdated, and
	// HandleParticipantLeft track the room roster.
	HandleParticipantJoined  func(*Room, *Participant)
	HandleParticipantUpdated func(*Room, *Participant)
	HandleParticipantLeft    func(*Room, *Participant)
	// HandleInvite is called when a mediated invitation arrives.
	HandleInvite func(Invitation)
	// HandleError is called for room errors outside the join handshake.
	HandleError func(room *Room, err Error)
}

// NewManager creates a chatroom manager bound to the session.
// The manager mirrors outgoing presence into every active room and
// leaves all rooms when the session disconnects.
func NewManager(s *gossip.Session, reg *disco.Registry) *Manager {
	m := &Manager{
		s:     s,
		reg:   reg,
		byID:  make(map[ID]*Room),
		byJID: make(map[string]*Room),
	}
	s.AddBroadcaster(m)
	s.OnDisconnect(func() { m.LeaveAll(context.Background()) })
	return m
}

// HandleManager returns an option that registers the manager's stanza
// handlers ahead of the generic one-to-one handlers.
func HandleManager(m *Manager) mux.Option {
	return func(sm *mux.ServeMux) {
		mux.Presence(mux.PriorityFirst, m)(sm)
		mux.Message(mux.PriorityFirst, m)(sm)
	}
}

// Room returns the room with the given ID.
func (m *Manager) Room(id ID) (*Room, bool) {
	r, ok := m.byID[id]
	return r, ok
}

// RoomByAddr returns the room with the given bare address.
func (m *Manager) RoomByAddr(addr jid.JID) (*Room, bool) {
	r, ok := m.byJID[addr.Bare().String()]
	return r, ok
}

// Rooms returns every joined or joining room.
func (m *Manager) Rooms() []*Room {
	out := make([]*Room, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, r)
	}
	return out
}

// Join requests to join a chatroom.
// The outcome is reported through f, which is invoked exactly once.
// If a room with the same bare address is already open or joining, f is
// invoked immediately with that room and ErrAlreadyOpen and no state is
// created.
func (m *Manager) Join(ctx context.Context, room Chatroom, f JoinFunc) *Room {
	bare := room.Addr.Bare()
	if existing, ok := m.byJID[bare.String()]; ok {
		if f != nil {
			f(existing, ErrAlreadyOpen)
		}
		return existing
	}

	addr, err := bare.WithResource(room.Nick)
	if err != nil {
		if f != nil {
			f(nil, err)
		}
		return nil
	}
	if room.Name == "" {
		room.Name = bare.Localpart()
	}

	m.nextID++
	r := &Room{
		m:            m,
		id:           m.nextID,
		addr:         addr,
		chatroom:     room,
		status:       StatusJoining,
		joinCB:       f,
		participants: make(map[string]*Participant),
	}
	r.me = &Participant{addr: addr, Nick: room.Nick, Name: m.s.Nickname()}
	if r.me.Name == "" {
		r.me.Name = room.Nick
	}

	// The callback holds a reference until it fires, as does each index.
	r.incRef()
	m.insert(r)

	r.joinTimer = m.s.Clock().AfterFunc(joinTimeout, r.joinTimedOut)

	p := stanza.Presence{
		ID: "muc_join_" + strconv.FormatUint(uint64(r.id), 10),
		To: addr,
	}
	var inner []xml.TokenReader
	var x xml.TokenReader
	if room.Password != "" {
		x = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(room.Password)),
			xml.StartElement{Name: xml.Name{Local: "password"}},
		)
	}
	inner = append(inner, xmlstream.Wrap(x, xml.StartElement{Name: xml.Name{Space: NS, Local: "x"}}))
	if avail := m.s.Availability(); avail.Show != "" || avail.Status != "" {
		inner = append(inner, avail.TokenReader())
	}
	if err := m.s.Send(ctx, p.Wrap(xmlstream.MultiReader(inner...))); err != nil {
		r.joinTimer.Stop()
		m.remove(r)
		r.complete(nil, err)
		return nil
	}
	return r
}

// Cancel aborts a join that has not completed yet.
// It has no effect on active rooms.
func (m *Manager) Cancel(id ID) {
	r, ok := m.byID[id]
	if !ok || r.status != StatusJoining {
		return
	}
	r.joinTimer.Stop()
	r.status = StatusInactive
	m.remove(r)
	r.complete(nil, ErrCanceled)
}

// Leave departs the room with the given ID.
func (m *Manager) Leave(ctx context.Context, id ID) error {
	r, ok := m.byID[id]
	if !ok {
		return ErrRoomNotFound
	}
	return r.Leave(ctx)
}

// LeaveAll departs every room, for use when the session disconnects.
func (m *Manager) LeaveAll(ctx context.Context) {
	ids := make([]ID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			_ = r.Leave(ctx)
		}
	}
}

// BroadcastPresence mirrors the session's outgoing presence into every
// active room.
// It satisfies the session's Broadcaster interface.
func (m *Manager) BroadcastPresence(ctx context.Context, avail stanza.Availability) error {
	var firstErr error
	for _, r := range m.byID {
		if r.status != StatusActive {
			continue
		}
		p := stanza.Presence{To: r.addr}
		if err := m.s.Send(ctx, p.Wrap(avail.TokenReader())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) insert(r *Room) {
	m.byID[r.id] = r
	r.incRef()
	m.byJID[r.addr.Bare().String()] = r
	r.incRef()
}

func (m *Manager) remove(r *Room) {
	if _, ok := m.byID[r.id]; ok {
		delete(m.byID, r.id)
		r.decRef()
	}
	key := r.addr.Bare().String()
	if _, ok := m.byJID[key]; ok {
		delete(m.byJID, key)
		r.decRef()
	}
}

type roomPresence struct {
	XMLName xml.Name     `xml:"presence"`
	Show    stanza.Show  `xml:"show"`
	Status  string       `xml:"status"`
	Error   stanza.Error `xml:"error"`
	X       struct {
		XMLName xml.Name
		Item    struct {
			Affiliation Affiliation `xml:"affiliation,attr"`
			Role        Role        `xml:"role,attr"`
			JID         string      `xml:"jid,attr"`
		} `xml:"item"`
		Status []struct {
			Code int `xml:"code,attr"`
		} `xml:"status"`
	} `xml:"http://jabber.org/protocol/muc#user x"`
}

func (p *roomPresence) hasStatus(code int) bool {
	for _, s := range p.X.Status {
		if s.Code == code {
			return true
		}
	}
	return false
}

// HandlePresence satisfies mux.PresenceHandler.
// It claims presence addressed from a known room and passes everything
// else on.
func (m *Manager) HandlePresence(p stanza.Presence, buf *mux.Buffer) error {
	r, ok := m.byJID[p.From.Bare().String()]
	if !ok {
		return mux.ErrPass
	}

	var decoded roomPresence
	if err := buf.Decode(&decoded); err != nil {
		return err
	}

	if r.status == StatusJoining {
		// The service echoes our own presence last; occupants announced
		// before it seed the roster without completing the join.
		if p.Type == stanza.ErrorPresence || p.From.Equal(r.addr) {
			return m.finishJoin(r, p, &decoded)
		}
		part, _ := r.participant(p.From)
		part.Affiliation = decoded.X.Item.Affiliation
		part.Role = decoded.X.Item.Role
		part.Online = true
		part.Avail = stanza.Availability{Show: decoded.Show, Status: decoded.Status}
		return nil
	}

	switch p.Type {
	case stanza.ErrorPresence:
		if m.HandleError != nil {
			m.HandleError(r, codeError(decoded.Error.Code))
		}
	case stanza.UnavailablePresence:
		if part, ok := r.participants[p.From.String()]; ok {
			delete(r.participants, p.From.String())
			if m.HandleParticipantLeft != nil {
				m.HandleParticipantLeft(r, part)
			}
		}
	case stanza.AvailablePresence:
		part, fresh := r.participant(p.From)
		part.Affiliation = decoded.X.Item.Affiliation
		part.Role = decoded.X.Item.Role
		wasOffline := !part.Online
		part.Online = true
		part.Avail = stanza.Availability{Show: decoded.Show, Status: decoded.Status}
		switch {
		case (fresh || wasOffline) && m.HandleParticipantJoined != nil:
			m.HandleParticipantJoined(r, part)
		case !fresh && !wasOffline && m.HandleParticipantUpdated != nil:
			m.HandleParticipantUpdated(r, part)
		}
	}
	return nil
}

// finishJoin resolves the pending join handshake with the first
// presence reply from the room.
func (m *Manager) finishJoin(r *Room, p stanza.Presence, decoded *roomPresence) error {
	r.joinTimer.Stop()

	if p.Type == stanza.ErrorPresence {
		r.status = StatusError
		m.remove(r)
		r.complete(nil, codeError(decoded.Error.Code))
		return nil
	}

	if decoded.hasStatus(statusCreated) {
		if err := r.configure(context.Background()); err != nil {
			r.status = StatusError
			m.remove(r)
			r.complete(nil, err)
			return nil
		}
	}

	r.status = StatusActive
	r.me.Online = true
	r.me.Affiliation = decoded.X.Item.Affiliation
	r.me.Role = decoded.X.Item.Role
	r.participants[r.addr.String()] = r.me
	r.complete(r, nil)
	if m.HandleJoined != nil {
		m.HandleJoined(r)
	}
	return nil
}

type roomMessage struct {
	XMLName xml.Name `xml:"message"`
	Body    string   `xml:"body"`
	Subject *struct {
		Text string `xml:",chardata"`
	} `xml:"subject"`
	Delay       *stanza.Delay `xml:"urn:xmpp:delay delay"`
	LegacyDelay *stanza.Delay `xml:"jabber:x:delay x"`
	Error       stanza.Error  `xml:"error"`
	User        *userPayload  `xml:"http://jabber.org/protocol/muc#user x"`
}

// HandleMessage satisfies mux.MessageHandler.
// It claims groupchat traffic from known rooms and mediated
// invitations, passing everything else on.
func (m *Manager) HandleMessage(msg stanza.Message, buf *mux.Buffer) error {
	var decoded roomMessage
	if err := buf.Decode(&decoded); err != nil {
		return err
	}

	r, known := m.byJID[msg.From.Bare().String()]
	if !known {
		if decoded.User != nil && decoded.User.Invite != nil {
			if m.HandleInvite != nil {
				m.HandleInvite(Invitation{
					Room:     msg.From.Bare(),
					From:     decoded.User.Invite.From,
					Password: decoded.User.Password,
					Reason:   decoded.User.Invite.Reason,
				})
			}
			return nil
		}
		return mux.ErrPass
	}

	if msg.Type == stanza.ErrorMessage {
		if m.HandleError != nil {
			m.HandleError(r, codeError(decoded.Error.Code))
		}
		return nil
	}

	if decoded.Subject != nil {
		var from *Participant
		if msg.From.Resourcepart() != "" {
			from, _ = r.participant(msg.From)
		}
		if m.HandleSubject != nil {
			m.HandleSubject(r, from, decoded.Subject.Text)
		}
		return nil
	}

	if decoded.Body == "" {
		return nil
	}
	if msg.From.Resourcepart() == "" {
		// A body with no sender nickname is a room announcement.
		if m.HandleService != nil {
			m.HandleService(r, decoded.Body)
		}
		return nil
	}

	part, _ := r.participant(msg.From)
	stamp := m.s.Clock().Now()
	switch {
	case decoded.Delay != nil && !decoded.Delay.Stamp.IsZero():
		stamp = decoded.Delay.Stamp
	case decoded.LegacyDelay != nil && !decoded.LegacyDelay.Stamp.IsZero():
		stamp = decoded.LegacyDelay.Stamp
	}
	if m.HandleRoomMessage != nil {
		m.HandleRoomMessage(Message{Room: r, From: part, Body: decoded.Body, Stamp: stamp})
	}
	return nil
}
