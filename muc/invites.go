// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package muc

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

// Invitation is a mediated invitation to a chatroom.
type Invitation struct {
	// Room is the bare address of the room we are invited to.
	Room jid.JID
	// From is the inviter.
	From jid.JID
	// Password is the room password, if one is required.
	Password string
	// Reason is free-form text from the inviter.
	Reason string
}

// userPayload is the muc#user extension as it appears on messages.
type userPayload struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/muc#user x"`
	Password string   `xml:"password"`
	Invite   *struct {
		From   jid.JID `xml:"from,attr"`
		Reason string  `xml:"reason"`
	} `xml:"invite"`
	Decline *struct {
		From   jid.JID `xml:"from,attr"`
		Reason string  `xml:"reason"`
	} `xml:"decline"`
}

// mediatedTokenReader encodes the invitation as a muc#user payload for
// delivery through the room service.
func (i Invitation) mediatedTokenReader(to jid.JID) xml.TokenReader {
	var reason xml.TokenReader
	if i.Reason != "" {
		reason = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(i.Reason)),
			xml.StartElement{Name: xml.Name{Local: "reason"}},
		)
	}
	inner := []xml.TokenReader{xmlstream.Wrap(reason, xml.StartElement{
		Name: xml.Name{Local: "invite"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "to"}, Value: to.String()}},
	})}
	if i.Password != "" {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(i.Password)),
			xml.StartElement{Name: xml.Name{Local: "password"}},
		))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{Name: xml.Name{Space: NSUser, Local: "x"}},
	)
}

// AcceptInvite joins the room named by the invitation under the given
// nickname, carrying the invitation's password if one was given.
func (m *Manager) AcceptInvite(ctx context.Context, inv Invitation, nick string, f JoinFunc) *Room {
	return m.Join(ctx, Chatroom{
		Addr:     inv.Room,
		Nick:     nick,
		Password: inv.Password,
	}, f)
}

// DeclineInvite informs the inviter, through the room service, that the
// invitation was declined.
func (m *Manager) DeclineInvite(ctx context.Context, inv Invitation, reason string) error {
	var reasonEl xml.TokenReader
	if reason != "" {
		reasonEl = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(reason)),
			xml.StartElement{Name: xml.Name{Local: "reason"}},
		)
	}
	decline := xmlstream.Wrap(reasonEl, xml.StartElement{
		Name: xml.Name{Local: "decline"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "to"}, Value: inv.From.String()}},
	})
	msg := stanza.Message{To: inv.Room}
	return m.s.Send(ctx, msg.Wrap(xmlstream.Wrap(
		decline,
		xml.StartElement{Name: xml.Name{Space: NSUser, Local: "x"}},
	)))
}
