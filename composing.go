// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package gossip

import (
	"context"
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

// NSEvent is the legacy message events namespace used for typing
// notifications.
const NSEvent = "jabber:x:event"

// composingTimeout bounds how long a contact stays marked as typing
// with no further notification; some clients never send the stop
// event.
const composingTimeout = 45 * time.Second

// chatState is the per-contact typing notification state.
type chatState struct {
	// ourLastID is the id of the last message we sent them, echoed back
	// in their notifications.
	ourLastID string
	// theirLastID is the id of their last message requesting
	// notifications; empty when they did not ask.
	theirLastID string
	// composing reports whether the contact is currently typing.
	composing bool
	stopTimer clock.Timer
}

// eventPayload is the x:event extension on incoming messages.
// On a message with a body it requests notifications; on a bodyless
// message it is the notification itself, composing present for typing
// and absent for stopped.
type eventPayload struct {
	XMLName   xml.Name  `xml:"jabber:x:event x"`
	Composing *struct{} `xml:"composing"`
	ID        string    `xml:"id"`
}

func eventRequestTokenReader() xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "composing"}}),
		xml.StartElement{Name: xml.Name{Space: NSEvent, Local: "x"}},
	)
}

func (s *Session) chatFor(peer jid.JID) *chatState {
	key := peer.Bare().String()
	cs, ok := s.chats[key]
	if !ok {
		cs = &chatState{}
		s.chats[key] = cs
	}
	return cs
}

// handleChatEvent updates typing state from one incoming message.
// A message with a body both delivers content and, when it carries the
// event extension, asks us to send notifications for this thread.
func (s *Session) handleChatEvent(msg stanza.Message, body string, ev *eventPayload) {
	cs := s.chatFor(msg.From)

	if body != "" {
		if ev != nil {
			cs.theirLastID = msg.ID
		} else {
			cs.theirLastID = ""
		}
		// A delivered message ends any pending typing indication.
		s.setComposing(msg.From, cs, false)
		return
	}
	if ev == nil {
		return
	}
	s.setComposing(msg.From, cs, ev.Composing != nil)
}

func (s *Session) setComposing(from jid.JID, cs *chatState, composing bool) {
	if cs.stopTimer != nil {
		cs.stopTimer.Stop()
		cs.stopTimer = nil
	}
	if composing {
		bare := from.Bare()
		cs.stopTimer = s.clk.AfterFunc(composingTimeout, func() {
			cs.stopTimer = nil
			s.setComposing(bare, cs, false)
		})
	}
	if cs.composing == composing {
		return
	}
	cs.composing = composing
	if s.HandleComposing != nil {
		s.HandleComposing(from, composing)
	}
}

// SendComposing notifies a contact that we started or stopped typing.
// Nothing is sent unless the contact requested notifications on their
// last message.
func (s *Session) SendComposing(ctx context.Context, to jid.JID, composing bool) error {
	cs := s.chatFor(to)
	if cs.theirLastID == "" {
		return nil
	}
	inner := []xml.TokenReader{}
	if composing {
		inner = append(inner, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "composing"}}))
	}
	inner = append(inner, xmlstream.Wrap(
		xmlstream.Token(xml.CharData(cs.theirLastID)),
		xml.StartElement{Name: xml.Name{Local: "id"}},
	))
	msg := stanza.Message{To: to}
	return s.Send(ctx, msg.Wrap(xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{Name: xml.Name{Space: NSEvent, Local: "x"}},
	)))
}
