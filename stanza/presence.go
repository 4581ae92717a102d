// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
)

// Presence is an XMPP stanza used to broadcast availability, status
// messages, and chatroom membership changes.
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	ID      string       `xml:"id,attr"`
	To      jid.JID      `xml:"to,attr"`
	From    jid.JID      `xml:"from,attr"`
	Lang    string       `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    PresenceType `xml:"type,attr,omitempty"`
}

// NewPresence unmarshals an XML start token into a Presence header.
func NewPresence(start xml.StartElement) (Presence, error) {
	var p Presence
	err := decodeStart(start, &p)
	return p, err
}

// StartElement converts the Presence into an XML token.
func (p Presence) StartElement() xml.StartElement {
	return startElement("presence", p.ID, p.To, p.From, string(p.Type))
}

// Wrap wraps the payload in the presence stanza.
func (p Presence) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, p.StartElement())
}

// PresenceType is the type attribute of a presence stanza.
type PresenceType string

const (
	// AvailablePresence is the default presence type: the absence of a
	// type attribute signals that the entity is available.
	AvailablePresence PresenceType = ""

	// UnavailablePresence signals that the entity is no longer available.
	UnavailablePresence PresenceType = "unavailable"

	// SubscribePresence is a request to subscribe to the recipient's
	// presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence signals that a subscription request was allowed.
	SubscribedPresence PresenceType = "subscribed"

	// UnsubscribePresence unsubscribes from the recipient's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence denies or cancels a subscription.
	UnsubscribedPresence PresenceType = "unsubscribed"

	// ErrorPresence signals an error relating to a previous presence.
	ErrorPresence PresenceType = "error"
)

// Show is the availability sub-state carried in a presence stanza.
type Show string

// Defined show values. An empty Show means plainly available.
const (
	ShowAway Show = "away"
	ShowChat Show = "chat"
	ShowDND  Show = "dnd"
	ShowXA   Show = "xa"
)

// Availability is the user-visible state carried in the children of a
// presence stanza.
type Availability struct {
	Show     Show   `xml:"show"`
	Status   string `xml:"status"`
	Priority int8   `xml:"priority"`
}

// TokenReader satisfies the xmlstream.Marshaler interface.
// The priority element is always emitted so that a zero priority is
// explicit on the wire.
func (a Availability) TokenReader() xml.TokenReader {
	var children []xml.TokenReader
	if a.Show != "" {
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(a.Show)),
			xml.StartElement{Name: xml.Name{Local: "show"}},
		))
	}
	if a.Status != "" {
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(a.Status)),
			xml.StartElement{Name: xml.Name{Local: "status"}},
		))
	}
	children = append(children, xmlstream.Wrap(
		xmlstream.Token(xml.CharData(strconv.Itoa(int(a.Priority)))),
		xml.StartElement{Name: xml.Name{Local: "priority"}},
	))
	return xmlstream.MultiReader(children...)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (a Availability) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, a.TokenReader())
}
