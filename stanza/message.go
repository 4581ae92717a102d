// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
)

// Message is an XMPP stanza that contains a payload for direct
// one-to-one communication or for fan-out through a chatroom.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr"`
	To      jid.JID     `xml:"to,attr"`
	From    jid.JID     `xml:"from,attr"`
	Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`
}

// NewMessage unmarshals an XML start token into a Message header.
func NewMessage(start xml.StartElement) (Message, error) {
	var m Message
	err := decodeStart(start, &m)
	return m, err
}

// StartElement converts the Message into an XML token.
func (m Message) StartElement() xml.StartElement {
	return startElement("message", m.ID, m.To, m.From, string(m.Type))
}

// Wrap wraps the payload in the message stanza.
func (m Message) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, m.StartElement())
}

// MessageType is the type attribute of a message stanza.
type MessageType string

const (
	// NormalMessage is a standalone message sent outside of any
	// one-to-one chat or chatroom context.
	// It is the default when no type attribute is present.
	NormalMessage MessageType = "normal"

	// ChatMessage is a message sent in the context of a one-to-one chat.
	ChatMessage MessageType = "chat"

	// GroupChatMessage is a message sent in the context of a chatroom.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage is an alert or notification for which no reply is
	// expected.
	HeadlineMessage MessageType = "headline"

	// ErrorMessage is sent when an error occurs relating to a previous
	// message.
	ErrorMessage MessageType = "error"
)
