// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package roster implements the contact list payloads and the presence
// table used to route one-to-one messages.
package roster

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
)

// NS is the roster namespace.
const NS = "jabber:iq:roster"

// Item is a single contact in the roster.
type Item struct {
	XMLName      xml.Name `xml:"jabber:iq:roster item"`
	JID          jid.JID  `xml:"jid,attr"`
	Name         string   `xml:"name,attr,omitempty"`
	Subscription string   `xml:"subscription,attr,omitempty"`
	Groups       []string `xml:"group"`
}

// Query is the roster IQ payload.
// An empty Query is sent to request the full roster; pushes and results
// carry items.
type Query struct {
	XMLName xml.Name `xml:"jabber:iq:roster query"`
	Items   []Item   `xml:"item"`
}

// TokenReader satisfies the xmlstream.Marshaler interface.
// Only the empty fetch form ever leaves this engine, so items are not
// marshaled.
func (q Query) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NS, Local: "query"}})
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (q Query) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, q.TokenReader())
}
