// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the three core stanza types (message,
// presence, and IQ) and payloads shared between them.
//
// The types in this package are headers: they carry the addressing and
// type attributes of a stanza and can wrap an arbitrary payload stream.
// Payload parsing belongs to the packages that own the namespace.
package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
)

// Namespaces of the client-to-server stream.
const (
	NSClient = "jabber:client"
	NSXML    = "http://www.w3.org/XML/1998/namespace"
)

// Is tests whether name is one of the three stanza kinds in a stream
// namespace.
func Is(name xml.Name) bool {
	switch name.Local {
	case "iq", "message", "presence":
		return name.Space == "" || name.Space == NSClient
	}
	return false
}

func startElement(local string, id string, to, from jid.JID, typ string) xml.StartElement {
	attrs := make([]xml.Attr, 0, 4)
	if id != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: id})
	}
	if !to.Zero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: to.String()})
	}
	if !from.Zero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: from.String()})
	}
	if typ != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: typ})
	}
	return xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs}
}

func decodeStart(start xml.StartElement, v interface{}) error {
	d := xml.NewTokenDecoder(xmlstream.Wrap(nil, start))
	return d.Decode(v)
}
