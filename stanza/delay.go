// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"time"

	"github.com/hallski/gossip-sub001/jid"
)

// Delayed-delivery namespaces.
// Chatroom history and store-and-forward messages arrive stamped in
// either the modern or the legacy form depending on the server.
const (
	NSDelay       = "urn:xmpp:delay"
	NSDelayLegacy = "jabber:x:delay"
)

// legacyStamp is the timestamp layout of the jabber:x:delay form.
const legacyStamp = "20060102T15:04:05"

// Delay indicates that a stanza was delivered some time after it was
// originally sent.
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// UnmarshalXML satisfies xml.Unmarshaler for both the urn:xmpp:delay
// <delay/> element and the legacy jabber:x:delay <x/> element, chosen
// by the namespace of start.
func (d *Delay) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	*d = Delay{}
	var stamp string
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "from":
			if j, err := jid.Parse(attr.Value); err == nil {
				d.From = j
			}
		case "stamp":
			stamp = attr.Value
		}
	}
	layout := time.RFC3339
	if start.Name.Space == NSDelayLegacy {
		layout = legacyStamp
	}
	if stamp != "" {
		t, err := time.Parse(layout, stamp)
		if err != nil {
			return err
		}
		d.Stamp = t.UTC()
	}
	var body struct {
		Inner string `xml:",chardata"`
	}
	if err := dec.DecodeElement(&body, &start); err != nil {
		return err
	}
	d.Reason = body.Inner
	return nil
}
