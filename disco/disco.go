// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package disco implements service discovery.
//
// A Registry walks the disco#items tree of a target address and then
// resolves each discovered item with a disco#info query, reporting
// every item to a callback as it completes or times out.
package disco

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/form"
	"github.com/hallski/gossip-sub001/jid"
)

// Namespaces used by this package.
const (
	NSInfo  = `http://jabber.org/protocol/disco#info`
	NSItems = `http://jabber.org/protocol/disco#items`
)

// FeatureRegister is the feature advertised by services that accept
// in-band registration.
// The Category helpers only return items carrying it.
const FeatureRegister = "jabber:iq:register"

// Identity is one category/type pair a service identifies as.
type Identity struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

// Item is a single discovered child of a walk's target.
// Identities and Features are populated once the item's info query
// resolves.
type Item struct {
	JID  jid.JID
	Node string
	Name string

	Identities []Identity
	Features   []string
	// Forms carries any extended data published with the info result,
	// such as muc#roominfo.
	Forms []form.Data

	// Resolved reports that an info result arrived for the item.
	Resolved bool
	// TimedOut reports that the item's info query timed out instead.
	TimedOut bool
}

// HasFeature reports whether the item's resolved feature list contains
// the given feature var.
func (i *Item) HasFeature(v string) bool {
	for _, f := range i.Features {
		if f == v {
			return true
		}
	}
	return false
}

// HasIdentity reports whether the item identifies as the category, and
// if typ is non-empty, as the category/type pair.
func (i *Item) HasIdentity(category, typ string) bool {
	for _, id := range i.Identities {
		if id.Category == category && (typ == "" || id.Type == typ) {
			return true
		}
	}
	return false
}

// Category filters items down to those that identify as the category
// and are registerable.
func Category(items []*Item, category string) []*Item {
	return CategoryAndType(items, category, "")
}

// CategoryAndType filters items down to those that identify as the
// category/type pair and are registerable.
func CategoryAndType(items []*Item, category, typ string) []*Item {
	var out []*Item
	for _, i := range items {
		if i.HasIdentity(category, typ) && i.HasFeature(FeatureRegister) {
			out = append(out, i)
		}
	}
	return out
}

// Error is a discovery failure reported by the queried service.
type Error struct {
	Code    int
	Message string
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return "disco: error " + strconv.Itoa(e.Code)
	}
	return e.Message
}

// codeMessage maps the numeric codes seen on disco#items errors to
// user-presentable text.
// Unrecognized codes carry no message.
func codeMessage(code int) string {
	switch code {
	case 302:
		return "Gone"
	case 400:
		return "Bad request"
	case 401:
		return "Unauthorized"
	case 402:
		return "Payment required"
	case 403, 405:
		return "Forbidden"
	case 404, 503:
		return "Unavailable"
	case 406:
		return "Unacceptable"
	case 407:
		return "Registration required"
	case 409:
		return "Conflict"
	case 500:
		return "Internal error"
	case 501:
		return "Not implemented"
	case 504:
		return "Remote timeout"
	}
	return ""
}

func queryPayload(space, node string) xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Space: space, Local: "query"}}
	if node != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "node"}, Value: node})
	}
	return xmlstream.Wrap(nil, start)
}

type itemsResult struct {
	XMLName xml.Name `xml:"iq"`
	Query   struct {
		Items []struct {
			JID  jid.JID `xml:"jid,attr"`
			Node string  `xml:"node,attr"`
			Name string  `xml:"name,attr"`
		} `xml:"item"`
	} `xml:"http://jabber.org/protocol/disco#items query"`
}

type infoResult struct {
	XMLName xml.Name `xml:"iq"`
	Query   struct {
		Identities []Identity `xml:"identity"`
		Features   []struct {
			Var string `xml:"var,attr"`
		} `xml:"feature"`
		Forms []form.Data `xml:"jabber:x:data x"`
	} `xml:"http://jabber.org/protocol/disco#info query"`
}
