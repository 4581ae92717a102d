// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package si

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/form"
	"github.com/hallski/gossip-sub001/jid"
)

// Namespaces used during stream initiation, provided as a convenience.
const (
	NS            = `http://jabber.org/protocol/si`
	NSFileProfile = `http://jabber.org/protocol/si/profile/file-transfer`
	NSBytestreams = `http://jabber.org/protocol/bytestreams`
	NSIBB         = `http://jabber.org/protocol/ibb`
	NSFeatureNeg  = `http://jabber.org/protocol/feature-neg`
)

// streamMethodVar is the feature negotiation variable naming the
// transport for the offered stream.
const streamMethodVar = "stream-method"

// siPayload is the stream initiation element, both as offered and as
// decoded from an incoming offer or result.
type siPayload struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/si si"`
	SID      string   `xml:"id,attr"`
	MIMEType string   `xml:"mime-type,attr"`
	Profile  string   `xml:"profile,attr"`
	File     *struct {
		Name string `xml:"name,attr"`
		Size uint64 `xml:"size,attr"`
		Desc string `xml:"desc"`
	} `xml:"http://jabber.org/protocol/si/profile/file-transfer file"`
	Feature struct {
		Form form.Data `xml:"jabber:x:data x"`
	} `xml:"http://jabber.org/protocol/feature-neg feature"`
}

// method returns the negotiated stream method from the feature form.
func (p *siPayload) method() string {
	v, _ := p.Feature.Form.Get(streamMethodVar)
	return v
}

// offerTokenReader encodes a stream initiation offer for the file.
func offerTokenReader(sid string, f File) xml.TokenReader {
	var desc xml.TokenReader
	if f.Desc != "" {
		desc = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(f.Desc)),
			xml.StartElement{Name: xml.Name{Local: "desc"}},
		)
	}
	file := xmlstream.Wrap(desc, xml.StartElement{
		Name: xml.Name{Space: NSFileProfile, Local: "file"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "name"}, Value: f.Name},
			{Name: xml.Name{Local: "size"}, Value: strconv.FormatUint(f.Size, 10)},
		},
	})

	methods := form.Data{
		Type: form.TypeForm,
		Fields: []form.Field{{
			Var:  streamMethodVar,
			Type: "list-single",
			Options: []form.Option{
				{Value: NSBytestreams},
				{Value: NSIBB},
			},
		}},
	}
	feature := xmlstream.Wrap(
		methods.TokenReader(),
		xml.StartElement{Name: xml.Name{Space: NSFeatureNeg, Local: "feature"}},
	)

	attrs := []xml.Attr{
		{Name: xml.Name{Local: "id"}, Value: sid},
		{Name: xml.Name{Local: "profile"}, Value: NSFileProfile},
	}
	if f.MIMEType != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "mime-type"}, Value: f.MIMEType})
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(file, feature),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "si"}, Attr: attrs},
	)
}

// acceptTokenReader encodes the result payload accepting an offer with
// the chosen stream method.
func acceptTokenReader(method string) xml.TokenReader {
	chosen := form.Submit(form.Field{Var: streamMethodVar, Values: []string{method}})
	return xmlstream.Wrap(
		xmlstream.Wrap(
			chosen.TokenReader(),
			xml.StartElement{Name: xml.Name{Space: NSFeatureNeg, Local: "feature"}},
		),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "si"}},
	)
}

// StreamHost is one bytestream host candidate.
type StreamHost struct {
	JID  jid.JID
	Host string
	Port uint16
}

// bytestreamsQuery is the bytestreams negotiation element in both
// directions: candidates on a set, streamhost-used on a result.
type bytestreamsQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/bytestreams query"`
	SID     string   `xml:"sid,attr"`
	Hosts   []struct {
		JID  jid.JID `xml:"jid,attr"`
		Host string  `xml:"host,attr"`
		Port uint16  `xml:"port,attr"`
	} `xml:"streamhost"`
	Used *struct {
		JID jid.JID `xml:"jid,attr"`
	} `xml:"streamhost-used"`
}

// hostsTokenReader encodes a streamhost candidate offer.
func hostsTokenReader(sid string, hosts []StreamHost) xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(hosts))
	for _, h := range hosts {
		inner = append(inner, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "streamhost"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "jid"}, Value: h.JID.String()},
				{Name: xml.Name{Local: "host"}, Value: h.Host},
				{Name: xml.Name{Local: "port"}, Value: strconv.FormatUint(uint64(h.Port), 10)},
			},
		}))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{
			Name: xml.Name{Space: NSBytestreams, Local: "query"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "sid"}, Value: sid}},
		},
	)
}

// hostUsedTokenReader encodes the result naming the streamhost the
// receiver connected to.
func hostUsedTokenReader(sid string, host jid.JID) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "streamhost-used"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "jid"}, Value: host.String()}},
		}),
		xml.StartElement{
			Name: xml.Name{Space: NSBytestreams, Local: "query"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "sid"}, Value: sid}},
		},
	)
}
