// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
)

// IQ ("Information Query") is used as a general request/response
// mechanism.
// IQs are one-to-one, provide get and set semantics, and always require
// a response in the form of a result or an error correlated by ID.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      jid.JID  `xml:"to,attr"`
	From    jid.JID  `xml:"from,attr"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
}

// NewIQ unmarshals an XML start token into an IQ header.
func NewIQ(start xml.StartElement) (IQ, error) {
	var iq IQ
	err := decodeStart(start, &iq)
	return iq, err
}

// StartElement converts the IQ into an XML token.
func (iq IQ) StartElement() xml.StartElement {
	typ := string(iq.Type)
	if typ == "" {
		typ = string(GetIQ)
	}
	return startElement("iq", iq.ID, iq.To, iq.From, typ)
}

// Wrap wraps the payload in the IQ stanza.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, iq.StartElement())
}

// Result returns a new IQ addressed back to the sender with the same ID
// and the result type set.
func (iq IQ) Result(payload xml.TokenReader) xml.TokenReader {
	return IQ{ID: iq.ID, To: iq.From, Type: ResultIQ}.Wrap(payload)
}

// Err returns a new error IQ addressed back to the sender carrying the
// provided stanza error.
func (iq IQ) Err(e Error) xml.TokenReader {
	return IQ{ID: iq.ID, To: iq.From, Type: ErrorIQ}.Wrap(e.TokenReader())
}

// IQType is the type attribute of an IQ stanza.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity or replace existing
	// values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ reports that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)
