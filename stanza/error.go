// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"
)

// NSStanzas is the namespace of defined stanza error conditions.
const NSStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"

// ErrorType is the type of a stanza error payload and suggests how the
// error should be handled.
type ErrorType string

// Defined error types.
const (
	Auth     ErrorType = "auth"
	Cancel   ErrorType = "cancel"
	Continue ErrorType = "continue"
	Modify   ErrorType = "modify"
	Wait     ErrorType = "wait"
)

// Condition is a defined stanza error condition.
type Condition string

// The conditions this engine produces or switches on.
// Legacy servers send numeric codes instead (or in addition); the Code
// field carries those.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PaymentRequired       Condition = "payment-required"
	RecipientUnavailable  Condition = "recipient-unavailable"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ServiceUnavailable    Condition = "service-unavailable"
	UndefinedCondition    Condition = "undefined-condition"
)

// conditionCodes maps conditions to the legacy numeric code emitted for
// interoperability with old servers.
var conditionCodes = map[Condition]int{
	BadRequest:            400,
	Conflict:              409,
	FeatureNotImplemented: 501,
	Forbidden:             403,
	Gone:                  302,
	InternalServerError:   500,
	ItemNotFound:          404,
	NotAcceptable:         406,
	NotAllowed:            405,
	NotAuthorized:         401,
	PaymentRequired:       402,
	RecipientUnavailable:  404,
	RegistrationRequired:  407,
	RemoteServerNotFound:  404,
	RemoteServerTimeout:   504,
	ServiceUnavailable:    503,
}

// Error is a stanza-level error payload.
type Error struct {
	Type      ErrorType
	Code      int
	Condition Condition
	Text      string
}

// Error satisfies the error interface.
func (e Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	if e.Condition != "" {
		return string(e.Condition)
	}
	return "stanza error " + strconv.Itoa(e.Code)
}

// TokenReader satisfies the xmlstream.Marshaler interface.
// If no numeric code is set, the one conventionally paired with the
// condition is emitted.
func (e Error) TokenReader() xml.TokenReader {
	code := e.Code
	if code == 0 {
		code = conditionCodes[e.Condition]
	}
	start := xml.StartElement{Name: xml.Name{Local: "error"}}
	if e.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(e.Type)})
	}
	if code != 0 {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "code"}, Value: strconv.Itoa(code)})
	}

	var children []xml.TokenReader
	if e.Condition != "" {
		children = append(children, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: NSStanzas, Local: string(e.Condition)},
		}))
	}
	if e.Text != "" {
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(e.Text)),
			xml.StartElement{Name: xml.Name{Space: NSStanzas, Local: "text"}},
		))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (e Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (e Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// UnmarshalXML satisfies xml.Unmarshaler.
// The first non-text child in the stanzas namespace is taken as the
// condition regardless of how many children are present.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*e = Error{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "type":
			e.Type = ErrorType(attr.Value)
		case "code":
			code, err := strconv.Atoi(attr.Value)
			if err == nil {
				e.Code = code
			}
		}
	}
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				switch {
				case t.Name.Local == "text":
					var text struct {
						Inner string `xml:",chardata"`
					}
					if err := d.DecodeElement(&text, &t); err != nil {
						return err
					}
					e.Text = text.Inner
					continue
				case e.Condition == "":
					e.Condition = Condition(t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			if depth == 0 {
				return nil
			}
			depth--
		}
	}
}
