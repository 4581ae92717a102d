// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package form implements data forms.
//
// Only the two shapes that cross the session engine's boundary are
// supported: reading a result or form offered by a server (room info,
// feature negotiation) and submitting a flat list of field values
// (room configuration, stream-method selection).
package form

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// Form types.
const (
	TypeForm   = "form"
	TypeSubmit = "submit"
	TypeResult = "result"
	TypeCancel = "cancel"
)

// Field is a single var/value entry of a data form.
type Field struct {
	XMLName xml.Name `xml:"field"`
	Var     string   `xml:"var,attr"`
	Type    string   `xml:"type,attr,omitempty"`
	Label   string   `xml:"label,attr,omitempty"`
	Values  []string `xml:"value"`
	Options []Option `xml:"option"`
}

// Option is one choice of a list field.
type Option struct {
	Label string `xml:"label,attr,omitempty"`
	Value string `xml:"value"`
}

// Data is a data form.
// It unmarshals directly from a jabber:x:data <x/> payload.
type Data struct {
	XMLName xml.Name `xml:"jabber:x:data x"`
	Type    string   `xml:"type,attr"`
	Title   string   `xml:"title,omitempty"`
	Fields  []Field  `xml:"field"`
}

// Get returns the first value of the field with the given var.
func (d *Data) Get(v string) (string, bool) {
	for _, f := range d.Fields {
		if f.Var == v && len(f.Values) > 0 {
			return f.Values[0], true
		}
	}
	return "", false
}

// Set appends or replaces the values of the field with the given var.
func (d *Data) Set(v string, values ...string) {
	for i := range d.Fields {
		if d.Fields[i].Var == v {
			d.Fields[i].Values = values
			return
		}
	}
	d.Fields = append(d.Fields, Field{Var: v, Values: values})
}

// Submit builds a submission form from the provided fields.
// A submission with no fields requests the service defaults (for
// chatrooms, an "instant" room).
func Submit(fields ...Field) *Data {
	return &Data{Type: TypeSubmit, Fields: fields}
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (d *Data) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Space: NS, Local: "x"}}
	if d.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: d.Type})
	}
	var children []xml.TokenReader
	if d.Title != "" {
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(d.Title)),
			xml.StartElement{Name: xml.Name{Local: "title"}},
		))
	}
	for _, f := range d.Fields {
		fieldStart := xml.StartElement{Name: xml.Name{Local: "field"}}
		if f.Var != "" {
			fieldStart.Attr = append(fieldStart.Attr, xml.Attr{Name: xml.Name{Local: "var"}, Value: f.Var})
		}
		if f.Type != "" {
			fieldStart.Attr = append(fieldStart.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: f.Type})
		}
		var values []xml.TokenReader
		for _, v := range f.Values {
			values = append(values, xmlstream.Wrap(
				xmlstream.Token(xml.CharData(v)),
				xml.StartElement{Name: xml.Name{Local: "value"}},
			))
		}
		for _, o := range f.Options {
			values = append(values, xmlstream.Wrap(
				xmlstream.Wrap(
					xmlstream.Token(xml.CharData(o.Value)),
					xml.StartElement{Name: xml.Name{Local: "value"}},
				),
				xml.StartElement{Name: xml.Name{Local: "option"}},
			))
		}
		children = append(children, xmlstream.Wrap(xmlstream.MultiReader(values...), fieldStart))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (d *Data) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (d *Data) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	return err
}
