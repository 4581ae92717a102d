// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"encoding/xml"
	"io"
)

// Buffer holds the tokens of one complete stanza so that every handler
// in a chain can read the payload independently.
type Buffer struct {
	toks []xml.Token
}

// NewBuffer reads one element rooted at start from r and buffers its
// tokens, including the start and end tokens of the stanza itself.
// r must be positioned just after start.
func NewBuffer(start xml.StartElement, r xml.TokenReader) (*Buffer, error) {
	b := &Buffer{toks: []xml.Token{start.Copy()}}
	depth := 1
	for depth > 0 {
		tok, err := r.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		b.toks = append(b.toks, xml.CopyToken(tok))
	}
	return b, nil
}

type bufReader struct {
	toks []xml.Token
	pos  int
}

func (r *bufReader) Token() (xml.Token, error) {
	if r.pos >= len(r.toks) {
		return nil, io.EOF
	}
	t := r.toks[r.pos]
	r.pos++
	return t, nil
}

// Reader returns a fresh reader over the buffered stanza, starting at
// its start element.
func (b *Buffer) Reader() xml.TokenReader {
	return &bufReader{toks: b.toks}
}

// Decode unmarshals the whole buffered stanza into v.
func (b *Buffer) Decode(v interface{}) error {
	return xml.NewTokenDecoder(b.Reader()).Decode(v)
}

// Child reports whether the stanza has a direct child element matching
// name.
// An empty Space or Local in name acts as a wildcard for that part.
func (b *Buffer) Child(name xml.Name) bool {
	depth := 0
	for _, tok := range b.toks {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 &&
				(name.Space == "" || name.Space == t.Name.Space) &&
				(name.Local == "" || name.Local == t.Name.Local) {
				return true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return false
}

// Payload returns the start element of the first direct child of the
// stanza, which for IQs determines the namespace used for dispatch.
func (b *Buffer) Payload() (xml.StartElement, bool) {
	depth := 0
	for _, tok := range b.toks {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 {
				return t, true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return xml.StartElement{}, false
}
