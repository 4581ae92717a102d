// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for testing the session engine
// without a network connection.
package xmpptest

import (
	"context"
	"encoding/xml"
	"strings"
	"sync"
	"testing"

	"mellium.im/sasl"
	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/mux"
)

// Render encodes a token stream to its string form.
func Render(r xml.TokenReader) (string, error) {
	var b strings.Builder
	e := xml.NewEncoder(&b)
	if _, err := xmlstream.Copy(e, r); err != nil {
		return "", err
	}
	if err := e.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Stanza is one recorded outbound stanza.
type Stanza struct {
	XML  string
	Name string
	ID   string
	To   string
	Type string
}

// Sender records every stanza sent through it.
type Sender struct {
	mu   sync.Mutex
	sent []Stanza

	// Err, if set, is returned by the next call to Send.
	Err error
}

// Send satisfies the Send method of the session and manager interfaces.
func (s *Sender) Send(_ context.Context, r xml.TokenReader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		err := s.Err
		s.Err = nil
		return err
	}
	raw, err := Render(r)
	if err != nil {
		return err
	}
	var head struct {
		XMLName xml.Name
		ID      string `xml:"id,attr"`
		To      string `xml:"to,attr"`
		Type    string `xml:"type,attr"`
	}
	if err := xml.Unmarshal([]byte(raw), &head); err != nil {
		return err
	}
	s.sent = append(s.sent, Stanza{
		XML:  raw,
		Name: head.XMLName.Local,
		ID:   head.ID,
		To:   head.To,
		Type: head.Type,
	})
	return nil
}

// Sent returns a copy of every stanza recorded so far.
func (s *Sender) Sent() []Stanza {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stanza, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the most recently sent stanza.
func (s *Sender) Last() Stanza {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return Stanza{}
	}
	return s.sent[len(s.sent)-1]
}

// Reset forgets all recorded stanzas.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// Handler is the inbound stanza entry point of the engine under test.
type Handler interface {
	HandleXMPP(start xml.StartElement, r xml.TokenReader) error
}

// Feed parses raw as one stanza and delivers it to h.
// Parse and handler errors fail the test.
func Feed(t *testing.T, h Handler, raw string) {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(raw))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("error parsing %s: %v", raw, err)
	}
	if err := h.HandleXMPP(tok.(xml.StartElement), d); err != nil {
		t.Fatalf("error handling %s: %v", raw, err)
	}
}

// BufferString parses a stanza's XML into a replayable buffer along
// with its start element.
func BufferString(s string) (xml.StartElement, *mux.Buffer, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	tok, err := d.Token()
	if err != nil {
		return xml.StartElement{}, nil, err
	}
	start := tok.(xml.StartElement)
	buf, err := mux.NewBuffer(start, d)
	return start, buf, err
}

// Transport is a fake connection that records the stream lifecycle and
// every stanza sent on it.
type Transport struct {
	Sender

	OpenErr  error
	AuthErr  error
	Opened   bool
	Closed   bool
	Addr     string
	Username string
	Resource string
	Mechs    []sasl.Mechanism
}

// Open records the dial attempt.
func (t *Transport) Open(_ context.Context, addr string) error {
	if t.OpenErr != nil {
		return t.OpenErr
	}
	t.Addr = addr
	t.Opened = true
	t.Closed = false
	return nil
}

// Auth records the credentials offered.
func (t *Transport) Auth(_ context.Context, username, _ string, resource string, mechanisms []sasl.Mechanism) error {
	if t.AuthErr != nil {
		return t.AuthErr
	}
	t.Username = username
	t.Resource = resource
	t.Mechs = mechanisms
	return nil
}

// Close records the teardown.
func (t *Transport) Close() error {
	t.Closed = true
	t.Opened = false
	return nil
}
