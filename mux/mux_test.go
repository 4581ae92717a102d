// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux_test

import (
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/stanza"
)

func buffer(t *testing.T, s string) *mux.Buffer {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(s))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("error reading start token: %v", err)
	}
	start := tok.(xml.StartElement)
	buf, err := mux.NewBuffer(start, d)
	if err != nil {
		t.Fatalf("error buffering: %v", err)
	}
	return buf
}

func TestChainOrderAndConsume(t *testing.T) {
	var ran []string
	handler := func(name string, consume bool) mux.MessageHandlerFunc {
		return func(stanza.Message, *mux.Buffer) error {
			ran = append(ran, name)
			if consume {
				return nil
			}
			return mux.ErrPass
		}
	}
	m := mux.New(
		mux.MessageFunc(mux.PriorityNormal, handler("normal", true)),
		mux.MessageFunc(mux.PriorityFirst, handler("first", false)),
		mux.MessageFunc(mux.PriorityLast, handler("last", true)),
	)

	err := m.HandleMessage(stanza.Message{}, buffer(t, `<message/>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "normal" {
		t.Errorf("wrong chain execution: %v", ran)
	}
}

func TestUnhandledReturnsErrPass(t *testing.T) {
	m := mux.New(
		mux.IQFunc(mux.PriorityNormal, func(stanza.IQ, *mux.Buffer) error {
			return mux.ErrPass
		}),
	)
	err := m.HandleIQ(stanza.IQ{Type: stanza.GetIQ}, buffer(t, `<iq type="get"/>`))
	if !errors.Is(err, mux.ErrPass) {
		t.Errorf("expected ErrPass, got %v", err)
	}
}

func TestBufferReplay(t *testing.T) {
	buf := buffer(t, `<presence from="a@b/c"><show>dnd</show></presence>`)
	for i := 0; i < 2; i++ {
		var p struct {
			XMLName xml.Name `xml:"presence"`
			Show    string   `xml:"show"`
		}
		if err := buf.Decode(&p); err != nil {
			t.Fatalf("decode %d failed: %v", i, err)
		}
		if p.Show != "dnd" {
			t.Fatalf("decode %d got show=%q", i, p.Show)
		}
	}
}

func TestBufferChild(t *testing.T) {
	buf := buffer(t, `<iq type="set"><si xmlns="http://jabber.org/protocol/si"><file><desc/></file></si></iq>`)
	if !buf.Child(xml.Name{Space: "http://jabber.org/protocol/si", Local: "si"}) {
		t.Errorf("expected si child to match")
	}
	if !buf.Child(xml.Name{Local: "si"}) {
		t.Errorf("expected wildcard namespace to match")
	}
	// Nested elements are not direct children.
	if buf.Child(xml.Name{Local: "file"}) {
		t.Errorf("matched a grandchild element")
	}
	payload, ok := buf.Payload()
	if !ok || payload.Name.Local != "si" {
		t.Errorf("wrong payload element: %v", payload.Name)
	}
}

func TestPresenceChain(t *testing.T) {
	consumed := false
	m := mux.New(
		mux.PresenceFunc(mux.PriorityFirst, func(p stanza.Presence, buf *mux.Buffer) error {
			if p.From.Domainpart() != "conf.example.org" {
				return mux.ErrPass
			}
			consumed = true
			return nil
		}),
		mux.PresenceFunc(mux.PriorityNormal, func(stanza.Presence, *mux.Buffer) error {
			t.Errorf("presence leaked past consuming handler")
			return nil
		}),
	)
	buf := buffer(t, `<presence from="room@conf.example.org/alice"/>`)
	p, err := stanza.NewPresence(xml.StartElement{
		Name: xml.Name{Local: "presence"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "from"}, Value: "room@conf.example.org/alice"}},
	})
	if err != nil {
		t.Fatalf("error building presence: %v", err)
	}
	if err := m.HandlePresence(p, buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !consumed {
		t.Errorf("room presence was not consumed")
	}
}
