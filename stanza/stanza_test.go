// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

func render(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var b strings.Builder
	e := xml.NewEncoder(&b)
	if _, err := xmlstream.Copy(e, r); err != nil {
		t.Fatalf("error encoding: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("error flushing: %v", err)
	}
	return b.String()
}

func TestPresenceWrap(t *testing.T) {
	p := stanza.Presence{
		ID: "muc_join_1",
		To: jid.MustParse("room@conf.example.org/alice"),
	}
	out := render(t, p.Wrap(nil))
	want := `<presence id="muc_join_1" to="room@conf.example.org/alice"></presence>`
	if out != want {
		t.Errorf("wrong output:\nwant=%s\n got=%s", want, out)
	}
}

func TestIQResult(t *testing.T) {
	iq := stanza.IQ{
		ID:   "abc",
		From: jid.MustParse("romeo@example.org/balcony"),
		Type: stanza.GetIQ,
	}
	out := render(t, iq.Result(nil))
	want := `<iq id="abc" to="romeo@example.org/balcony" type="result"></iq>`
	if out != want {
		t.Errorf("wrong output:\nwant=%s\n got=%s", want, out)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	in := `<error type="cancel" code="409"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></conflict><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">taken</text></error>`
	var e stanza.Error
	if err := xml.Unmarshal([]byte(in), &e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Code != 409 || e.Condition != stanza.Conflict || e.Type != stanza.Cancel || e.Text != "taken" {
		t.Fatalf("wrong decode: %+v", e)
	}
	if out := render(t, e.TokenReader()); out != in {
		t.Errorf("wrong encode:\nwant=%s\n got=%s", in, out)
	}
}

func TestErrorDefaultCode(t *testing.T) {
	e := stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}
	out := render(t, e.TokenReader())
	if !strings.Contains(out, `code="503"`) {
		t.Errorf("expected implied legacy code in %s", out)
	}
}

func TestDelay(t *testing.T) {
	var msg struct {
		XMLName xml.Name      `xml:"message"`
		Delay   *stanza.Delay `xml:"urn:xmpp:delay delay"`
		Legacy  *stanza.Delay `xml:"jabber:x:delay x"`
	}
	in := `<message><delay xmlns="urn:xmpp:delay" from="conf.example.org" stamp="2002-09-10T23:08:25Z"/></message>`
	if err := xml.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2002, 9, 10, 23, 8, 25, 0, time.UTC)
	if msg.Delay == nil || !msg.Delay.Stamp.Equal(want) {
		t.Fatalf("wrong delay: %+v", msg.Delay)
	}

	msg.Delay = nil
	in = `<message><x xmlns="jabber:x:delay" stamp="20020910T23:08:25"/></message>`
	if err := xml.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Legacy == nil || !msg.Legacy.Stamp.Equal(want) {
		t.Fatalf("wrong legacy delay: %+v", msg.Legacy)
	}
}

func TestAvailability(t *testing.T) {
	out := render(t, stanza.Availability{Show: stanza.ShowAway, Status: "brb", Priority: 5}.TokenReader())
	want := `<show>away</show><status>brb</status><priority>5</priority>`
	if out != want {
		t.Errorf("wrong output:\nwant=%s\n got=%s", want, out)
	}
}
