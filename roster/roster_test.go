// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package roster_test

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/roster"
	"github.com/hallski/gossip-sub001/stanza"
)

func TestQueryDecode(t *testing.T) {
	in := `<query xmlns="jabber:iq:roster">` +
		`<item jid="juliet@example.org" name="Juliet" subscription="both"><group>Capulets</group></item>` +
		`</query>`
	var q roster.Query
	if err := xml.Unmarshal([]byte(in), &q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Items) != 1 {
		t.Fatalf("wrong item count: %d", len(q.Items))
	}
	item := q.Items[0]
	if !item.JID.Equal(jid.MustParse("juliet@example.org")) || item.Name != "Juliet" {
		t.Errorf("wrong item: %+v", item)
	}
	if len(item.Groups) != 1 || item.Groups[0] != "Capulets" {
		t.Errorf("wrong groups: %v", item.Groups)
	}
}

func TestBestResource(t *testing.T) {
	c := &clock.Virtual{}
	p := roster.NewPresences(c)
	contact := jid.MustParse("juliet@example.org")

	p.Update(jid.MustParse("juliet@example.org/chamber"), stanza.AvailablePresence, stanza.Availability{Priority: 1})
	c.Advance(time.Second)
	p.Update(jid.MustParse("juliet@example.org/balcony"), stanza.AvailablePresence, stanza.Availability{Priority: 5})

	best, ok := p.Best(contact)
	if !ok || best.Resourcepart() != "balcony" {
		t.Errorf("wrong best resource: %s, %t", best, ok)
	}

	// Same priority: most recent update wins.
	c.Advance(time.Second)
	p.Update(jid.MustParse("juliet@example.org/chamber"), stanza.AvailablePresence, stanza.Availability{Priority: 5})
	best, _ = p.Best(contact)
	if best.Resourcepart() != "chamber" {
		t.Errorf("wrong best resource after update: %s", best)
	}

	p.Update(jid.MustParse("juliet@example.org/chamber"), stanza.UnavailablePresence, stanza.Availability{})
	best, _ = p.Best(contact)
	if best.Resourcepart() != "balcony" {
		t.Errorf("wrong best resource after sign-off: %s", best)
	}

	p.Update(jid.MustParse("juliet@example.org/balcony"), stanza.UnavailablePresence, stanza.Availability{})
	if best, ok = p.Best(contact); ok || !best.Equal(contact) {
		t.Errorf("expected bare fallback, got %s, %t", best, ok)
	}
}
