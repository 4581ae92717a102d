// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hallski/gossip-sub001/disco"
	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/internal/xmpptest"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

type walkRecorder struct {
	items    []*disco.Item
	lasts    []bool
	timeouts []bool
	errs     []error
}

func (w *walkRecorder) fn(item *disco.Item, last, timedOut bool, err error) {
	w.items = append(w.items, item)
	w.lasts = append(w.lasts, last)
	w.timeouts = append(w.timeouts, timedOut)
	w.errs = append(w.errs, err)
}

func feed(t *testing.T, r *disco.Registry, s string) error {
	t.Helper()
	start, buf, err := xmpptest.BufferString(s)
	if err != nil {
		t.Fatalf("error buffering %s: %v", s, err)
	}
	iq, err := stanza.NewIQ(start)
	if err != nil {
		t.Fatalf("error decoding %s: %v", s, err)
	}
	return r.HandleIQ(iq, buf)
}

func TestWalkAggregation(t *testing.T) {
	sender := &xmpptest.Sender{}
	vc := &clock.Virtual{}
	reg := disco.NewRegistry(sender, vc)
	target := jid.MustParse("conference.example.org")

	rec := &walkRecorder{}
	sess, err := reg.Request(context.Background(), target, rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemsIQ := sender.Last()
	if itemsIQ.To != "conference.example.org" || !strings.Contains(itemsIQ.XML, disco.NSItems) {
		t.Fatalf("wrong items query: %s", itemsIQ.XML)
	}

	// Rerequesting the same target shares the walk.
	again, err := reg.Request(context.Background(), target, rec.fn)
	if err != nil || again != sess {
		t.Fatalf("expected shared session, got %v, %v", again, err)
	}
	if len(sender.Sent()) != 1 {
		t.Fatalf("shared request sent extra stanzas")
	}

	err = feed(t, reg, `<iq type="result" id="`+itemsIQ.ID+`" from="conference.example.org">`+
		`<query xmlns="http://jabber.org/protocol/disco#items">`+
		`<item jid="a.example.org" name="Service A"/>`+
		`<item jid="b.example.org"/>`+
		`</query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := sender.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected two info queries, got %d stanzas", len(sent))
	}
	infoA, infoB := sent[1], sent[2]

	err = feed(t, reg, `<iq type="result" id="`+infoA.ID+`" from="a.example.org">`+
		`<query xmlns="http://jabber.org/protocol/disco#info">`+
		`<identity category="conference" type="text" name="Chatrooms"/>`+
		`<feature var="jabber:iq:register"/>`+
		`</query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.items) != 1 || rec.lasts[0] {
		t.Fatalf("first item should not be last: %+v", rec.lasts)
	}

	err = feed(t, reg, `<iq type="result" id="`+infoB.ID+`" from="b.example.org">`+
		`<query xmlns="http://jabber.org/protocol/disco#info">`+
		`<identity category="directory" type="user"/>`+
		`</query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.items) != 2 || !rec.lasts[1] {
		t.Fatalf("second item should be last: %+v", rec.lasts)
	}

	// The walk destroyed itself: a fresh request starts over.
	items := append([]*disco.Item(nil), rec.items...)
	if _, err := reg.Request(context.Background(), target, rec.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.Sent()) != 4 {
		t.Fatalf("walk was not destroyed after completion")
	}

	conf := disco.Category(items, "conference")
	if len(conf) != 1 || conf[0].Name != "Service A" {
		t.Errorf("wrong category filter result: %+v", conf)
	}
	// directory identity lacks the register feature.
	if dir := disco.Category(items, "directory"); len(dir) != 0 {
		t.Errorf("unregisterable item passed the filter: %+v", dir)
	}
}

func TestWalkNoLateTimeout(t *testing.T) {
	sender := &xmpptest.Sender{}
	vc := &clock.Virtual{}
	reg := disco.NewRegistry(sender, vc)

	rec := &walkRecorder{}
	_, err := reg.Request(context.Background(), jid.MustParse("example.org"), rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemsIQ := sender.Last()
	err = feed(t, reg, `<iq type="result" id="`+itemsIQ.ID+`">`+
		`<query xmlns="http://jabber.org/protocol/disco#items"><item jid="a.example.org"/></query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	infoIQ := sender.Last()
	err = feed(t, reg, `<iq type="result" id="`+infoIQ.ID+`">`+
		`<query xmlns="http://jabber.org/protocol/disco#info"><feature var="jabber:iq:register"/></query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := len(rec.items)

	// Neither the items timer nor the per-item timer may fire late.
	vc.Advance(time.Hour)
	if len(rec.items) != calls {
		t.Errorf("timer fired after reply: %d extra callbacks", len(rec.items)-calls)
	}
}

func TestPerItemTimeout(t *testing.T) {
	sender := &xmpptest.Sender{}
	vc := &clock.Virtual{}
	reg := disco.NewRegistry(sender, vc)

	rec := &walkRecorder{}
	_, err := reg.Request(context.Background(), jid.MustParse("example.org"), rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemsIQ := sender.Last()
	err = feed(t, reg, `<iq type="result" id="`+itemsIQ.ID+`">`+
		`<query xmlns="http://jabber.org/protocol/disco#items"><item jid="slow.example.org"/></query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vc.Advance(16 * time.Second)
	if len(rec.items) != 1 || !rec.timeouts[0] || !rec.lasts[0] {
		t.Fatalf("expected a timed out last item, got %+v %+v", rec.timeouts, rec.lasts)
	}
	if rec.items[0].Resolved || !rec.items[0].TimedOut {
		t.Errorf("wrong item state: %+v", rec.items[0])
	}
}

func TestItemsError(t *testing.T) {
	sender := &xmpptest.Sender{}
	reg := disco.NewRegistry(sender, &clock.Virtual{})

	rec := &walkRecorder{}
	_, err := reg.Request(context.Background(), jid.MustParse("example.org"), rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemsIQ := sender.Last()
	err = feed(t, reg, `<iq type="error" id="`+itemsIQ.ID+`">`+
		`<error code="404" type="cancel"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.items) != 1 || rec.items[0] != nil || !rec.lasts[0] {
		t.Fatalf("expected one last callback with no item")
	}
	derr, ok := rec.errs[0].(*disco.Error)
	if !ok || derr.Code != 404 || derr.Message != "Unavailable" {
		t.Errorf("wrong error: %+v", rec.errs[0])
	}
}

func TestSkipHosts(t *testing.T) {
	sender := &xmpptest.Sender{}
	reg := disco.NewRegistry(sender, &clock.Virtual{})
	reg.SkipHosts = []string{"users.example.org"}

	rec := &walkRecorder{}
	_, err := reg.Request(context.Background(), jid.MustParse("example.org"), rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemsIQ := sender.Last()
	err = feed(t, reg, `<iq type="result" id="`+itemsIQ.ID+`">`+
		`<query xmlns="http://jabber.org/protocol/disco#items"><item jid="users.example.org"/></query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only the original items query went out, yet the walk completed.
	if len(sender.Sent()) != 1 {
		t.Errorf("sent an info query to a skipped host")
	}
	if len(rec.items) != 1 || !rec.lasts[0] {
		t.Errorf("skipped item was not reported")
	}
}

func TestInfoOnly(t *testing.T) {
	sender := &xmpptest.Sender{}
	vc := &clock.Virtual{}
	reg := disco.NewRegistry(sender, vc)
	target := jid.MustParse("conference.example.org")

	rec := &walkRecorder{}
	sess, err := reg.Info(context.Background(), target, "", rec.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	infoIQ := sender.Last()
	if infoIQ.To != "conference.example.org" || !strings.Contains(infoIQ.XML, disco.NSInfo) {
		t.Fatalf("wrong info query: %s", infoIQ.XML)
	}

	err = feed(t, reg, `<iq from="conference.example.org" type="result" id="`+infoIQ.ID+`">`+
		`<query xmlns="http://jabber.org/protocol/disco#info">`+
		`<identity category="conference" type="text" name="Chatrooms"/>`+
		`<feature var="http://jabber.org/protocol/muc"/>`+
		`</query></iq>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.items) != 1 || !rec.lasts[0] {
		t.Fatalf("info result not reported: %+v", rec)
	}
	if !rec.items[0].HasIdentity("conference", "text") || !rec.items[0].HasFeature("http://jabber.org/protocol/muc") {
		t.Fatalf("wrong item info: %+v", rec.items[0])
	}

	// The caller owns an info-only session; it survives completion
	// until closed.
	if again, _ := reg.Request(context.Background(), target, nil); again != sess {
		t.Fatal("info session destroyed before Close")
	}
	sess.Close()
	if _, err := reg.Request(context.Background(), target, rec.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh := sender.Last(); !strings.Contains(fresh.XML, disco.NSItems) {
		t.Fatal("closed info session still registered")
	}
}
