// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package gossip_test

import (
	"context"
	"strings"
	"testing"

	gossip "github.com/hallski/gossip-sub001"
	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/internal/xmpptest"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/roster"
	"github.com/hallski/gossip-sub001/stanza"
)

func newSession(t *testing.T, account gossip.Account) (*gossip.Session, *xmpptest.Transport, *clock.Virtual) {
	t.Helper()
	tr := &xmpptest.Transport{}
	vc := &clock.Virtual{}
	s := gossip.NewSession(account, tr, gossip.WithClock(vc))
	return s, tr, vc
}

func login(t *testing.T, s *gossip.Session) {
	t.Helper()
	var loginErr error
	s.Login(context.Background(), func(err error) { loginErr = err })
	if loginErr != nil {
		t.Fatalf("unexpected login error: %v", loginErr)
	}
}

func feed(t *testing.T, s *gossip.Session, raw string) {
	t.Helper()
	xmpptest.Feed(t, s, raw)
}

func TestLogin(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{
		JID:      jid.MustParse("alice@example.org"),
		Password: "secret",
	})
	var connected bool
	s.HandleConnected = func() { connected = true }
	login(t, s)

	if !tr.Opened || tr.Addr != "example.org:5222" {
		t.Fatalf("wrong dial: opened=%v addr=%s", tr.Opened, tr.Addr)
	}
	if tr.Username != "alice" || tr.Resource != "Gossip" {
		t.Fatalf("wrong credentials: %s %s", tr.Username, tr.Resource)
	}
	if len(tr.Mechs) == 0 {
		t.Fatal("no auth mechanisms offered")
	}
	if !connected || !s.Connected() {
		t.Fatal("session did not come up")
	}

	sent := tr.Sent()
	if len(sent) != 3 {
		t.Fatalf("want roster, vCard, and presence, got %d stanzas", len(sent))
	}
	if !strings.Contains(sent[0].XML, roster.NS) {
		t.Fatalf("first stanza is not the roster request: %s", sent[0].XML)
	}
	if !strings.Contains(sent[1].XML, gossip.NSVCard) {
		t.Fatalf("second stanza is not the vCard request: %s", sent[1].XML)
	}
	if sent[2].Name != "presence" {
		t.Fatalf("third stanza is not initial presence: %s", sent[2].XML)
	}
}

func TestLoginServerOverride(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{
		JID:      jid.MustParse("alice@example.org"),
		Password: "secret",
		Server:   "talk.example.net",
		Port:     5223,
	})
	login(t, s)
	if tr.Addr != "talk.example.net:5223" {
		t.Fatalf("wrong dial address: %s", tr.Addr)
	}
}

func TestLoginRandomResource(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{
		JID:               jid.MustParse("alice@example.org"),
		Password:          "secret",
		UseRandomResource: true,
	})
	login(t, s)
	if !strings.HasPrefix(tr.Resource, "Gossip.") || len(tr.Resource) == len("Gossip.") {
		t.Fatalf("resource has no random suffix: %s", tr.Resource)
	}
}

func TestLoginNoPassword(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{JID: jid.MustParse("alice@example.org")})
	var loginErr, goneErr error
	gone := false
	s.HandleDisconnected = func(err error) { gone, goneErr = true, err }
	s.Login(context.Background(), func(err error) { loginErr = err })
	if loginErr != gossip.ErrNoPassword {
		t.Fatalf("want ErrNoPassword, got %v", loginErr)
	}
	if !gone || goneErr != gossip.ErrNoPassword {
		t.Fatalf("disconnected not reported: fired=%v err=%v", gone, goneErr)
	}
	if tr.Opened {
		t.Fatal("dialed without a password")
	}
}

func TestLoginFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		s, tr, _ := newSession(t, gossip.Account{
			JID:      jid.MustParse("alice@example.org"),
			Password: "secret",
		})
		tr.OpenErr = gossip.ErrNoSuchHost
		var loginErr, goneErr error
		s.HandleDisconnected = func(err error) { goneErr = err }
		s.Login(context.Background(), func(err error) { loginErr = err })
		if loginErr != gossip.ErrNoSuchHost {
			t.Fatalf("want ErrNoSuchHost, got %v", loginErr)
		}
		if goneErr != gossip.ErrNoSuchHost {
			t.Fatalf("disconnected not reported: %v", goneErr)
		}
		if s.Connected() {
			t.Fatal("session connected after failed dial")
		}
	})
	t.Run("auth", func(t *testing.T) {
		s, tr, _ := newSession(t, gossip.Account{
			JID:      jid.MustParse("alice@example.org"),
			Password: "wrong",
		})
		tr.AuthErr = gossip.ErrAuthFailed
		var loginErr, goneErr error
		s.HandleDisconnected = func(err error) { goneErr = err }
		s.Login(context.Background(), func(err error) { loginErr = err })
		if loginErr != gossip.ErrAuthFailed {
			t.Fatalf("want ErrAuthFailed, got %v", loginErr)
		}
		if goneErr != gossip.ErrAuthFailed {
			t.Fatalf("disconnected not reported: %v", goneErr)
		}
		if !tr.Closed {
			t.Fatal("transport left open after failed auth")
		}
	})
}

func connectedSession(t *testing.T) (*gossip.Session, *xmpptest.Transport, *clock.Virtual) {
	t.Helper()
	s, tr, vc := newSession(t, gossip.Account{
		JID:      jid.MustParse("alice@example.org"),
		Password: "secret",
	})
	login(t, s)
	tr.Reset()
	return s, tr, vc
}

func TestLogout(t *testing.T) {
	s, tr, _ := connectedSession(t)
	var gone bool
	var goneErr error = gossip.ErrSpecificError
	s.HandleDisconnected = func(err error) {
		gone = true
		goneErr = err
	}

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Last().Type != "unavailable" {
		t.Fatalf("no unavailable presence before close: %s", tr.Last().XML)
	}
	if !tr.Closed || s.Connected() {
		t.Fatal("session did not shut down")
	}
	if !gone || goneErr != nil {
		t.Fatalf("wrong disconnect report: %v %v", gone, goneErr)
	}
}

func TestConnectionLost(t *testing.T) {
	s, _, _ := connectedSession(t)
	var goneErr error
	s.HandleDisconnected = func(err error) { goneErr = err }

	s.ConnectionClosed()
	if goneErr != gossip.ErrNoConnection {
		t.Fatalf("want ErrNoConnection, got %v", goneErr)
	}
	if err := s.Send(context.Background(), stanza.Presence{}.Wrap(nil)); err != gossip.ErrNoConnection {
		t.Fatalf("send after disconnect: %v", err)
	}
}

func TestPresenceTracking(t *testing.T) {
	s, tr, _ := connectedSession(t)

	var from jid.JID
	var online bool
	s.HandlePresence = func(j jid.JID, _ stanza.Availability, on bool) {
		from = j
		online = on
	}

	feed(t, s, `<presence from="bob@example.org/Home"><priority>5</priority></presence>`)
	feed(t, s, `<presence from="bob@example.org/Work"><show>away</show><priority>10</priority></presence>`)
	if !from.Equal(jid.MustParse("bob@example.org/Work")) || !online {
		t.Fatalf("wrong presence callback: %v %v", from, online)
	}

	// Messages to the bare address go to the highest-priority resource.
	if err := s.SendMessage(context.Background(), jid.MustParse("bob@example.org"), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.Last()
	if sent.To != "bob@example.org/Work" {
		t.Fatalf("message not routed to best resource: %s", sent.XML)
	}
	if !strings.Contains(sent.XML, "hello") || !strings.Contains(sent.XML, gossip.NSEvent) {
		t.Fatalf("message missing body or event request: %s", sent.XML)
	}

	feed(t, s, `<presence from="bob@example.org/Work" type="unavailable"/>`)
	if online {
		t.Fatal("unavailable presence not reported")
	}
	if best, ok := s.Presences().Best(jid.MustParse("bob@example.org")); !ok || !best.Equal(jid.MustParse("bob@example.org/Home")) {
		t.Fatalf("wrong best resource after sign-off: %v", best)
	}
}

func TestRoster(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{
		JID:      jid.MustParse("alice@example.org"),
		Password: "secret",
	})
	login(t, s)
	rosterID := tr.Sent()[0].ID
	tr.Reset()

	var items []roster.Item
	s.HandleRoster = func(r []roster.Item) { items = r }

	feed(t, s, `<iq id="`+rosterID+`" type="result"><query xmlns="jabber:iq:roster"><item jid="bob@example.org" name="Bob" subscription="both"/><item jid="carol@example.org" subscription="to"/></query></iq>`)
	if len(items) != 2 {
		t.Fatalf("want 2 contacts, got %d", len(items))
	}

	// A push adds a contact and is acknowledged.
	feed(t, s, `<iq id="push1" type="set"><query xmlns="jabber:iq:roster"><item jid="dave@example.org" subscription="both"/></query></iq>`)
	if len(items) != 3 {
		t.Fatalf("push not applied: %d contacts", len(items))
	}
	ack := tr.Last()
	if ack.ID != "push1" || ack.Type != "result" {
		t.Fatalf("push not acknowledged: %s", ack.XML)
	}

	feed(t, s, `<iq id="push2" type="set"><query xmlns="jabber:iq:roster"><item jid="bob@example.org" subscription="remove"/></query></iq>`)
	if len(items) != 2 {
		t.Fatalf("removal not applied: %d contacts", len(items))
	}
	for _, it := range items {
		if it.JID.Bare().String() == "bob@example.org" {
			t.Fatal("removed contact still present")
		}
	}
}

func TestVCardNickname(t *testing.T) {
	s, tr, _ := newSession(t, gossip.Account{
		JID:      jid.MustParse("alice@example.org"),
		Password: "secret",
	})
	login(t, s)
	if s.Nickname() != "alice" {
		t.Fatalf("wrong default nickname: %s", s.Nickname())
	}
	vcardID := tr.Sent()[1].ID

	feed(t, s, `<iq id="`+vcardID+`" type="result"><vCard xmlns="vcard-temp"><FN>Alice Arnold</FN><NICKNAME>Ally</NICKNAME></vCard></iq>`)
	if s.Nickname() != "Ally" {
		t.Fatalf("wrong nickname: %s", s.Nickname())
	}
}

func TestUnhandledIQ(t *testing.T) {
	s, tr, _ := connectedSession(t)

	feed(t, s, `<iq from="bob@example.org/Home" id="q1" type="get"><query xmlns="jabber:iq:version"/></iq>`)
	reply := tr.Last()
	if reply.ID != "q1" || reply.Type != "error" {
		t.Fatalf("unhandled get not answered: %s", reply.XML)
	}
	if !strings.Contains(reply.XML, "service-unavailable") {
		t.Fatalf("wrong condition: %s", reply.XML)
	}

	// Results never get an error reply.
	tr.Reset()
	feed(t, s, `<iq from="bob@example.org/Home" id="q2" type="result"/>`)
	if len(tr.Sent()) != 0 {
		t.Fatalf("unexpected reply to a result: %s", tr.Last().XML)
	}
}

type recordingBroadcaster struct {
	avails []stanza.Availability
}

func (b *recordingBroadcaster) BroadcastPresence(_ context.Context, avail stanza.Availability) error {
	b.avails = append(b.avails, avail)
	return nil
}

func TestSetPresence(t *testing.T) {
	s, tr, _ := connectedSession(t)
	b := &recordingBroadcaster{}
	s.AddBroadcaster(b)

	avail := stanza.Availability{Show: stanza.ShowAway, Status: "lunch", Priority: 5}
	if err := s.SetPresence(context.Background(), avail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.Last()
	for _, want := range []string{"away", "lunch"} {
		if !strings.Contains(sent.XML, want) {
			t.Fatalf("presence missing %s: %s", want, sent.XML)
		}
	}
	if len(b.avails) != 1 || b.avails[0] != avail {
		t.Fatalf("broadcaster not informed: %+v", b.avails)
	}
	if s.Availability() != avail {
		t.Fatalf("availability not recorded: %+v", s.Availability())
	}
}
