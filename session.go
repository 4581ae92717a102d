// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package gossip implements an event-driven XMPP protocol session.
//
// A Session owns one connection to a server, drives login and
// disconnect, dispatches every inbound stanza through a handler chain,
// and tracks contact presence.
// The connection itself is abstracted behind the Transport interface;
// the session only speaks in stanzas.
//
// The session is single-threaded: all stanza handling, callbacks, and
// timer fires run from the loop that calls HandleXMPP, so handlers
// never need locks.
package gossip

import (
	"context"
	"encoding/xml"
	"strconv"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/internal/attr"
	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/roster"
	"github.com/hallski/gossip-sub001/stanza"
)

// NSVCard is the namespace of the legacy vcard-temp profile format.
const NSVCard = "vcard-temp"

const connectTimeout = 210 * time.Second

// Transport is the connection under a session.
// Implementations own the socket, TLS, XML framing, and SASL exchange;
// the session drives them in order: Open, Auth, then Send until Close.
type Transport interface {
	Open(ctx context.Context, addr string) error
	Auth(ctx context.Context, username, password, resource string, mechanisms []sasl.Mechanism) error
	Send(ctx context.Context, r xml.TokenReader) error
	Close() error
}

// Account is the configuration of one account on one server.
type Account struct {
	// JID is the bare account address.
	JID jid.JID
	// Password may be empty, in which case Login fails with
	// ErrNoPassword before touching the network.
	Password string
	// Server overrides the connect host; it defaults to the domainpart
	// of JID.
	Server string
	// Port defaults to 5222.
	Port uint16
	// Resource names the connection; it defaults to "Gossip".
	Resource string
	// UseRandomResource appends a random suffix to the resource so that
	// several connections from the same account do not conflict.
	UseRandomResource bool
}

func (a Account) addr() string {
	host := a.Server
	if host == "" {
		host = a.JID.Domainpart()
	}
	port := a.Port
	if port == 0 {
		port = 5222
	}
	return host + ":" + strconv.Itoa(int(port))
}

func (a Account) resource() string {
	r := a.Resource
	if r == "" {
		r = "Gossip"
	}
	if a.UseRandomResource {
		r += "." + attr.RandomLen(4)
	}
	return r
}

// ConnectFunc reports the outcome of a Login call exactly once.
type ConnectFunc func(err error)

// ChatMessage is a one-to-one message delivered to the session owner.
type ChatMessage struct {
	From  jid.JID
	Body  string
	Stamp time.Time
}

// Broadcaster receives outgoing presence changes so that subsystems can
// mirror them, such as the chatroom manager forwarding presence into
// every joined room.
type Broadcaster interface {
	BroadcastPresence(ctx context.Context, avail stanza.Availability) error
}

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateConnected
)

// Session is one account's protocol session.
//
// Construct it with NewSession, register subsystem handlers with
// Handle, then call Login.
// The owner of the transport feeds inbound stanzas to HandleXMPP and
// reports stream loss with ConnectionClosed.
type Session struct {
	account Account
	tr      Transport
	clk     clock.Clock
	mux     *mux.ServeMux

	st                  sessionState
	connectTimer        clock.Timer
	connectCB           ConnectFunc
	disconnectRequested bool

	broadcasters []Broadcaster
	onDisconnect []func()

	presences *roster.Presences
	contacts  map[string]roster.Item
	avail     stanza.Availability
	nickname  string
	rosterID  string
	vcardID   string
	chats     map[string]*chatState

	// HandleConnected is called once login fully completes.
	HandleConnected func()
	// HandleDisconnected is called when the stream is lost or closed.
	// err is nil for a requested logout.
	HandleDisconnected func(err error)
	// HandleChatMessage is called for each one-to-one chat message.
	HandleChatMessage func(ChatMessage)
	// HandleComposing reports a contact starting or stopping typing.
	HandleComposing func(from jid.JID, composing bool)
	// HandlePresence reports contact presence changes.
	HandlePresence func(from jid.JID, avail stanza.Availability, online bool)
	// HandleRoster is called with the full contact list after login and
	// after each roster push.
	HandleRoster func(items []roster.Item)
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithClock substitutes the session's time source.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clk = c }
}

// NewSession creates a session for the account over the transport.
func NewSession(account Account, tr Transport, opts ...Option) *Session {
	s := &Session{
		account:  account,
		tr:       tr,
		clk:      clock.System(),
		contacts: make(map[string]roster.Item),
		chats:    make(map[string]*chatState),
		nickname: account.JID.Localpart(),
	}
	for _, o := range opts {
		o(s)
	}
	s.presences = roster.NewPresences(s.clk)
	s.mux = mux.New(
		mux.PresenceFunc(mux.PriorityLast, s.handlePresence),
		mux.MessageFunc(mux.PriorityLast, s.handleMessage),
		mux.IQFunc(mux.PriorityLast, s.handleIQ),
	)
	return s
}

// Handle registers additional stanza handlers, typically the options of
// the chatroom, file transfer, and discovery subsystems.
func (s *Session) Handle(opts ...mux.Option) {
	for _, o := range opts {
		o(s.mux)
	}
}

// Clock returns the session's time source so that subsystems share it.
func (s *Session) Clock() clock.Clock { return s.clk }

// JID returns the account address.
func (s *Session) JID() jid.JID { return s.account.JID }

// Nickname returns the account's display name: the vCard nickname when
// one was published, the localpart otherwise.
func (s *Session) Nickname() string { return s.nickname }

// Availability returns the most recently broadcast presence.
func (s *Session) Availability() stanza.Availability { return s.avail }

// Connected reports whether login has completed and the stream is up.
func (s *Session) Connected() bool { return s.st == stateConnected }

// Presences exposes the contact presence table.
func (s *Session) Presences() *roster.Presences { return s.presences }

// Roster returns the cached contact list.
func (s *Session) Roster() []roster.Item {
	out := make([]roster.Item, 0, len(s.contacts))
	for _, it := range s.contacts {
		out = append(out, it)
	}
	return out
}

// AddBroadcaster registers a subsystem to be told about outgoing
// presence changes.
func (s *Session) AddBroadcaster(b Broadcaster) {
	s.broadcasters = append(s.broadcasters, b)
}

// OnDisconnect registers a hook that runs when the session goes down,
// before HandleDisconnected fires.
func (s *Session) OnDisconnect(f func()) {
	s.onDisconnect = append(s.onDisconnect, f)
}

// Login connects, authenticates, and announces presence.
// The outcome is reported through f exactly once: on success after the
// roster request and initial presence have been sent, on failure with
// the session-level error.
// The whole attempt is bounded by a timeout; if it fires, the transport
// is closed and f receives ErrTimedOut.
func (s *Session) Login(ctx context.Context, f ConnectFunc) {
	if s.st != stateDisconnected {
		f(ErrNoConnection)
		return
	}
	if s.account.Password == "" {
		f(ErrNoPassword)
		s.teardown(ErrNoPassword)
		return
	}

	s.st = stateConnecting
	s.connectCB = f
	s.disconnectRequested = false
	s.connectTimer = s.clk.AfterFunc(connectTimeout, func() {
		if s.st != stateConnecting {
			return
		}
		_ = s.tr.Close()
		s.finishConnect(ErrTimedOut)
		s.teardown(ErrTimedOut)
	})

	if err := s.tr.Open(ctx, s.account.addr()); err != nil {
		s.abortConnect(ErrNoSuchHost)
		return
	}
	mechanisms := []sasl.Mechanism{sasl.ScramSha256, sasl.ScramSha1, sasl.Plain}
	err := s.tr.Auth(ctx, s.account.JID.Localpart(), s.account.Password, s.account.resource(), mechanisms)
	if err != nil {
		_ = s.tr.Close()
		s.abortConnect(ErrAuthFailed)
		return
	}

	s.connectTimer.Stop()
	s.st = stateConnected

	s.rosterID = attr.RandomID()
	_ = s.Send(ctx, stanza.IQ{ID: s.rosterID, Type: stanza.GetIQ}.Wrap(roster.Query{}.TokenReader()))
	s.vcardID = attr.RandomID()
	_ = s.Send(ctx, stanza.IQ{ID: s.vcardID, Type: stanza.GetIQ}.Wrap(
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NSVCard, Local: "vCard"}}),
	))
	_ = s.Send(ctx, stanza.Presence{}.Wrap(s.avail.TokenReader()))

	s.finishConnect(nil)
	if s.HandleConnected != nil {
		s.HandleConnected()
	}
}

func (s *Session) abortConnect(err error) {
	s.connectTimer.Stop()
	if s.st != stateConnecting {
		// The timeout already reported this attempt.
		return
	}
	s.finishConnect(err)
	s.teardown(err)
}

func (s *Session) finishConnect(err error) {
	f := s.connectCB
	s.connectCB = nil
	if f != nil {
		f(err)
	}
}

// Logout announces unavailability and closes the stream.
// HandleDisconnected fires with a nil error.
func (s *Session) Logout(ctx context.Context) error {
	if s.st != stateConnected {
		return ErrNoConnection
	}
	s.disconnectRequested = true
	p := stanza.Presence{Type: stanza.UnavailablePresence}
	_ = s.tr.Send(ctx, p.Wrap(nil))
	err := s.tr.Close()
	s.teardown(nil)
	return err
}

// ConnectionClosed is called by the transport owner when the stream
// drops. A loss that was not requested by Logout is reported to
// HandleDisconnected with ErrNoConnection.
func (s *Session) ConnectionClosed() {
	if s.st == stateDisconnected {
		return
	}
	var err error
	if !s.disconnectRequested {
		err = ErrNoConnection
	}
	s.teardown(err)
}

func (s *Session) teardown(err error) {
	s.st = stateDisconnected
	s.disconnectRequested = false
	for _, f := range s.onDisconnect {
		f()
	}
	s.presences.Clear()
	for _, c := range s.chats {
		if c.stopTimer != nil {
			c.stopTimer.Stop()
		}
	}
	s.chats = make(map[string]*chatState)
	if s.HandleDisconnected != nil {
		s.HandleDisconnected(err)
	}
}

// Send writes one stanza to the stream.
func (s *Session) Send(ctx context.Context, r xml.TokenReader) error {
	if s.st != stateConnected {
		return ErrNoConnection
	}
	return s.tr.Send(ctx, r)
}

// SendMessage sends a one-to-one chat message.
// The bare address is upgraded to the contact's best online resource
// and a typing-notification request rides along.
func (s *Session) SendMessage(ctx context.Context, to jid.JID, body string) error {
	if full, ok := s.presences.Best(to.Bare()); ok {
		to = full
	}
	msg := stanza.Message{ID: attr.RandomID(), To: to, Type: stanza.ChatMessage}
	payload := xmlstream.MultiReader(
		xmlstream.Wrap(
			xmlstream.Token(xml.CharData(body)),
			xml.StartElement{Name: xml.Name{Local: "body"}},
		),
		eventRequestTokenReader(),
	)
	if err := s.Send(ctx, msg.Wrap(payload)); err != nil {
		return err
	}
	s.chatFor(to).ourLastID = msg.ID
	return nil
}

// SetPresence broadcasts new availability to the server and to every
// registered broadcaster.
func (s *Session) SetPresence(ctx context.Context, avail stanza.Availability) error {
	s.avail = avail
	if err := s.Send(ctx, stanza.Presence{}.Wrap(avail.TokenReader())); err != nil {
		return err
	}
	for _, b := range s.broadcasters {
		if err := b.BroadcastPresence(ctx, avail); err != nil {
			return err
		}
	}
	return nil
}

// HandleXMPP dispatches one inbound stanza through the handler chain.
// start must be the stanza's own start element; r must produce the rest
// of the element.
// Unhandled get and set IQs are answered with a service-unavailable
// error so that the peer is not left waiting.
func (s *Session) HandleXMPP(start xml.StartElement, r xml.TokenReader) error {
	buf, err := mux.NewBuffer(start, r)
	if err != nil {
		return err
	}
	switch start.Name.Local {
	case "message":
		msg, err := stanza.NewMessage(start)
		if err != nil {
			return err
		}
		err = s.mux.HandleMessage(msg, buf)
		if err == mux.ErrPass {
			err = nil
		}
		return err
	case "presence":
		p, err := stanza.NewPresence(start)
		if err != nil {
			return err
		}
		err = s.mux.HandlePresence(p, buf)
		if err == mux.ErrPass {
			err = nil
		}
		return err
	case "iq":
		iq, err := stanza.NewIQ(start)
		if err != nil {
			return err
		}
		err = s.mux.HandleIQ(iq, buf)
		if err == mux.ErrPass {
			err = nil
			if iq.Type == stanza.GetIQ || iq.Type == stanza.SetIQ {
				err = s.Send(context.Background(), iq.Err(stanza.Error{
					Type:      stanza.Cancel,
					Condition: stanza.ServiceUnavailable,
				}))
			}
		}
		return err
	}
	// Unknown top-level elements are dropped.
	return nil
}

// handlePresence is the lowest-priority presence handler; it maintains
// the contact presence table.
func (s *Session) handlePresence(p stanza.Presence, buf *mux.Buffer) error {
	switch p.Type {
	case stanza.AvailablePresence, stanza.UnavailablePresence:
	default:
		return mux.ErrPass
	}
	var decoded struct {
		Show   stanza.Show `xml:"show"`
		Status string      `xml:"status"`
		Prio   int8        `xml:"priority"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	avail := stanza.Availability{Show: decoded.Show, Status: decoded.Status, Priority: decoded.Prio}
	s.presences.Update(p.From, p.Type, avail)
	if s.HandlePresence != nil {
		s.HandlePresence(p.From, avail, p.Type == stanza.AvailablePresence)
	}
	return nil
}

// handleMessage is the lowest-priority message handler; it delivers
// one-to-one chats and typing notifications.
func (s *Session) handleMessage(msg stanza.Message, buf *mux.Buffer) error {
	switch msg.Type {
	// A missing type attribute means normal. Legacy typing
	// notifications arrive with no type at all.
	case "", stanza.NormalMessage, stanza.ChatMessage:
	default:
		return mux.ErrPass
	}
	var decoded struct {
		Body        string        `xml:"body"`
		Delay       *stanza.Delay `xml:"urn:xmpp:delay delay"`
		LegacyDelay *stanza.Delay `xml:"jabber:x:delay x"`
		Event       *eventPayload `xml:"jabber:x:event x"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}

	s.handleChatEvent(msg, decoded.Body, decoded.Event)
	if decoded.Body == "" {
		return nil
	}

	stamp := s.clk.Now()
	switch {
	case decoded.Delay != nil && !decoded.Delay.Stamp.IsZero():
		stamp = decoded.Delay.Stamp
	case decoded.LegacyDelay != nil && !decoded.LegacyDelay.Stamp.IsZero():
		stamp = decoded.LegacyDelay.Stamp
	}
	if s.HandleChatMessage != nil {
		s.HandleChatMessage(ChatMessage{From: msg.From, Body: decoded.Body, Stamp: stamp})
	}
	return nil
}

// handleIQ is the lowest-priority IQ handler; it resolves the roster
// and vCard requests from login and accepts roster pushes.
func (s *Session) handleIQ(iq stanza.IQ, buf *mux.Buffer) error {
	switch {
	case iq.Type == stanza.ResultIQ && iq.ID == s.vcardID:
		s.vcardID = ""
		var decoded struct {
			VCard struct {
				Nickname string `xml:"NICKNAME"`
				FN       string `xml:"FN"`
			} `xml:"vcard-temp vCard"`
		}
		if err := buf.Decode(&decoded); err != nil {
			return err
		}
		switch {
		case decoded.VCard.Nickname != "":
			s.nickname = decoded.VCard.Nickname
		case decoded.VCard.FN != "":
			s.nickname = decoded.VCard.FN
		}
		return nil
	case iq.Type == stanza.ResultIQ && iq.ID == s.rosterID,
		iq.Type == stanza.SetIQ:
		var q roster.Query
		if err := buf.Decode(&struct {
			XMLName xml.Name      `xml:"iq"`
			Query   *roster.Query `xml:"jabber:iq:roster query"`
		}{Query: &q}); err != nil {
			return err
		}
		if len(q.Items) == 0 && iq.Type == stanza.SetIQ {
			return mux.ErrPass
		}
		if iq.ID == s.rosterID {
			s.rosterID = ""
		}
		for _, it := range q.Items {
			if it.Subscription == "remove" {
				delete(s.contacts, it.JID.Bare().String())
				s.presences.Forget(it.JID.Bare())
				continue
			}
			s.contacts[it.JID.Bare().String()] = it
		}
		if iq.Type == stanza.SetIQ {
			_ = s.Send(context.Background(), iq.Result(nil))
		}
		if s.HandleRoster != nil {
			s.HandleRoster(s.Roster())
		}
		return nil
	}
	return mux.ErrPass
}
