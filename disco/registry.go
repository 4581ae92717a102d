// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/hallski/gossip-sub001/internal/attr"
	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/stanza"
)

// Walk timeouts.
const (
	itemsTimeout = 20 * time.Second
	infoTimeout  = 15 * time.Second
)

// Sender sends a stanza on the underlying connection.
type Sender interface {
	Send(ctx context.Context, r xml.TokenReader) error
}

// ItemFunc is called once per discovered item as it resolves or times
// out, and a final time (last == true) when the walk completes.
// When the items query itself fails, it is called exactly once with a
// nil item and the error.
type ItemFunc func(item *Item, last, timedOut bool, err error)

// Registry tracks in-flight discovery walks, at most one per target
// address.
// Concurrent requests for the same target share the existing walk.
type Registry struct {
	s     Sender
	clock clock.Clock

	// SkipHosts lists addresses that are known to never answer info
	// queries.
	// Their items are counted and reported but no query is sent.
	SkipHosts []string

	sessions map[string]*Session
}

func (r *Registry) skip(addr jid.JID) bool {
	for _, h := range r.SkipHosts {
		if h == addr.String() || h == addr.Domainpart() {
			return true
		}
	}
	return false
}

// NewRegistry returns an empty registry sending queries through s.
func NewRegistry(s Sender, c clock.Clock) *Registry {
	if c == nil {
		c = clock.System()
	}
	return &Registry{
		s:        s,
		clock:    c,
		sessions: make(map[string]*Session),
	}
}

// HandleRegistry returns an option that registers the registry's IQ
// handler for use with a multiplexer.
func HandleRegistry(r *Registry) mux.Option {
	return mux.IQ(mux.PriorityNormal, r)
}

// Session is one items-then-info walk rooted at a target address.
type Session struct {
	reg      *Registry
	ctx      context.Context
	target   jid.JID
	f        ItemFunc
	infoOnly bool

	items     []*Item
	remaining int
	lastErr   error

	itemsID    string
	itemsTimer clock.Timer
	pending    map[string]pendingInfo
	done       bool
}

type pendingInfo struct {
	item  *Item
	timer clock.Timer
}

// Target returns the address the walk is rooted at.
func (s *Session) Target() jid.JID { return s.target }

// Items returns the items discovered so far.
// The slice is owned by the session until the final callback has run;
// callers that need the list afterwards must copy it during the last
// callback.
func (s *Session) Items() []*Item { return s.items }

// Err returns the items-level error recorded by the walk, if any.
func (s *Session) Err() error { return s.lastErr }

// Close tears down an info-only session.
// Walk sessions destroy themselves when the last item resolves and do
// not need to be closed.
func (s *Session) Close() {
	s.destroy()
}

// Request starts (or joins) a walk of the target's items.
// The returned session is shared: if a walk for the same target is
// already in flight it is returned as-is and f is not installed a
// second time.
func (r *Registry) Request(ctx context.Context, target jid.JID, f ItemFunc) (*Session, error) {
	if s, ok := r.sessions[target.String()]; ok {
		return s, nil
	}
	s := &Session{
		reg:     r,
		ctx:     ctx,
		target:  target,
		f:       f,
		itemsID: attr.RandomID(),
		pending: make(map[string]pendingInfo),
	}
	r.sessions[target.String()] = s

	s.itemsTimer = r.clock.AfterFunc(itemsTimeout, s.itemsTimedOut)
	iq := stanza.IQ{ID: s.itemsID, To: target, Type: stanza.GetIQ}
	if err := r.s.Send(ctx, iq.Wrap(queryPayload(NSItems, ""))); err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

// Info starts an info-only query of a single target.
// Unlike Request the caller owns the session and must Close it.
func (r *Registry) Info(ctx context.Context, target jid.JID, node string, f ItemFunc) (*Session, error) {
	if s, ok := r.sessions[target.String()]; ok {
		return s, nil
	}
	s := &Session{
		reg:      r,
		ctx:      ctx,
		target:   target,
		f:        f,
		infoOnly: true,
		pending:  make(map[string]pendingInfo),
	}
	r.sessions[target.String()] = s

	item := &Item{JID: target, Node: node}
	s.items = []*Item{item}
	s.remaining = 1
	if err := s.queryInfo(item); err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

// HandleIQ satisfies mux.IQHandler.
// It claims result and error IQs whose IDs belong to an in-flight walk
// and passes everything else on.
func (r *Registry) HandleIQ(iq stanza.IQ, buf *mux.Buffer) error {
	if iq.Type != stanza.ResultIQ && iq.Type != stanza.ErrorIQ {
		return mux.ErrPass
	}
	for _, s := range r.sessions {
		if iq.ID == s.itemsID && !s.done {
			return s.handleItems(iq, buf)
		}
		if p, ok := s.pending[iq.ID]; ok {
			return s.handleInfo(iq, buf, p)
		}
	}
	return mux.ErrPass
}

func (s *Session) handleItems(iq stanza.IQ, buf *mux.Buffer) error {
	s.itemsTimer.Stop()

	if iq.Type == stanza.ErrorIQ {
		var stanzaErr struct {
			Error stanza.Error `xml:"error"`
		}
		_ = buf.Decode(&stanzaErr)
		err := &Error{Code: stanzaErr.Error.Code, Message: codeMessage(stanzaErr.Error.Code)}
		s.lastErr = err
		s.f(nil, true, false, err)
		s.destroy()
		return nil
	}

	var res itemsResult
	if err := buf.Decode(&res); err != nil {
		return err
	}
	if len(res.Query.Items) == 0 {
		s.f(nil, true, false, nil)
		s.destroy()
		return nil
	}

	s.remaining = len(res.Query.Items)
	var skipped []*Item
	for _, raw := range res.Query.Items {
		item := &Item{JID: raw.JID, Node: raw.Node, Name: raw.Name}
		s.items = append(s.items, item)
		if s.reg.skip(item.JID) {
			skipped = append(skipped, item)
			continue
		}
		if err := s.queryInfo(item); err != nil {
			skipped = append(skipped, item)
		}
	}
	for _, item := range skipped {
		s.finishItem(item, false)
	}
	return nil
}

func (s *Session) queryInfo(item *Item) error {
	id := attr.RandomID()
	timer := s.reg.clock.AfterFunc(infoTimeout, func() { s.infoTimedOut(id) })
	s.pending[id] = pendingInfo{item: item, timer: timer}

	iq := stanza.IQ{ID: id, To: item.JID, Type: stanza.GetIQ}
	err := s.reg.s.Send(s.ctx, iq.Wrap(queryPayload(NSInfo, item.Node)))
	if err != nil {
		timer.Stop()
		delete(s.pending, id)
	}
	return err
}

func (s *Session) handleInfo(iq stanza.IQ, buf *mux.Buffer, p pendingInfo) error {
	p.timer.Stop()
	delete(s.pending, iq.ID)

	if iq.Type == stanza.ResultIQ {
		var res infoResult
		if err := buf.Decode(&res); err == nil {
			p.item.Identities = res.Query.Identities
			for _, f := range res.Query.Features {
				p.item.Features = append(p.item.Features, f.Var)
			}
			p.item.Forms = res.Query.Forms
			p.item.Resolved = true
		}
	}
	s.finishItem(p.item, false)
	return nil
}

func (s *Session) itemsTimedOut() {
	if s.done {
		return
	}
	err := &Error{Code: 504, Message: codeMessage(504)}
	s.lastErr = err
	s.f(nil, true, true, err)
	s.destroy()
}

func (s *Session) infoTimedOut(id string) {
	p, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	p.item.TimedOut = true
	s.finishItem(p.item, true)
}

// finishItem decrements the remaining count, reports the item, and
// destroys the walk when nothing is left outstanding.
func (s *Session) finishItem(item *Item, timedOut bool) {
	s.remaining--
	last := s.remaining == 0
	s.f(item, last, timedOut, nil)
	if last && !s.infoOnly {
		s.destroy()
	}
}

func (s *Session) destroy() {
	if s.done {
		return
	}
	s.done = true
	if s.itemsTimer != nil {
		s.itemsTimer.Stop()
	}
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	delete(s.reg.sessions, s.target.String())
}
