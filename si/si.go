// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package si implements file transfer over stream initiation.
//
// The Manager negotiates offers in both directions and correlates
// every reply back to its transfer: by the stanza id of the in-flight
// IQ for our own requests, and by the (peer, stream id) pair for
// stanzas the peer initiates, such as streamhost candidates and
// in-band data.
// The bytes themselves move through a DataStream implementation; the
// manager only speaks the negotiation and in-band protocols.
package si

import (
	"context"
	"encoding/xml"
	"mime"
	"os"
	"path/filepath"

	"github.com/hallski/gossip-sub001/internal/attr"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/stanza"

	gossip "github.com/hallski/gossip-sub001"
)

// ID identifies one Transfer within its Manager.
type ID uint

// Direction tells which side of a transfer we are on.
type Direction int

const (
	Sending Direction = iota
	Receiving
)

// String satisfies fmt.Stringer.
func (d Direction) String() string {
	if d == Receiving {
		return "receiving"
	}
	return "sending"
}

// State is the lifecycle state of a transfer.
type State int

const (
	// StateNegotiating covers everything from the offer to the
	// negotiated stream method.
	StateNegotiating State = iota
	// StateConnecting means the stream method was agreed and hosts are
	// being tried.
	StateConnecting
	// StateActive means bytes are moving.
	StateActive
	// StateDone means the transfer finished successfully.
	StateDone
	// StateFailed is terminal for declined, errored, and canceled
	// transfers.
	StateFailed
)

// Error is a file transfer failure.
type Error int

const (
	// ErrUnknown covers failures with no more precise mapping.
	ErrUnknown Error = iota
	// ErrDeclined means the peer refused the offer.
	ErrDeclined
	// ErrUnsupported means the peer cannot do stream initiation or
	// offered no usable stream method.
	ErrUnsupported
	// ErrCanceled means the local side aborted the transfer.
	ErrCanceled
	// ErrDisconnected means the peer dropped the stream connection.
	ErrDisconnected
	// ErrConnect means no candidate streamhost could be reached.
	ErrConnect
	// ErrStream means the negotiated stream broke while transferring.
	ErrStream
)

// Error satisfies the error interface.
func (e Error) Error() string {
	switch e {
	case ErrDeclined:
		return "si: offer declined"
	case ErrUnsupported:
		return "si: transfer not supported by peer"
	case ErrCanceled:
		return "si: transfer canceled"
	case ErrDisconnected:
		return "si: peer disconnected"
	case ErrConnect:
		return "si: could not connect to any streamhost"
	case ErrStream:
		return "si: stream failed"
	}
	return "si: unknown file transfer error"
}

// codeError maps a legacy numeric stanza error code to an Error.
func codeError(code int) Error {
	switch code {
	case 400:
		return ErrUnsupported
	case 403:
		return ErrDeclined
	}
	return ErrUnknown
}

// File describes the payload of a transfer.
type File struct {
	Name     string
	Size     uint64
	Desc     string
	MIMEType string
	// Path is the local file backing the transfer, when there is one.
	Path string
}

// FileFromPath describes a local file for offering.
func FileFromPath(path string) (File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	return File{
		Name:     filepath.Base(path),
		Size:     uint64(fi.Size()),
		MIMEType: mime.TypeByExtension(filepath.Ext(path)),
		Path:     path,
	}, nil
}

// DataStream moves the bytes of a transfer once negotiation settles on
// the bytestreams method.
// Implementations report progress back through the manager's
// Initiated, Progress, Complete, and Failed bridge methods.
type DataStream interface {
	// PrepareSend readies the local file for reading.
	PrepareSend(t *Transfer) error
	// PrepareReceive readies the local destination for writing.
	PrepareReceive(t *Transfer) error
	// Listen starts local stream hosts for an outgoing transfer and
	// returns the candidates to offer.
	Listen(t *Transfer) ([]StreamHost, error)
	// AddHost tries one remote stream host candidate.
	AddHost(t *Transfer, h StreamHost) error
	// Activate starts moving bytes through the host the receiver chose.
	Activate(t *Transfer, host jid.JID) error
	// Drop aborts all stream activity for the transfer.
	Drop(t *Transfer)
}

// Transfer is a single file transfer in either direction.
type Transfer struct {
	m    *Manager
	id   ID
	sid  string
	peer jid.JID
	dir  Direction
	st   State
	file File

	// method is the negotiated stream method namespace.
	method string
	// reqID is the stanza id of our in-flight negotiation IQ.
	reqID string
	// hostsID is the stanza id of the peer's streamhost offer, held so
	// the streamhost-used result can be sent once a host connects.
	hostsID     string
	hostsFrom   jid.JID
	transferred uint64
	ibbSeq      uint16
	// offered holds the stream methods from an incoming offer, in the
	// order the peer listed them.
	offered []string
}

// ID returns the manager-local transfer identifier.
func (t *Transfer) ID() ID { return t.id }

// SID returns the stream id shared with the peer.
func (t *Transfer) SID() string { return t.sid }

// Peer returns the remote party.
func (t *Transfer) Peer() jid.JID { return t.peer }

// Direction tells which side of the transfer we are on.
func (t *Transfer) Direction() Direction { return t.dir }

// State returns the transfer's lifecycle state.
func (t *Transfer) State() State { return t.st }

// File describes the payload.
func (t *Transfer) File() File { return t.file }

// Transferred returns the byte count moved so far.
func (t *Transfer) Transferred() uint64 { return t.transferred }

type sidKey struct {
	addr string
	sid  string
}

// Manager negotiates file transfers on one session.
type Manager struct {
	s      *gossip.Session
	stream DataStream
	sids   *attr.Serial

	nextID   ID
	byID     map[ID]*Transfer
	byStanza map[string]ID
	bySID    map[sidKey]ID

	// HandleRequest is called when a peer offers us a file.
	// The owner answers with Accept or Decline.
	HandleRequest func(*Transfer)
	// HandleInitiated is called when bytes start moving.
	HandleInitiated func(*Transfer)
	// HandleProgress is called as the transferred byte count grows.
	HandleProgress func(*Transfer, uint64)
	// HandleComplete is called when a transfer finishes.
	HandleComplete func(*Transfer)
	// HandleData is called with each received chunk of an in-band
	// transfer.
	HandleData func(*Transfer, []byte)
	// HandleError is called when a transfer fails.
	HandleError func(*Transfer, Error)
}

// NewManager creates a file transfer manager bound to the session.
// All pending transfers are dropped when the session disconnects.
func NewManager(s *gossip.Session, stream DataStream) *Manager {
	m := &Manager{
		s:        s,
		stream:   stream,
		sids:     attr.NewSerial("gossip-sid-"),
		byID:     make(map[ID]*Transfer),
		byStanza: make(map[string]ID),
		bySID:    make(map[sidKey]ID),
	}
	s.OnDisconnect(m.dropAll)
	return m
}

// HandleManager returns an option that registers the manager's IQ
// handler.
func HandleManager(m *Manager) mux.Option {
	return mux.IQ(mux.PriorityNormal, m)
}

// Transfer returns the transfer with the given ID.
func (m *Manager) Transfer(id ID) (*Transfer, bool) {
	t, ok := m.byID[id]
	return t, ok
}

func (m *Manager) key(peer jid.JID, sid string) sidKey {
	return sidKey{addr: peer.Bare().String(), sid: sid}
}

// Send offers a local file to a peer.
// The transfer is reported through the manager's callbacks from here
// on: HandleInitiated when the peer accepts and bytes start moving,
// HandleError if it declines or negotiation fails.
func (m *Manager) Send(ctx context.Context, to jid.JID, file File) (*Transfer, error) {
	m.nextID++
	t := &Transfer{
		m:    m,
		id:   m.nextID,
		sid:  m.sids.Next(),
		peer: to,
		dir:  Sending,
		st:   StateNegotiating,
		file: file,
	}
	t.reqID = attr.RandomID()

	iq := stanza.IQ{ID: t.reqID, To: to, Type: stanza.SetIQ}
	if err := m.s.Send(ctx, iq.Wrap(offerTokenReader(t.sid, file))); err != nil {
		return nil, err
	}
	m.insert(t)
	return t, nil
}

// Accept agrees to an incoming offer and readies the local
// destination.
// Bytestreams is preferred; in-band is used when it is the only method
// the peer offered.
func (m *Manager) Accept(ctx context.Context, id ID) error {
	t, ok := m.byID[id]
	if !ok || t.dir != Receiving || t.st != StateNegotiating {
		return ErrUnknown
	}
	method := ""
	for _, o := range t.offered {
		if o == NSBytestreams {
			method = NSBytestreams
			break
		}
		if o == NSIBB && method == "" {
			method = NSIBB
		}
	}
	if method == "" {
		m.fail(t, ErrUnsupported)
		return ErrUnsupported
	}
	if err := m.stream.PrepareReceive(t); err != nil {
		m.fail(t, ErrStream)
		return err
	}
	reply := stanza.IQ{ID: t.reqID, To: t.peer, Type: stanza.ResultIQ}
	if err := m.s.Send(ctx, reply.Wrap(acceptTokenReader(method))); err != nil {
		return err
	}
	t.st = StateConnecting
	t.method = method
	return nil
}

// Decline refuses an incoming offer.
func (m *Manager) Decline(ctx context.Context, id ID) error {
	t, ok := m.byID[id]
	if !ok || t.dir != Receiving || t.st != StateNegotiating {
		return ErrUnknown
	}
	reply := stanza.IQ{ID: t.reqID, To: t.peer, Type: stanza.ErrorIQ}
	err := m.s.Send(ctx, reply.Wrap(stanza.Error{
		Type:      stanza.Cancel,
		Code:      403,
		Condition: stanza.Forbidden,
		Text:      "Offer Declined",
	}.TokenReader()))
	m.remove(t)
	return err
}

// Cancel aborts a transfer in any state.
func (m *Manager) Cancel(ctx context.Context, id ID) {
	t, ok := m.byID[id]
	if !ok {
		return
	}
	if t.method == NSIBB && t.st == StateActive {
		iq := stanza.IQ{ID: attr.RandomID(), To: t.peer, Type: stanza.SetIQ}
		_ = m.s.Send(ctx, iq.Wrap(closePayload(t.sid)))
	}
	m.stream.Drop(t)
	t.st = StateFailed
	m.remove(t)
}

func (m *Manager) dropAll() {
	ids := make([]ID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if t, ok := m.byID[id]; ok {
			m.stream.Drop(t)
			t.st = StateFailed
			m.remove(t)
		}
	}
}

// Initiated is called by the data stream when bytes start moving.
func (m *Manager) Initiated(t *Transfer) {
	t.st = StateActive
	if m.HandleInitiated != nil {
		m.HandleInitiated(t)
	}
}

// Progress is called by the data stream as bytes move.
func (m *Manager) Progress(t *Transfer, n uint64) {
	t.transferred += n
	if m.HandleProgress != nil {
		m.HandleProgress(t, t.transferred)
	}
}

// Complete is called by the data stream when the last byte lands.
func (m *Manager) Complete(t *Transfer) {
	t.st = StateDone
	if m.HandleComplete != nil {
		m.HandleComplete(t)
	}
	m.remove(t)
}

// Failed is called by the data stream when the stream breaks. The
// stream reports what it knows about the failure: ErrDisconnected,
// ErrConnect, or ErrStream when the cause is unclear.
func (m *Manager) Failed(t *Transfer, e Error) {
	m.fail(t, e)
}

func (m *Manager) fail(t *Transfer, e Error) {
	m.stream.Drop(t)
	t.st = StateFailed
	if m.HandleError != nil {
		m.HandleError(t, e)
	}
	m.remove(t)
}

func (m *Manager) insert(t *Transfer) {
	m.byID[t.id] = t
	if t.reqID != "" {
		m.byStanza[t.reqID] = t.id
	}
	m.bySID[m.key(t.peer, t.sid)] = t.id
}

// remove drops the transfer from every index by value, so that a table
// rebound to a newer transfer under the same key is left alone.
func (m *Manager) remove(t *Transfer) {
	if cur, ok := m.byID[t.id]; ok && cur == t {
		delete(m.byID, t.id)
	}
	for k, id := range m.byStanza {
		if id == t.id {
			delete(m.byStanza, k)
		}
	}
	for k, id := range m.bySID {
		if id == t.id {
			delete(m.bySID, k)
		}
	}
}

// HandleIQ satisfies mux.IQHandler.
// It claims stream initiation offers, bytestreams negotiation, in-band
// data addressed to a known stream, and replies correlated to our own
// requests.
func (m *Manager) HandleIQ(iq stanza.IQ, buf *mux.Buffer) error {
	switch iq.Type {
	case stanza.SetIQ:
		switch {
		case buf.Child(xml.Name{Space: NS, Local: "si"}):
			return m.handleOffer(iq, buf)
		case buf.Child(xml.Name{Space: NSBytestreams, Local: "query"}):
			return m.handleHosts(iq, buf)
		case buf.Child(xml.Name{Space: NSIBB, Local: "open"}),
			buf.Child(xml.Name{Space: NSIBB, Local: "data"}),
			buf.Child(xml.Name{Space: NSIBB, Local: "close"}):
			return m.handleIBB(iq, buf)
		}
	case stanza.ResultIQ, stanza.ErrorIQ:
		id, ok := m.byStanza[iq.ID]
		if !ok {
			return mux.ErrPass
		}
		t, ok := m.byID[id]
		if !ok {
			return mux.ErrPass
		}
		delete(m.byStanza, iq.ID)
		return m.handleReply(t, iq, buf)
	}
	return mux.ErrPass
}

// handleOffer processes an incoming stream initiation offer.
func (m *Manager) handleOffer(iq stanza.IQ, buf *mux.Buffer) error {
	var decoded struct {
		SI siPayload `xml:"http://jabber.org/protocol/si si"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	si := decoded.SI
	if si.Profile != NSFileProfile || si.File == nil {
		return m.s.Send(context.Background(), iq.Err(stanza.Error{
			Type:      stanza.Cancel,
			Code:      400,
			Condition: stanza.BadRequest,
		}))
	}

	m.nextID++
	t := &Transfer{
		m:    m,
		id:   m.nextID,
		sid:  si.SID,
		peer: iq.From,
		dir:  Receiving,
		st:   StateNegotiating,
		file: File{
			Name:     si.File.Name,
			Size:     si.File.Size,
			Desc:     si.File.Desc,
			MIMEType: si.MIMEType,
		},
		reqID: iq.ID,
	}
	for _, f := range si.Feature.Form.Fields {
		if f.Var != streamMethodVar {
			continue
		}
		for _, o := range f.Options {
			t.offered = append(t.offered, o.Value)
		}
		t.offered = append(t.offered, f.Values...)
	}
	m.byID[t.id] = t
	m.bySID[m.key(t.peer, t.sid)] = t.id

	if m.HandleRequest != nil {
		m.HandleRequest(t)
	}
	return nil
}

// handleHosts processes the peer's streamhost candidates for a stream
// we are receiving.
func (m *Manager) handleHosts(iq stanza.IQ, buf *mux.Buffer) error {
	var decoded struct {
		Query bytestreamsQuery `xml:"http://jabber.org/protocol/bytestreams query"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	id, ok := m.bySID[m.key(iq.From, decoded.Query.SID)]
	if !ok {
		return mux.ErrPass
	}
	t := m.byID[id]
	t.hostsID = iq.ID
	t.hostsFrom = iq.From
	for _, h := range decoded.Query.Hosts {
		if err := m.stream.AddHost(t, StreamHost{JID: h.JID, Host: h.Host, Port: h.Port}); err != nil {
			m.fail(t, ErrStream)
			return nil
		}
	}
	return nil
}

// Connected is called by the data stream when, as receiver, it
// establishes a connection to one of the offered hosts.
// It answers the pending streamhost offer with streamhost-used.
func (m *Manager) Connected(ctx context.Context, t *Transfer, host jid.JID) error {
	if t.hostsID == "" {
		return ErrUnknown
	}
	reply := stanza.IQ{ID: t.hostsID, To: t.hostsFrom, Type: stanza.ResultIQ}
	t.hostsID = ""
	return m.s.Send(ctx, reply.Wrap(hostUsedTokenReader(t.sid, host)))
}

// handleReply resolves a result or error for one of our own requests:
// the initial offer or the streamhost candidates.
func (m *Manager) handleReply(t *Transfer, iq stanza.IQ, buf *mux.Buffer) error {
	if iq.Type == stanza.ErrorIQ {
		var decoded struct {
			Error stanza.Error `xml:"error"`
		}
		if err := buf.Decode(&decoded); err != nil {
			return err
		}
		m.fail(t, codeError(decoded.Error.Code))
		return nil
	}

	switch t.st {
	case StateNegotiating:
		return m.offerAccepted(t, buf)
	case StateConnecting:
		return m.hostChosen(t, buf)
	}
	return nil
}

// offerAccepted processes the peer's stream method selection for a
// file we offered.
func (m *Manager) offerAccepted(t *Transfer, buf *mux.Buffer) error {
	var decoded struct {
		SI siPayload `xml:"http://jabber.org/protocol/si si"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	ctx := context.Background()
	switch decoded.SI.method() {
	case NSBytestreams:
		t.method = NSBytestreams
		if err := m.stream.PrepareSend(t); err != nil {
			m.fail(t, ErrStream)
			return nil
		}
		hosts, err := m.stream.Listen(t)
		if err != nil || len(hosts) == 0 {
			m.fail(t, ErrStream)
			return nil
		}
		t.st = StateConnecting
		t.reqID = attr.RandomID()
		m.byStanza[t.reqID] = t.id
		iq := stanza.IQ{ID: t.reqID, To: t.peer, Type: stanza.SetIQ}
		return m.s.Send(ctx, iq.Wrap(hostsTokenReader(t.sid, hosts)))
	case NSIBB:
		t.method = NSIBB
		if err := m.stream.PrepareSend(t); err != nil {
			m.fail(t, ErrStream)
			return nil
		}
		t.st = StateConnecting
		t.reqID = attr.RandomID()
		m.byStanza[t.reqID] = t.id
		iq := stanza.IQ{ID: t.reqID, To: t.peer, Type: stanza.SetIQ}
		return m.s.Send(ctx, iq.Wrap(openPayload(t.sid, blockSize)))
	}
	m.fail(t, ErrUnsupported)
	return nil
}

// hostChosen processes the receiver's streamhost-used result (or, for
// in-band transfers, the acknowledged open) and starts moving bytes.
func (m *Manager) hostChosen(t *Transfer, buf *mux.Buffer) error {
	if t.method == NSIBB {
		m.Initiated(t)
		return nil
	}
	var decoded struct {
		Query bytestreamsQuery `xml:"http://jabber.org/protocol/bytestreams query"`
	}
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	if decoded.Query.Used == nil {
		m.fail(t, ErrStream)
		return nil
	}
	if err := m.stream.Activate(t, decoded.Query.Used.JID); err != nil {
		m.fail(t, ErrStream)
		return nil
	}
	return nil
}
