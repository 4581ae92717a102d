// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package si

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"

	"github.com/hallski/gossip-sub001/internal/attr"
	"github.com/hallski/gossip-sub001/mux"
	"github.com/hallski/gossip-sub001/stanza"
)

// blockSize is the chunk size offered when falling back to in-band
// bytestreams.
const blockSize = 1 << 12

func openPayload(sid string, size uint16) xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSIBB, Local: "open"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "block-size"}, Value: strconv.FormatUint(uint64(size), 10)},
			{Name: xml.Name{Local: "sid"}, Value: sid},
		},
	})
}

func closePayload(sid string) xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSIBB, Local: "close"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "sid"}, Value: sid}},
	})
}

func dataPayload(sid string, seq uint16, data []byte) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(base64.StdEncoding.EncodeToString(data))),
		xml.StartElement{
			Name: xml.Name{Space: NSIBB, Local: "data"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "seq"}, Value: strconv.FormatUint(uint64(seq), 10)},
				{Name: xml.Name{Local: "sid"}, Value: sid},
			},
		},
	)
}

// SendData sends one chunk of an in-band transfer.
// It is used by the transfer's owner after HandleInitiated fires for a
// transfer whose negotiated method is in-band.
func (m *Manager) SendData(ctx context.Context, t *Transfer, chunk []byte) error {
	if t.method != NSIBB || t.st != StateActive {
		return ErrUnknown
	}
	seq := t.ibbSeq
	t.ibbSeq++
	iq := stanza.IQ{ID: attr.RandomID(), To: t.peer, Type: stanza.SetIQ}
	if err := m.s.Send(ctx, iq.Wrap(dataPayload(t.sid, seq, chunk))); err != nil {
		return err
	}
	m.Progress(t, uint64(len(chunk)))
	return nil
}

// CloseData finishes an in-band transfer we are sending.
func (m *Manager) CloseData(ctx context.Context, t *Transfer) error {
	if t.method != NSIBB {
		return ErrUnknown
	}
	iq := stanza.IQ{ID: attr.RandomID(), To: t.peer, Type: stanza.SetIQ}
	if err := m.s.Send(ctx, iq.Wrap(closePayload(t.sid))); err != nil {
		return err
	}
	m.Complete(t)
	return nil
}

type ibbPayloads struct {
	Open *struct {
		SID       string `xml:"sid,attr"`
		BlockSize uint16 `xml:"block-size,attr"`
	} `xml:"http://jabber.org/protocol/ibb open"`
	Data *struct {
		SID  string `xml:"sid,attr"`
		Seq  uint16 `xml:"seq,attr"`
		Text string `xml:",chardata"`
	} `xml:"http://jabber.org/protocol/ibb data"`
	Close *struct {
		SID string `xml:"sid,attr"`
	} `xml:"http://jabber.org/protocol/ibb close"`
}

func (p *ibbPayloads) sid() string {
	switch {
	case p.Open != nil:
		return p.Open.SID
	case p.Data != nil:
		return p.Data.SID
	case p.Close != nil:
		return p.Close.SID
	}
	return ""
}

// handleIBB processes in-band open, data, and close stanzas for a
// stream we are receiving.
func (m *Manager) handleIBB(iq stanza.IQ, buf *mux.Buffer) error {
	var decoded ibbPayloads
	if err := buf.Decode(&decoded); err != nil {
		return err
	}
	ctx := context.Background()
	id, ok := m.bySID[m.key(iq.From, decoded.sid())]
	if !ok {
		return m.s.Send(ctx, iq.Err(stanza.Error{
			Type:      stanza.Cancel,
			Condition: stanza.ItemNotFound,
		}))
	}
	t := m.byID[id]

	switch {
	case decoded.Open != nil:
		t.method = NSIBB
		if err := m.s.Send(ctx, iq.Result(nil)); err != nil {
			return err
		}
		m.Initiated(t)
	case decoded.Data != nil:
		raw, err := base64.StdEncoding.DecodeString(decoded.Data.Text)
		if err != nil {
			return m.s.Send(ctx, iq.Err(stanza.Error{
				Type:      stanza.Cancel,
				Condition: stanza.BadRequest,
			}))
		}
		if err := m.s.Send(ctx, iq.Result(nil)); err != nil {
			return err
		}
		m.Progress(t, uint64(len(raw)))
		if m.HandleData != nil {
			m.HandleData(t, raw)
		}
	case decoded.Close != nil:
		if err := m.s.Send(ctx, iq.Result(nil)); err != nil {
			return err
		}
		m.Complete(t)
	}
	return nil
}
