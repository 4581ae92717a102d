// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements a stanza multiplexer.
//
// Unlike an HTTP style mux that picks a single best handler, a ServeMux
// runs an ordered chain of handlers for each stanza kind.
// Handlers are tried from the highest priority down; a handler that
// does not recognize a stanza returns ErrPass to yield it to the next
// handler, and any other return consumes the stanza and stops the
// chain.
// This lets the chatroom manager claim room-addressed traffic ahead of
// the generic one-to-one handlers without either knowing about the
// other.
package mux

import (
	"errors"
	"sort"

	"github.com/hallski/gossip-sub001/stanza"
)

// ErrPass is returned by a handler to signal that it does not handle
// the stanza and later handlers in the chain should see it.
// ServeMux returns ErrPass itself when no handler consumed the stanza.
var ErrPass = errors.New("mux: stanza not handled")

// Handler priorities used by the session engine.
// Any int is a valid priority; these just document the conventional
// bands.
const (
	PriorityFirst  = 100
	PriorityNormal = 0
	PriorityLast   = -100
)

// MessageHandler responds to message stanzas.
type MessageHandler interface {
	HandleMessage(msg stanza.Message, buf *Buffer) error
}

// MessageHandlerFunc adapts a function to a MessageHandler.
type MessageHandlerFunc func(msg stanza.Message, buf *Buffer) error

// HandleMessage calls f(msg, buf).
func (f MessageHandlerFunc) HandleMessage(msg stanza.Message, buf *Buffer) error {
	return f(msg, buf)
}

// PresenceHandler responds to presence stanzas.
type PresenceHandler interface {
	HandlePresence(p stanza.Presence, buf *Buffer) error
}

// PresenceHandlerFunc adapts a function to a PresenceHandler.
type PresenceHandlerFunc func(p stanza.Presence, buf *Buffer) error

// HandlePresence calls f(p, buf).
func (f PresenceHandlerFunc) HandlePresence(p stanza.Presence, buf *Buffer) error {
	return f(p, buf)
}

// IQHandler responds to IQ stanzas.
type IQHandler interface {
	HandleIQ(iq stanza.IQ, buf *Buffer) error
}

// IQHandlerFunc adapts a function to an IQHandler.
type IQHandlerFunc func(iq stanza.IQ, buf *Buffer) error

// HandleIQ calls f(iq, buf).
func (f IQHandlerFunc) HandleIQ(iq stanza.IQ, buf *Buffer) error {
	return f(iq, buf)
}

type messageEntry struct {
	prio int
	seq  int
	h    MessageHandler
}

type presenceEntry struct {
	prio int
	seq  int
	h    PresenceHandler
}

type iqEntry struct {
	prio int
	seq  int
	h    IQHandler
}

// ServeMux dispatches each incoming stanza through the handler chain
// for its kind.
type ServeMux struct {
	seq       int
	messages  []messageEntry
	presences []presenceEntry
	iqs       []iqEntry
}

// New allocates a ServeMux and applies the provided options.
func New(opt ...Option) *ServeMux {
	m := &ServeMux{}
	for _, o := range opt {
		o(m)
	}
	return m
}

// Option configures a ServeMux.
type Option func(*ServeMux)

// Message registers a message handler at the given priority.
// Handlers at the same priority run in registration order.
func Message(prio int, h MessageHandler) Option {
	return func(m *ServeMux) {
		m.seq++
		m.messages = append(m.messages, messageEntry{prio: prio, seq: m.seq, h: h})
		sort.SliceStable(m.messages, func(i, j int) bool {
			if m.messages[i].prio != m.messages[j].prio {
				return m.messages[i].prio > m.messages[j].prio
			}
			return m.messages[i].seq < m.messages[j].seq
		})
	}
}

// MessageFunc is like Message but accepts a plain function.
func MessageFunc(prio int, f MessageHandlerFunc) Option {
	return Message(prio, f)
}

// Presence registers a presence handler at the given priority.
func Presence(prio int, h PresenceHandler) Option {
	return func(m *ServeMux) {
		m.seq++
		m.presences = append(m.presences, presenceEntry{prio: prio, seq: m.seq, h: h})
		sort.SliceStable(m.presences, func(i, j int) bool {
			if m.presences[i].prio != m.presences[j].prio {
				return m.presences[i].prio > m.presences[j].prio
			}
			return m.presences[i].seq < m.presences[j].seq
		})
	}
}

// PresenceFunc is like Presence but accepts a plain function.
func PresenceFunc(prio int, f PresenceHandlerFunc) Option {
	return Presence(prio, f)
}

// IQ registers an IQ handler at the given priority.
func IQ(prio int, h IQHandler) Option {
	return func(m *ServeMux) {
		m.seq++
		m.iqs = append(m.iqs, iqEntry{prio: prio, seq: m.seq, h: h})
		sort.SliceStable(m.iqs, func(i, j int) bool {
			if m.iqs[i].prio != m.iqs[j].prio {
				return m.iqs[i].prio > m.iqs[j].prio
			}
			return m.iqs[i].seq < m.iqs[j].seq
		})
	}
}

// IQFunc is like IQ but accepts a plain function.
func IQFunc(prio int, f IQHandlerFunc) Option {
	return IQ(prio, f)
}

// HandleMessage runs the message chain.
// It returns ErrPass if no handler consumed the stanza.
func (m *ServeMux) HandleMessage(msg stanza.Message, buf *Buffer) error {
	for _, e := range m.messages {
		err := e.h.HandleMessage(msg, buf)
		if !errors.Is(err, ErrPass) {
			return err
		}
	}
	return ErrPass
}

// HandlePresence runs the presence chain.
// It returns ErrPass if no handler consumed the stanza.
func (m *ServeMux) HandlePresence(p stanza.Presence, buf *Buffer) error {
	for _, e := range m.presences {
		err := e.h.HandlePresence(p, buf)
		if !errors.Is(err, ErrPass) {
			return err
		}
	}
	return ErrPass
}

// HandleIQ runs the IQ chain.
// It returns ErrPass if no handler consumed the stanza; for get and set
// IQs the caller is expected to reply with a service-unavailable error
// in that case.
func (m *ServeMux) HandleIQ(iq stanza.IQ, buf *Buffer) error {
	for _, e := range m.iqs {
		err := e.h.HandleIQ(iq, buf)
		if !errors.Is(err, ErrPass) {
			return err
		}
	}
	return ErrPass
}
