// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package roster

import (
	"time"

	"github.com/hallski/gossip-sub001/internal/clock"
	"github.com/hallski/gossip-sub001/jid"
	"github.com/hallski/gossip-sub001/stanza"
)

// ResourcePresence is the availability of one resource of a contact.
type ResourcePresence struct {
	Address jid.JID
	Avail   stanza.Availability
	Updated time.Time
}

// Presences tracks the simultaneous resource presences of each contact,
// keyed by bare address.
// It picks the "active" resource for one-to-one routing: highest
// priority first, most recently updated as the tie-break.
type Presences struct {
	clock    clock.Clock
	contacts map[string][]ResourcePresence
}

// NewPresences returns an empty presence table.
func NewPresences(c clock.Clock) *Presences {
	if c == nil {
		c = clock.System()
	}
	return &Presences{
		clock:    c,
		contacts: make(map[string][]ResourcePresence),
	}
}

// Update records the availability carried by a presence stanza.
// Unavailable presences remove the resource; removing the last resource
// drops the contact from the table.
func (p *Presences) Update(from jid.JID, typ stanza.PresenceType, avail stanza.Availability) {
	key := from.Bare().String()
	resources := p.contacts[key]

	for i, r := range resources {
		if r.Address.Equal(from) {
			if typ == stanza.UnavailablePresence {
				resources = append(resources[:i], resources[i+1:]...)
				if len(resources) == 0 {
					delete(p.contacts, key)
				} else {
					p.contacts[key] = resources
				}
				return
			}
			resources[i].Avail = avail
			resources[i].Updated = p.clock.Now()
			return
		}
	}
	if typ == stanza.UnavailablePresence {
		return
	}
	p.contacts[key] = append(resources, ResourcePresence{
		Address: from,
		Avail:   avail,
		Updated: p.clock.Now(),
	})
}

// Best returns the full address of the contact's active resource.
// If the contact has no known resource the bare address and false are
// returned.
func (p *Presences) Best(bare jid.JID) (jid.JID, bool) {
	resources := p.contacts[bare.Bare().String()]
	if len(resources) == 0 {
		return bare.Bare(), false
	}
	best := resources[0]
	for _, r := range resources[1:] {
		switch {
		case r.Avail.Priority > best.Avail.Priority:
			best = r
		case r.Avail.Priority == best.Avail.Priority && r.Updated.After(best.Updated):
			best = r
		}
	}
	return best.Address, true
}

// Get returns the availability of the contact's active resource.
func (p *Presences) Get(bare jid.JID) (stanza.Availability, bool) {
	addr, ok := p.Best(bare)
	if !ok {
		return stanza.Availability{}, false
	}
	for _, r := range p.contacts[bare.Bare().String()] {
		if r.Address.Equal(addr) {
			return r.Avail, true
		}
	}
	return stanza.Availability{}, false
}

// Forget drops every resource of the contact.
func (p *Presences) Forget(bare jid.JID) {
	delete(p.contacts, bare.Bare().String())
}

// Clear drops the whole table, for use when the session disconnects.
func (p *Presences) Clear() {
	p.contacts = make(map[string][]ResourcePresence)
}
