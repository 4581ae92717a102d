// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package muc

import (
	"context"
	"strconv"

	"github.com/hallski/gossip-sub001/disco"
	"github.com/hallski/gossip-sub001/jid"
)

// Feature is a bitmask of room properties advertised over service
// discovery.
type Feature uint

const (
	FeatureHidden Feature = 1 << iota
	FeatureMembersOnly
	FeatureModerated
	FeatureNonanonymous
	FeatureOpen
	FeaturePasswordProtected
	FeaturePersistent
	FeaturePublic
	FeatureSemianonymous
	FeatureTemporary
	FeatureUnsecured
)

var featureVars = map[string]Feature{
	"muc_hidden":            FeatureHidden,
	"muc_membersonly":       FeatureMembersOnly,
	"muc_moderated":         FeatureModerated,
	"muc_nonanonymous":      FeatureNonanonymous,
	"muc_open":              FeatureOpen,
	"muc_passwordprotected": FeaturePasswordProtected,
	"muc_persistent":        FeaturePersistent,
	// TODO: "muc_unmoderated" mapping to FeaturePersistent looks wrong
	// (there is no FeatureUnmoderated bit at all) but matches long
	// deployed behavior; fix both together if anything turns out to
	// rely on it.
	"muc_unmoderated":   FeaturePersistent,
	"muc_public":        FeaturePublic,
	"muc_semianonymous": FeatureSemianonymous,
	"muc_temporary":     FeatureTemporary,
	"muc_unsecured":     FeatureUnsecured,
}

// RoomInfo is one room discovered while browsing a chat service.
type RoomInfo struct {
	Chatroom

	Features    Feature
	Description string
	Subject     string
	Occupants   int
}

// Has reports whether every feature in mask is set.
func (ri RoomInfo) Has(mask Feature) bool {
	return ri.Features&mask == mask
}

// BrowseFunc receives rooms discovered by Browse.
// It is called once per room as results arrive and a final time with
// last set; all holds every room collected so far.
type BrowseFunc func(info *RoomInfo, all []RoomInfo, last bool)

// Browse walks the rooms hosted by a chat service.
// Items that time out or fail their info query are skipped.
func (m *Manager) Browse(ctx context.Context, service jid.JID, f BrowseFunc) error {
	var all []RoomInfo
	_, err := m.reg.Request(ctx, service, func(item *disco.Item, last, timedOut bool, err error) {
		if err != nil {
			if f != nil {
				f(nil, all, true)
			}
			return
		}
		var info *RoomInfo
		if item != nil && !timedOut && item.HasIdentity("conference", "") {
			ri := m.roomInfo(item)
			all = append(all, ri)
			info = &all[len(all)-1]
		}
		if f != nil && (info != nil || last) {
			f(info, all, last)
		}
	})
	return err
}

func (m *Manager) roomInfo(item *disco.Item) RoomInfo {
	var ri RoomInfo
	if r, ok := m.byJID[item.JID.Bare().String()]; ok {
		// Already joined or joining this room, so keep the descriptor
		// the user gave us, password included.
		ri.Chatroom = r.chatroom
	} else {
		ri.Chatroom = Chatroom{
			Addr: item.JID.Bare(),
			Name: item.Name,
		}
	}
	if ri.Name == "" {
		ri.Name = item.JID.Localpart()
	}
	for _, v := range item.Features {
		if feat, ok := featureVars[v]; ok {
			ri.Features |= feat
		}
	}
	for _, d := range item.Forms {
		if v, ok := d.Get("muc#roominfo_description"); ok {
			ri.Description = v
		}
		if v, ok := d.Get("muc#roominfo_subject"); ok {
			ri.Subject = v
		}
		if v, ok := d.Get("muc#roominfo_occupants"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				ri.Occupants = n
			}
		}
	}
	return ri
}
