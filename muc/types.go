// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package muc

import (
	"encoding/xml"
	"errors"
)

// Status is the lifecycle state of a Room.
type Status uint8

// Room lifecycle states.
// A room moves from joining to active and finally inactive, or to the
// error state when the join handshake fails.
const (
	StatusInactive Status = iota
	StatusJoining
	StatusActive
	StatusError
)

// String satisfies fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusJoining:
		return "joining"
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Affiliation indicates a user's long-lived association with a room.
type Affiliation uint8

// A list of room affiliations.
const (
	AffiliationNone Affiliation = iota
	AffiliationOutcast
	AffiliationMember
	AffiliationAdmin
	AffiliationOwner
)

// String satisfies fmt.Stringer.
func (a Affiliation) String() string {
	switch a {
	case AffiliationOutcast:
		return "outcast"
	case AffiliationMember:
		return "member"
	case AffiliationAdmin:
		return "admin"
	case AffiliationOwner:
		return "owner"
	}
	return "none"
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (a *Affiliation) UnmarshalXMLAttr(attr xml.Attr) error {
	switch attr.Value {
	case "none":
		*a = AffiliationNone
	case "outcast":
		*a = AffiliationOutcast
	case "member":
		*a = AffiliationMember
	case "admin":
		*a = AffiliationAdmin
	case "owner":
		*a = AffiliationOwner
	default:
		return errors.New("muc: unrecognized affiliation")
	}
	return nil
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
func (a Affiliation) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: a.String()}, nil
}

// Role indicates a user's in-room privileges for the current visit.
type Role uint8

// A list of user roles.
const (
	RoleNone Role = iota
	RoleVisitor
	RoleParticipant
	RoleModerator
)

// String satisfies fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleVisitor:
		return "visitor"
	case RoleParticipant:
		return "participant"
	case RoleModerator:
		return "moderator"
	}
	return "none"
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (r *Role) UnmarshalXMLAttr(attr xml.Attr) error {
	switch attr.Value {
	case "none":
		*r = RoleNone
	case "visitor":
		*r = RoleVisitor
	case "participant":
		*r = RoleParticipant
	case "moderator":
		*r = RoleModerator
	default:
		return errors.New("muc: unrecognized role")
	}
	return nil
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
func (r Role) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: r.String()}, nil
}

// Error is a closed enumeration of chatroom failures.
type Error uint8

// Chatroom errors.
const (
	ErrUnknown Error = iota
	ErrPasswordInvalidOrMissing
	ErrUserBanned
	ErrRoomNotFound
	ErrRoomCreationRestricted
	ErrUseReservedRoomNick
	ErrNotOnMembersList
	ErrNickInUse
	ErrMaximumUsersReached
	ErrAlreadyOpen
	ErrCanceled
	ErrTimedOut
)

// Error satisfies the error interface.
func (e Error) Error() string {
	switch e {
	case ErrPasswordInvalidOrMissing:
		return "muc: password invalid or missing"
	case ErrUserBanned:
		return "muc: user banned from room"
	case ErrRoomNotFound:
		return "muc: room not found"
	case ErrRoomCreationRestricted:
		return "muc: room creation restricted"
	case ErrUseReservedRoomNick:
		return "muc: must use the reserved room nick"
	case ErrNotOnMembersList:
		return "muc: not on the member list"
	case ErrNickInUse:
		return "muc: nick already in use"
	case ErrMaximumUsersReached:
		return "muc: maximum number of users reached"
	case ErrAlreadyOpen:
		return "muc: room already open"
	case ErrCanceled:
		return "muc: join canceled"
	case ErrTimedOut:
		return "muc: join timed out"
	}
	return "muc: unknown error"
}

// codeError maps the numeric code of an error stanza to a chatroom
// error.
// 502 and 504 are legacy codes still sent by some services.
func codeError(code int) Error {
	switch code {
	case 401:
		return ErrPasswordInvalidOrMissing
	case 403:
		return ErrUserBanned
	case 404:
		return ErrRoomNotFound
	case 405:
		return ErrRoomCreationRestricted
	case 406:
		return ErrUseReservedRoomNick
	case 407:
		return ErrNotOnMembersList
	case 409:
		return ErrNickInUse
	case 503:
		return ErrMaximumUsersReached
	case 502:
		return ErrRoomNotFound
	case 504:
		return ErrTimedOut
	}
	return ErrUnknown
}
