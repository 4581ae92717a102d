// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements XMPP addresses (historically, Jabber IDs).
//
// An address has the form localpart@domainpart/resourcepart where the
// localpart and resourcepart are optional.
// Two equality classes matter to the session engine: full equality
// (including the resource) and bare equality (localpart and domain
// only); see Equal and Bare.
package jid

import (
	"encoding/xml"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned while constructing an address.
var (
	ErrNoDomain     = errors.New("jid: domainpart must not be empty")
	ErrInvalidUTF8  = errors.New("jid: address is not valid UTF-8")
	ErrLongPart     = errors.New("jid: part is longer than 1023 bytes")
	ErrEmptyPart    = errors.New("jid: localpart or resourcepart is empty")
	ErrInvalidLocal = errors.New("jid: localpart contains forbidden characters")
)

// JID is an immutable XMPP address.
// The zero value is a valid, empty address.
type JID struct {
	local    string
	domain   string
	resource string
}

// New constructs an address from its three parts.
// The localpart is case-folded and canonicalized, the domainpart is
// converted to its Unicode lookup form, and the resourcepart is kept
// best-effort as-is (it carries things like chatroom nicknames, which
// are matched byte-for-byte).
func New(local, domain, resource string) (JID, error) {
	if domain == "" {
		return JID{}, ErrNoDomain
	}
	if !utf8.ValidString(local) || !utf8.ValidString(domain) || !utf8.ValidString(resource) {
		return JID{}, ErrInvalidUTF8
	}

	domain, err := idna.ToUnicode(domain)
	if err != nil {
		return JID{}, err
	}
	if local != "" {
		local, err = precis.UsernameCaseMapped.String(local)
		if err != nil {
			return JID{}, ErrInvalidLocal
		}
	}
	for _, part := range []string{local, domain, resource} {
		if len(part) > 1023 {
			return JID{}, ErrLongPart
		}
	}
	return JID{local: local, domain: domain, resource: resource}, nil
}

// Parse constructs an address from its string representation.
func Parse(s string) (JID, error) {
	local, domain, resource, err := split(s)
	if err != nil {
		return JID{}, err
	}
	return New(local, domain, resource)
}

// MustParse is like Parse but panics if the address cannot be parsed.
// It simplifies safe initialization of addresses from known-good
// constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(`jid: MustParse(` + s + `): ` + err.Error())
	}
	return j
}

func split(s string) (local, domain, resource string, err error) {
	domain = s
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		resource = domain[i+1:]
		domain = domain[:i]
		if resource == "" {
			return "", "", "", ErrEmptyPart
		}
	}
	if i := strings.IndexByte(domain, '@'); i >= 0 {
		local = domain[:i]
		domain = domain[i+1:]
		if local == "" {
			return "", "", "", ErrEmptyPart
		}
	}
	return local, domain, resource, nil
}

// Localpart returns the localpart of the address (the part before the @).
func (j JID) Localpart() string { return j.local }

// Domainpart returns the domainpart of the address.
func (j JID) Domainpart() string { return j.domain }

// Resourcepart returns the resourcepart of the address or the empty
// string if the address is bare.
func (j JID) Resourcepart() string { return j.resource }

// Bare returns a copy of the address without its resourcepart.
func (j JID) Bare() JID {
	j.resource = ""
	return j
}

// Zero reports whether the address is the zero value.
func (j JID) Zero() bool {
	return j.local == "" && j.domain == "" && j.resource == ""
}

// Equal reports whether the two addresses are identical, including
// their resourceparts.
// For bare comparison use j.Bare().Equal(other.Bare()).
func (j JID) Equal(other JID) bool {
	return j.local == other.local && j.domain == other.domain && j.resource == other.resource
}

// WithResource returns a copy of the address with the resourcepart
// replaced.
// It is used for chatroom nickname changes where the room address stays
// fixed and only the nick (the resource) moves.
func (j JID) WithResource(resource string) (JID, error) {
	if j.domain == "" {
		return JID{}, ErrNoDomain
	}
	return New(j.local, j.domain, resource)
}

// String returns the canonical string representation of the address.
func (j JID) String() string {
	var b strings.Builder
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
// The zero address marshals to no attribute at all.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.Zero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
