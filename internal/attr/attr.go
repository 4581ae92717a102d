// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr generates stanza and stream-initiation identifiers.
package attr

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

// IDLen is the standard length of stanza identifiers in bytes.
const IDLen = 16

// RandomID generates a new random identifier of length IDLen.
// If the OS's entropy pool isn't initialized panic instead of continuing
// with predictable identifiers.
func RandomID() string {
	return RandomLen(IDLen)
}

// RandomLen is like RandomID but the length is configurable.
func RandomLen(n int) string {
	b := make([]byte, (n/2)+(n&1))
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:n]
}

// Serial generates identifiers of the form <prefix><n> with n starting
// at 1 and incrementing for every call.
// Stream-initiation session IDs use this form so that a transfer's SID
// is unique for the lifetime of the process.
type Serial struct {
	prefix string
	n      uint64
}

// NewSerial returns a Serial generator with the given prefix.
func NewSerial(prefix string) *Serial {
	return &Serial{prefix: prefix}
}

// Next returns the next identifier in the sequence.
// It is safe for concurrent use.
func (s *Serial) Next() string {
	return s.prefix + strconv.FormatUint(atomic.AddUint64(&s.n, 1), 10)
}
