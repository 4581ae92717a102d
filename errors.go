// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package gossip

// Error is a session-level failure reported to login and send callers.
type Error int

const (
	// ErrNoConnection is returned when an operation requires an open
	// stream and there is none.
	ErrNoConnection Error = iota

	// ErrNoSuchHost means the server address did not resolve.
	ErrNoSuchHost

	// ErrTimedOut means the connection attempt outlived its timeout.
	ErrTimedOut

	// ErrAuthFailed means the server rejected the credentials.
	ErrAuthFailed

	// ErrDuplicateUser means the requested account already exists.
	ErrDuplicateUser

	// ErrInvalidUser means the account name was rejected.
	ErrInvalidUser

	// ErrUnavailable means the server or a required service is not
	// available.
	ErrUnavailable

	// ErrUnauthorized means the server refused the operation.
	ErrUnauthorized

	// ErrNoPassword means the account has no password configured.
	ErrNoPassword

	// ErrSpecificError covers failures with no more precise mapping.
	ErrSpecificError
)

// Error satisfies the error interface.
func (e Error) Error() string {
	switch e {
	case ErrNoConnection:
		return "gossip: no connection"
	case ErrNoSuchHost:
		return "gossip: no such host"
	case ErrTimedOut:
		return "gossip: connection timed out"
	case ErrAuthFailed:
		return "gossip: authentication failed"
	case ErrDuplicateUser:
		return "gossip: user already exists"
	case ErrInvalidUser:
		return "gossip: invalid user name"
	case ErrUnavailable:
		return "gossip: service unavailable"
	case ErrUnauthorized:
		return "gossip: not authorized"
	case ErrNoPassword:
		return "gossip: no password provided"
	}
	return "gossip: unspecified error"
}
