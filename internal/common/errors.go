// Package common defines shared constants and sentinel errors used across
// keyfort components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")

	// ErrUnauthorized is the single opaque authentication failure. A wrong
	// password, a failed envelope unwrap, a stale validity and a tampered
	// salted value all collapse into this value; the distinction lives in
	// the logs only.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied is returned for key operations attempted by a
	// user without the USER permission bit.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCrypto wraps failures of the cryptographic primitives. Callers
	// must abort the enclosing operation, never substitute defaults.
	ErrCrypto = errors.New("crypto error")
)
