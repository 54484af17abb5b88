package types

import "errors"

var (
	// ErrMalformedInput marks input that is missing fields or has the wrong shape
	ErrMalformedInput = errors.New("malformed input")

	// ErrStaleTimestamp marks a claimed time outside the replay window
	ErrStaleTimestamp = errors.New("stale timestamp")

	// ErrAuthenticationFailed covers bad integrity tags and bad credentials
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotFound marks an unknown key ID or tracker
	ErrNotFound = errors.New("not found")
)
