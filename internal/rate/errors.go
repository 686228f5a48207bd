package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any counter-store failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidKey is returned for an empty client or endpoint identifier.
	ErrInvalidKey = errors.New("invalid rate limit key")
	// ErrInvalidLimit is returned for a non-positive window or request ceiling.
	ErrInvalidLimit = errors.New("invalid rate limit")
)
