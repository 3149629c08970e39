package cache

import "errors"

var (
	// ErrBackendRequired is returned when a cache is constructed without a backend.
	ErrBackendRequired = errors.New("cache backend required")

	// ErrInvalidTTL is returned when the configured TTL is not positive.
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)
