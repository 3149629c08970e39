package selection

import "errors"

var (
	// ErrStoreRequired is returned when no store is provided.
	ErrStoreRequired = errors.New("store is required")
)
