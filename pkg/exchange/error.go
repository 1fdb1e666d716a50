package exchange

import "errors"

var (
	// ErrCancelNotFound is returned for a cancel whose target is not resting
	// or belongs to another client.
	ErrCancelNotFound = errors.New("order not found")
	// ErrNotPersisted means the engine applied the order but the store write
	// failed; the in-memory book stays authoritative.
	ErrNotPersisted = errors.New("order not persisted")
)
