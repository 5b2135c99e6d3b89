package store

import "context"

// StateStore is the durable home for saga instance state. Implementations:
// memstore (tests/single-process), sqlitestore (embedded/dev), pgstore
// (production multi-node).
type StateStore interface {
	// Create inserts a new instance. Returns sagaerr.ErrAlreadyExists if the
	// SagaID is already present.
	Create(ctx context.Context, inst *Instance) error

	// Get returns the current instance state, or sagaerr.ErrNotFound.
	Get(ctx context.Context, sagaID string) (*Instance, error)

	// CompareAndSwap writes inst if the stored version still matches
	// expectedVersion, then increments the stored version. Returns
	// sagaerr.ErrConcurrencyConflict on a lost race.
	CompareAndSwap(ctx context.Context, inst *Instance, expectedVersion int64) error

	// List returns instances matching the filter, most recently started first.
	List(ctx context.Context, f Filter) ([]*Instance, error)

	// Delete removes an instance permanently (used by retention sweeps).
	Delete(ctx context.Context, sagaID string) error
}
