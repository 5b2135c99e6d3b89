// Package sagaerr defines the sentinel errors shared across the saga engine.
// Callers use errors.Is/errors.As against these values; component packages
// wrap them with context via fmt.Errorf("...: %w", sagaerr.ErrX).
package sagaerr

import "errors"

var (
	// ErrInvalidArgument means a caller-supplied value failed validation
	// before any state was touched (malformed definition, empty SagaID).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means the requested saga, event, or definition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict means an optimistic write lost a version race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDefinition means a saga definition is malformed or unregistered.
	ErrDefinition = errors.New("saga definition error")

	// ErrHandler means a step handler returned an unexpected error.
	ErrHandler = errors.New("step handler error")

	// ErrCompensator means a compensation handler failed.
	ErrCompensator = errors.New("compensator error")

	// ErrOutboxNotConfigured means a dispatch was attempted with no outbox wired.
	ErrOutboxNotConfigured = errors.New("outbox not configured")

	// ErrSerialization means an event or snapshot payload could not be
	// encoded/decoded with the configured codec.
	ErrSerialization = errors.New("serialization error")

	// ErrTimeout means a saga or step exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrAlreadyExists means a duplicate create was attempted (duplicate
	// SagaID, duplicate idempotency key).
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed means an operation was attempted on a stopped component.
	ErrClosed = errors.New("closed")

	// ErrDuplicateDefinition means a saga definition was registered under a
	// (name, version) pair that is already present in the registry.
	ErrDuplicateDefinition = errors.New("duplicate saga definition")
)
