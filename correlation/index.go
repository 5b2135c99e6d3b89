// Package correlation implements the secondary indexes that let a caller
// who only knows a business key (an order ID, a property value) find the
// saga instances it is tracking without knowing their SagaIDs: a
// correlation-ID index and an arbitrary-property index, both sets of
// SagaID keyed by string.
package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/sagaflow/engine/sagaerr"
)

// QueryOptions narrows a correlation or property lookup.
type QueryOptions struct {
	// IncludeCompleted includes sagas in a terminal status. Default false:
	// completed/compensated/failed sagas are excluded.
	IncludeCompleted bool
	// MaxResults caps the number of SagaIDs returned. Zero means unbounded.
	MaxResults int
}

// Index is the correlation and property lookup surface.
type Index interface {
	// IndexSaga upserts sagaID's entry in the correlation index under
	// corrID, recording the status and start time used to filter terminal
	// sagas out of lookups unless IncludeCompleted is set.
	IndexSaga(ctx context.Context, sagaID, sagaName, corrID string, status SagaStatus, startedAt time.Time) error

	// IndexProperty adds sagaID to the set indexed under (name, value).
	IndexProperty(ctx context.Context, sagaID, name, value string) error

	// UpdateStatus updates the tracked status for sagaID, used to decide
	// terminal filtering on later lookups. A no-op if sagaID was never
	// indexed.
	UpdateStatus(ctx context.Context, sagaID string, status SagaStatus) error

	// FindByCorrelationID returns the SagaIDs indexed under corrID.
	FindByCorrelationID(ctx context.Context, corrID string, opts QueryOptions) ([]string, error)

	// FindByProperty returns the SagaIDs indexed under (name, value).
	FindByProperty(ctx context.Context, name, value string, opts QueryOptions) ([]string, error)

	// Clear removes every indexed entry. Test support.
	Clear(ctx context.Context) error
}

// SagaStatus mirrors store.Status without importing the store package,
// keeping correlation usable independently of the state store.
type SagaStatus string

// IsTerminal reports whether status represents a saga that will not run
// further steps. Mirrors store.Status's terminal values (completed,
// compensated, failed); running and compensating are non-terminal.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case "completed", "compensated", "failed":
		return true
	default:
		return false
	}
}

func validateKey(name string) error {
	if name == "" {
		return fmt.Errorf("correlation key %q: %w", name, sagaerr.ErrInvalidArgument)
	}
	return nil
}
