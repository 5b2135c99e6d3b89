// Package memstore is an in-memory store.StateStore for tests and
// single-process deployments, grounded on the defensive-copy + RWMutex
// discipline the teacher uses for its in-memory event store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
)

// Store is an in-memory store.StateStore.
type Store struct {
	mu   sync.RWMutex
	data map[string]*store.Instance
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]*store.Instance)}
}

var _ store.StateStore = (*Store)(nil)

func (s *Store) Create(_ context.Context, inst *store.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[inst.SagaID]; exists {
		return fmt.Errorf("saga %s: %w", inst.SagaID, sagaerr.ErrAlreadyExists)
	}
	inst.Version = 1
	s.data[inst.SagaID] = inst.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, sagaID string) (*store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.data[sagaID]
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	return inst.Clone(), nil
}

func (s *Store) CompareAndSwap(_ context.Context, inst *store.Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[inst.SagaID]
	if !ok {
		return fmt.Errorf("saga %s: %w", inst.SagaID, sagaerr.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("saga %s: stored version %d, expected %d: %w",
			inst.SagaID, cur.Version, expectedVersion, sagaerr.ErrConcurrencyConflict)
	}

	next := inst.Clone()
	next.Version = expectedVersion + 1
	s.data[inst.SagaID] = next
	return nil
}

func (s *Store) List(_ context.Context, f store.Filter) ([]*store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*store.Instance, 0, len(s.data))
	for _, inst := range s.data {
		if f.TenantID != "" && inst.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.DefinitionName != "" && inst.DefinitionName != f.DefinitionName {
			continue
		}
		matches = append(matches, inst.Clone())
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matches) {
			return []*store.Instance{}, nil
		}
		matches = matches[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matches) {
		matches = matches[:f.Limit]
	}
	return matches, nil
}

func (s *Store) Delete(_ context.Context, sagaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[sagaID]; !ok {
		return fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	delete(s.data, sagaID)
	return nil
}
