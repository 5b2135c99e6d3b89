package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
)

func newInstance(id string) *store.Instance {
	return &store.Instance{
		SagaID:            id,
		DefinitionName:    "order.checkout",
		DefinitionVersion: 1,
		Status:            store.StatusRunning,
		StartedAt:         time.Now(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newInstance("saga-1")))

	got, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, store.StatusRunning, got.Status)
}

func TestStore_CreateDuplicateRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newInstance("saga-1")))

	err := s.Create(ctx, newInstance("saga-1"))
	assert.ErrorIs(t, err, sagaerr.ErrAlreadyExists)
}

func TestStore_CompareAndSwapDetectsConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newInstance("saga-1")))

	inst, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	inst.Status = store.StatusCompleted

	require.NoError(t, s.CompareAndSwap(ctx, inst, inst.Version))

	// Stale write using the old version should now conflict.
	err = s.CompareAndSwap(ctx, inst, inst.Version)
	assert.ErrorIs(t, err, sagaerr.ErrConcurrencyConflict)
}

func TestStore_GetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, sagaerr.ErrNotFound)
}

func TestStore_ListFiltersByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newInstance("saga-1")))
	i2 := newInstance("saga-2")
	i2.Status = store.StatusCompleted
	require.NoError(t, s.Create(ctx, i2))

	running, err := s.List(ctx, store.Filter{Status: store.StatusRunning})
	require.NoError(t, err)
	assert.Len(t, running, 1)
	assert.Equal(t, "saga-1", running[0].SagaID)
}

func TestStore_CloneIsolatesCallerMutation(t *testing.T) {
	s := New()
	ctx := context.Background()
	inst := newInstance("saga-1")
	require.NoError(t, s.Create(ctx, inst))

	got, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	got.StepHistory = append(got.StepHistory, store.StepRecord{StepName: "mutated"})

	again, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Empty(t, again.StepHistory)
}
