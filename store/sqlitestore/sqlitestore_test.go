package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sagas.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inst := &store.Instance{
		SagaID:            "saga-1",
		DefinitionName:    "order.checkout",
		DefinitionVersion: 1,
		Status:            store.StatusRunning,
		StartedAt:         time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Create(ctx, inst))

	got, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_CompareAndSwapRejectsStaleVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inst := &store.Instance{SagaID: "saga-1", DefinitionName: "d", Status: store.StatusRunning, StartedAt: time.Now()}
	require.NoError(t, s.Create(ctx, inst))

	inst.Status = store.StatusCompleted
	require.NoError(t, s.CompareAndSwap(ctx, inst, 1))

	err := s.CompareAndSwap(ctx, inst, 1)
	assert.ErrorIs(t, err, sagaerr.ErrConcurrencyConflict)
}

func TestStore_DuplicateCreateRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	inst := &store.Instance{SagaID: "saga-1", DefinitionName: "d", Status: store.StatusRunning, StartedAt: time.Now()}
	require.NoError(t, s.Create(ctx, inst))

	err := s.Create(ctx, inst)
	assert.ErrorIs(t, err, sagaerr.ErrAlreadyExists)
}
