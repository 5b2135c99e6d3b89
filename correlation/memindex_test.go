package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemIndexFindByCorrelationExcludesTerminalByDefault(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	require.NoError(t, idx.IndexSaga(ctx, "saga-1", "order-saga", "order-42", "running", time.Unix(0, 0)))
	require.NoError(t, idx.IndexSaga(ctx, "saga-2", "order-saga", "order-42", "running", time.Unix(0, 0)))
	require.NoError(t, idx.UpdateStatus(ctx, "saga-2", "completed"))

	active, err := idx.FindByCorrelationID(ctx, "order-42", QueryOptions{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"saga-1"}, active)

	all, err := idx.FindByCorrelationID(ctx, "order-42", QueryOptions{IncludeCompleted: true})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"saga-1", "saga-2"}, all)
}

func TestMemIndexFindByPropertyRespectsMaxResults(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	for _, sagaID := range []string{"saga-1", "saga-2", "saga-3"} {
		require.NoError(t, idx.IndexSaga(ctx, sagaID, "order-saga", "", "running", time.Unix(0, 0)))
		require.NoError(t, idx.IndexProperty(ctx, sagaID, "customer_id", "cust-9"))
	}

	found, err := idx.FindByProperty(ctx, "customer_id", "cust-9", QueryOptions{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestMemIndexRejectsEmptyKeys(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	_, err := idx.FindByCorrelationID(ctx, "", QueryOptions{})
	require.Error(t, err)

	_, err = idx.FindByProperty(ctx, "", "v", QueryOptions{})
	require.Error(t, err)
}

func TestMemIndexClear(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	require.NoError(t, idx.IndexSaga(ctx, "saga-1", "order-saga", "order-42", "running", time.Unix(0, 0)))
	require.NoError(t, idx.Clear(ctx))

	found, err := idx.FindByCorrelationID(ctx, "order-42", QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, found)
}
