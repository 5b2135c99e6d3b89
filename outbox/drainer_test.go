package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/dispatch"
	"github.com/sagaflow/engine/dispatch/memorydispatch"
	"github.com/sagaflow/engine/locking"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestDrainer_DeliversPendingMessages(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()
	require.NoError(t, st.Enqueue(ctx, &Message{ID: "m1", SagaID: "saga-1", Topic: "orders.created", Body: []byte("hi"), AvailableAt: time.Now()}))

	dispatcher := memorydispatch.New(nil)
	lock := locking.NewInMemoryLock()
	cfg := DrainerConfig{ShardCount: 1, PollInterval: 10 * time.Millisecond, BatchSize: 10, LeaseTTL: time.Second, MaxAttempts: 3}
	drainer := NewDrainer(st, dispatcher, lock, cfg, nil)

	drainer.Start(ctx)
	defer drainer.Stop()

	waitFor(t, time.Second, func() bool {
		for _, m := range st.Snapshot() {
			if m.Status == StatusDelivered {
				return true
			}
		}
		return false
	})

	msgs := dispatcher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "orders.created", msgs[0].Topic)
}

type failingDispatcher struct{ fails int }

func (f *failingDispatcher) Dispatch(context.Context, dispatch.MessageContext) dispatch.Result {
	f.fails++
	return dispatch.Result{Err: assertErr{}}
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }

func TestDrainer_RetriesThenMarksFailedAfterMaxAttempts(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()
	require.NoError(t, st.Enqueue(ctx, &Message{ID: "m1", SagaID: "saga-1", Topic: "t", Body: []byte("x"), AvailableAt: time.Now()}))

	dispatcher := &failingDispatcher{}
	lock := locking.NewInMemoryLock()
	cfg := DrainerConfig{ShardCount: 1, PollInterval: 5 * time.Millisecond, BatchSize: 10, LeaseTTL: time.Second, MaxAttempts: 2}
	drainer := NewDrainer(st, dispatcher, lock, cfg, nil)

	drainer.Start(ctx)
	defer drainer.Stop()

	waitFor(t, 2*time.Second, func() bool {
		for _, m := range st.Snapshot() {
			if m.Status == StatusFailed {
				return true
			}
		}
		return false
	})
}
