package timerwheel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWheelFiresDueTimers(t *testing.T) {
	var mu sync.Mutex
	var fired []Timer

	w := New(Config{
		OnFire: func(_ context.Context, tm Timer) {
			mu.Lock()
			fired = append(fired, tm)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.Schedule("saga-1", "reserve", KindTimeout, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, "saga-1", fired[0].SagaID)
	mu.Unlock()
}

func TestWheelCancel(t *testing.T) {
	var mu sync.Mutex
	fireCount := 0

	w := New(Config{
		OnFire: func(_ context.Context, tm Timer) {
			mu.Lock()
			fireCount++
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	id, err := w.Schedule("saga-2", "charge", KindHeartbeat, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	w.Cancel(id)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 0, fireCount)
	mu.Unlock()
}
