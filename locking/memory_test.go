package locking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLock_AcquireRelease(t *testing.T) {
	lock := NewInMemoryLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	release2, err := lock.Acquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	defer release2()
}

func TestInMemoryLock_TryAcquireFailsWhenHeld(t *testing.T) {
	lock := NewInMemoryLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	defer release()

	_, acquired, err := lock.TryAcquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestInMemoryLock_MutualExclusion(t *testing.T) {
	lock := NewInMemoryLock()
	ctx := context.Background()

	var inCriticalSection atomic.Int64
	var maxConcurrent atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				release, err := lock.Acquire(ctx, "contended", 0)
				require.NoError(t, err)
				n := inCriticalSection.Add(1)
				for {
					cur := maxConcurrent.Load()
					if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
						break
					}
				}
				inCriticalSection.Add(-1)
				release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), maxConcurrent.Load())
}

func TestInMemoryLock_AcquireRespectsContextCancellation(t *testing.T) {
	lock := NewInMemoryLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	defer release()

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = lock.Acquire(cancelCtx, "saga-1", 0)
	assert.Error(t, err)
}

func TestInMemoryLock_TTLAutoReleases(t *testing.T) {
	lock := NewInMemoryLock()
	ctx := context.Background()

	_, err := lock.Acquire(ctx, "saga-1", 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, acquired, err := lock.TryAcquire(ctx, "saga-1", 0)
	require.NoError(t, err)
	assert.True(t, acquired)
}
