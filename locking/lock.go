// Package locking provides the DistributedLock abstraction the coordinator
// uses for per-SagaID critical sections and the outbox drainer uses for its
// single-owner-per-shard lease. Grounded directly on the teacher's
// scale.DistributedLock: the same interface and backends (in-memory,
// Postgres advisory lock, Redis SET NX), generalized for saga-key locking.
package locking

import (
	"context"
	"time"
)

// DistributedLock serializes access to a named resource across goroutines
// or across nodes, depending on the implementation.
type DistributedLock interface {
	// Acquire blocks until the lock for key is obtained or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	// TryAcquire attempts to obtain the lock without blocking.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
