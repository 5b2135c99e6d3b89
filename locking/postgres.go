package locking

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// PGAdvisoryLock implements DistributedLock using PostgreSQL session-level
// advisory locks. The key is hashed to an int64 lock ID via FNV-1a.
type PGAdvisoryLock struct {
	db *sql.DB
}

// NewPGAdvisoryLock wraps an existing *sql.DB for advisory locking.
func NewPGAdvisoryLock(db *sql.DB) *PGAdvisoryLock {
	return &PGAdvisoryLock{db: db}
}

var _ DistributedLock = (*PGAdvisoryLock)(nil)

// Acquire blocks until the advisory lock is obtained. ttl is ignored:
// pg_advisory_lock has no native expiry, the lock lives until release() is
// called or the dedicated connection is dropped.
func (l *PGAdvisoryLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	lockID := hashToInt64(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
			conn.Close()
		})
	}
	return release, nil
}

func (l *PGAdvisoryLock) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	lockID := hashToInt64(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock connection for %s: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
			conn.Close()
		})
	}
	return release, true, nil
}

func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	v := h.Sum64() & 0x7FFFFFFFFFFFFFFF
	return int64(v) //nolint:gosec // masked to non-negative range
}
