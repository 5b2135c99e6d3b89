// Package correlation: RedisIndex stores the correlation/property sets as
// native Redis sets (SADD/SMEMBERS) with a separate status hash for
// terminal filtering, grounded on the teacher's module.RedisCache
// Get/Set/Delete surface generalized to set operations.
package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex is a Redis-backed Index.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex creates a RedisIndex over an existing client.
func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "saga:correlation:"
	}
	return &RedisIndex{client: client, prefix: prefix}
}

var _ Index = (*RedisIndex)(nil)

func (r *RedisIndex) corrKey(corrID string) string {
	return r.prefix + "corr:" + corrID
}

func (r *RedisIndex) propKey(name, value string) string {
	return r.prefix + "prop:" + name + ":" + value
}

func (r *RedisIndex) statusKey(sagaID string) string {
	return r.prefix + "status:" + sagaID
}

func (r *RedisIndex) IndexSaga(ctx context.Context, sagaID, _ string, corrID string, status SagaStatus, _ time.Time) error {
	if err := validateKey(sagaID); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.statusKey(sagaID), string(status), 0).Err(); err != nil {
		return fmt.Errorf("index saga %s status: %w", sagaID, err)
	}
	if corrID != "" {
		if err := r.client.SAdd(ctx, r.corrKey(corrID), sagaID).Err(); err != nil {
			return fmt.Errorf("index saga %s correlation %s: %w", sagaID, corrID, err)
		}
	}
	return nil
}

func (r *RedisIndex) IndexProperty(ctx context.Context, sagaID, name, value string) error {
	if err := validateKey(sagaID); err != nil {
		return err
	}
	if err := validateKey(name); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, r.propKey(name, value), sagaID).Err(); err != nil {
		return fmt.Errorf("index saga %s property %s=%s: %w", sagaID, name, value, err)
	}
	return nil
}

func (r *RedisIndex) UpdateStatus(ctx context.Context, sagaID string, status SagaStatus) error {
	exists, err := r.client.Exists(ctx, r.statusKey(sagaID)).Result()
	if err != nil {
		return fmt.Errorf("check saga %s status: %w", sagaID, err)
	}
	if exists == 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.statusKey(sagaID), string(status), 0).Err(); err != nil {
		return fmt.Errorf("update saga %s status: %w", sagaID, err)
	}
	return nil
}

func (r *RedisIndex) FindByCorrelationID(ctx context.Context, corrID string, opts QueryOptions) ([]string, error) {
	if err := validateKey(corrID); err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, r.corrKey(corrID)).Result()
	if err != nil {
		return nil, fmt.Errorf("find by correlation %s: %w", corrID, err)
	}
	return r.filterTerminal(ctx, members, opts)
}

func (r *RedisIndex) FindByProperty(ctx context.Context, name, value string, opts QueryOptions) ([]string, error) {
	if err := validateKey(name); err != nil {
		return nil, err
	}
	if err := validateKey(value); err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, r.propKey(name, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("find by property %s=%s: %w", name, value, err)
	}
	return r.filterTerminal(ctx, members, opts)
}

func (r *RedisIndex) filterTerminal(ctx context.Context, sagaIDs []string, opts QueryOptions) ([]string, error) {
	out := make([]string, 0, len(sagaIDs))
	for _, sagaID := range sagaIDs {
		if !opts.IncludeCompleted {
			status, err := r.client.Get(ctx, r.statusKey(sagaID)).Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("read saga %s status: %w", sagaID, err)
			}
			if SagaStatus(status).IsTerminal() {
				continue
			}
		}
		out = append(out, sagaID)
		if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
			break
		}
	}
	return out, nil
}

func (r *RedisIndex) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan correlation keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("clear correlation keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
