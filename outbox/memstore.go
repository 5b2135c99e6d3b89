package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sagaflow/engine/sagaerr"
)

// MemStore is an in-memory outbox Store for tests and single-process
// deployments.
type MemStore struct {
	mu       sync.Mutex
	messages map[string]*Message
	order    []string
}

// NewMemStore creates an empty in-memory outbox store.
func NewMemStore() *MemStore {
	return &MemStore{messages: make(map[string]*Message)}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Enqueue(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return nil
}

// ClaimPending is not shard-aware: shardKey is accepted for interface
// parity and ignored, and returned messages stay pending until
// MarkDelivered or MarkFailed. Every shard goroutine of a Drainer therefore
// sees the same pending messages; the Drainer's per-message singleflight
// only collapses dispatches of one message that overlap in time.
func (s *MemStore) ClaimPending(_ context.Context, _ string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]*Message, 0, limit)
	for _, id := range s.order {
		msg, ok := s.messages[id]
		if !ok || msg.Status != StatusPending {
			continue
		}
		if msg.AvailableAt.After(now) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, sagaerr.ErrNotFound)
	}
	now := time.Now()
	msg.Status = StatusDelivered
	msg.DeliveredAt = &now
	return nil
}

func (s *MemStore) MarkFailed(_ context.Context, id string, errMsg string, nextAvailableAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, sagaerr.ErrNotFound)
	}
	msg.Attempts++
	msg.LastError = errMsg
	if nextAvailableAt != nil {
		msg.AvailableAt = *nextAvailableAt
		msg.Status = StatusPending
	} else {
		msg.Status = StatusFailed
	}
	return nil
}

// Snapshot returns a copy of every message, for test assertions.
func (s *MemStore) Snapshot() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, 0, len(s.messages))
	for _, id := range s.order {
		cp := *s.messages[id]
		out = append(out, &cp)
	}
	return out
}
