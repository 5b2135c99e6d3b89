package outbox

import (
	"context"
	"time"
)

// Store is the durable backing of pending/delivered outbox messages.
type Store interface {
	// Enqueue inserts a new pending message. MemStore, the only Store in
	// this module, does not share a transaction with the saga state store:
	// the coordinator enqueues after the state CompareAndSwap has
	// committed, so a failed Enqueue leaves the state write in place.
	Enqueue(ctx context.Context, msg *Message) error

	// ClaimPending returns up to limit pending messages with AvailableAt
	// in the past, for the given shard. Whether returned messages are
	// hidden from other shards' drainers depends on the implementation;
	// MemStore does not hide them.
	ClaimPending(ctx context.Context, shardKey string, limit int) ([]*Message, error)

	// MarkDelivered records a successful dispatch.
	MarkDelivered(ctx context.Context, id string) error

	// MarkFailed records a failed attempt and reschedules AvailableAt per
	// the backoff policy, or moves the message to StatusFailed once
	// attempts are exhausted.
	MarkFailed(ctx context.Context, id string, errMsg string, nextAvailableAt *time.Time) error
}
