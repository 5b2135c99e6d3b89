// Package outbox implements the transactional outbox: messages enqueued in
// the same logical write as a saga state transition, drained by a
// background poller that dispatches them at least once and marks them
// sent. Grounded on the transactional-outbox pattern used alongside the
// teacher's event store, with single-drainer-per-shard enforced by
// locking.DistributedLock (see the teacher's scale.DistributedLock).
package outbox

import "time"

// MessageStatus is the lifecycle state of an outbox message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// Message is one durable record of work to deliver at least once to an
// external system, coupled to the saga instance that produced it.
type Message struct {
	ID           string
	SagaID       string
	Topic        string
	Key          string
	Body         []byte
	Headers      map[string]string
	Status       MessageStatus
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	AvailableAt  time.Time
	DeliveredAt  *time.Time
}
