package eventlog

import "context"

// Log is the append-only event history plus snapshot compaction surface.
type Log interface {
	// Append adds the next event for sagaID, assigning it the next
	// sequence number. data is marshaled with the log's configured codec.
	Append(ctx context.Context, sagaID string, eventType EventType, data any) error

	// Events returns the events for sagaID whose sequence number is greater
	// than afterSeq, in sequence order. Callers replaying from a snapshot
	// pass its SequenceNum and combine the result with the snapshot to
	// reconstruct full state -- see eventlog.Replay.
	Events(ctx context.Context, sagaID string, afterSeq int64) ([]Event, error)

	// LatestSnapshot returns the most recent snapshot for sagaID, if any.
	LatestSnapshot(ctx context.Context, sagaID string) (*Snapshot, bool, error)

	// PutSnapshot stores a new snapshot, superseding any event replay
	// before its sequence number.
	PutSnapshot(ctx context.Context, snap Snapshot) error
}
