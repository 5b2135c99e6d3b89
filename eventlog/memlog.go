package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemLog is an in-memory Log for tests and single-process deployments,
// grounded on the teacher's InMemoryEventStore: per-saga sequence counters
// under a single RWMutex, defensive copies on read.
type MemLog struct {
	mu        sync.RWMutex
	events    map[string][]Event
	snapshots map[string]Snapshot
	codec     Codec
	now       func() time.Time
}

// NewMemLog creates an empty in-memory event log using JSON encoding.
func NewMemLog() *MemLog {
	return &MemLog{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
		codec:     JSONCodec{},
		now:       time.Now,
	}
}

var _ Log = (*MemLog)(nil)

func (l *MemLog) Append(_ context.Context, sagaID string, eventType EventType, data any) error {
	raw, err := l.codec.Marshal(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(len(l.events[sagaID])) + 1
	l.events[sagaID] = append(l.events[sagaID], Event{
		SagaID:      sagaID,
		SequenceNum: seq,
		Type:        eventType,
		Data:        raw,
		CreatedAt:   l.now(),
	})
	return nil
}

func (l *MemLog) Events(_ context.Context, sagaID string, afterSeq int64) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.events[sagaID]
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.SequenceNum > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemLog) LatestSnapshot(_ context.Context, sagaID string) (*Snapshot, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap, ok := l.snapshots[sagaID]
	if !ok {
		return nil, false, nil
	}
	s := snap
	return &s, true, nil
}

func (l *MemLog) PutSnapshot(_ context.Context, snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap.CreatedAt = l.now()
	l.snapshots[snap.SagaID] = snap
	return nil
}
