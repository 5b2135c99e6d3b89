package eventlog

import "context"

// Replay loads the latest snapshot (if any) and every event appended after
// it, giving callers the minimal set of facts needed to reconstruct current
// state without walking the full history of a long-lived saga.
func Replay(ctx context.Context, log Log, sagaID string) (*Snapshot, []Event, error) {
	snap, ok, err := log.LatestSnapshot(ctx, sagaID)
	if err != nil {
		return nil, nil, err
	}
	afterSeq := int64(0)
	if ok {
		afterSeq = snap.SequenceNum
	} else {
		snap = nil
	}

	events, err := log.Events(ctx, sagaID, afterSeq)
	if err != nil {
		return nil, nil, err
	}
	return snap, events, nil
}
