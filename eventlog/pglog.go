// Package eventlog: PGLog is a Postgres-backed Log, grounded on the
// teacher's PGEventStore (jackc/pgx/v5 pgxpool, transactional append with a
// SELECT MAX(sequence_num) then INSERT, JSONB payload column).
package eventlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLog is a PostgreSQL-backed Log.
type PGLog struct {
	pool  *pgxpool.Pool
	codec Codec
}

// OpenPGLog connects to Postgres and ensures the schema exists.
func OpenPGLog(ctx context.Context, connString string) (*PGLog, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres event log: %w", err)
	}
	l := &PGLog{pool: pool, codec: JSONCodec{}}
	if err := l.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// WithCodec overrides the default JSON codec. event_data and state are
// JSONB columns, so the codec's output must be valid JSON; output of
// eventlog.CBORCodec{} is rejected by this schema.
func (l *PGLog) WithCodec(c Codec) *PGLog {
	l.codec = c
	return l
}

func (l *PGLog) init(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS saga_events (
	saga_id      TEXT NOT NULL,
	sequence_num BIGINT NOT NULL,
	event_type   TEXT NOT NULL,
	event_data   JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (saga_id, sequence_num)
);
CREATE TABLE IF NOT EXISTS saga_snapshots (
	saga_id      TEXT PRIMARY KEY,
	sequence_num BIGINT NOT NULL,
	state        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return fmt.Errorf("init postgres event log schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (l *PGLog) Close() { l.pool.Close() }

var _ Log = (*PGLog)(nil)

func (l *PGLog) Append(ctx context.Context, sagaID string, eventType EventType, data any) error {
	raw, err := l.codec.Marshal(data)
	if err != nil {
		return err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxSeq int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_num), 0) FROM saga_events WHERE saga_id = $1`, sagaID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("read max sequence for %s: %w", sagaID, err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO saga_events (saga_id, sequence_num, event_type, event_data)
VALUES ($1, $2, $3, $4)`, sagaID, maxSeq+1, string(eventType), raw)
	if err != nil {
		return fmt.Errorf("insert event for %s: %w", sagaID, err)
	}

	return tx.Commit(ctx)
}

func (l *PGLog) Events(ctx context.Context, sagaID string, afterSeq int64) ([]Event, error) {
	rows, err := l.pool.Query(ctx, `
SELECT saga_id, sequence_num, event_type, event_data, created_at
FROM saga_events WHERE saga_id = $1 AND sequence_num > $2
ORDER BY sequence_num ASC`, sagaID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", sagaID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var eventType string
		if err := rows.Scan(&e.SagaID, &e.SequenceNum, &eventType, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Type = EventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *PGLog) LatestSnapshot(ctx context.Context, sagaID string) (*Snapshot, bool, error) {
	var snap Snapshot
	err := l.pool.QueryRow(ctx, `
SELECT saga_id, sequence_num, state, created_at FROM saga_snapshots WHERE saga_id = $1`, sagaID).
		Scan(&snap.SagaID, &snap.SequenceNum, &snap.State, &snap.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot for %s: %w", sagaID, err)
	}
	return &snap, true, nil
}

func (l *PGLog) PutSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := l.pool.Exec(ctx, `
INSERT INTO saga_snapshots (saga_id, sequence_num, state, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (saga_id) DO UPDATE SET sequence_num = $2, state = $3, created_at = now()`,
		snap.SagaID, snap.SequenceNum, snap.State)
	if err != nil {
		return fmt.Errorf("put snapshot for %s: %w", snap.SagaID, err)
	}
	return nil
}
