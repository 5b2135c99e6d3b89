// Package sqlitestore is a store.StateStore backed by modernc.org/sqlite
// (pure Go, no cgo). Grounded on the teacher's SQLiteEventStore: WAL mode,
// a busy_timeout, and a single mutex serializing writes -- the standard
// approach for SQLite under concurrent load.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
)

// Store is a SQLite-backed store.StateStore.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at dbPath and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(5)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS saga_instances (
	saga_id             TEXT PRIMARY KEY,
	definition_name     TEXT NOT NULL,
	definition_version  INTEGER NOT NULL,
	tenant_id           TEXT NOT NULL DEFAULT '',
	correlation_id      TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	current_step_index  INTEGER NOT NULL DEFAULT 0,
	step_history        TEXT NOT NULL DEFAULT '[]',
	failed_step         TEXT NOT NULL DEFAULT '',
	failure_error       TEXT NOT NULL DEFAULT '',
	started_at          TEXT NOT NULL,
	completed_at        TEXT,
	deadline_at         TEXT,
	version             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_instances_status ON saga_instances(status);
CREATE INDEX IF NOT EXISTS idx_saga_instances_tenant ON saga_instances(tenant_id);
`)
	if err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ store.StateStore = (*Store)(nil)

func (s *Store) Create(ctx context.Context, inst *store.Instance) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	history, err := json.Marshal(inst.StepHistory)
	if err != nil {
		return fmt.Errorf("encode step history: %w: %v", sagaerr.ErrSerialization, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO saga_instances
	(saga_id, definition_name, definition_version, tenant_id, correlation_id,
	 status, current_step_index, step_history, failed_step, failure_error,
	 started_at, completed_at, deadline_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		inst.SagaID, inst.DefinitionName, inst.DefinitionVersion, inst.TenantID, inst.CorrelationID,
		string(inst.Status), inst.CurrentStepIndex, string(history), inst.FailedStep, inst.FailureError,
		formatTime(&inst.StartedAt), formatTimePtr(inst.CompletedAt), formatTimePtr(inst.DeadlineAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("saga %s: %w", inst.SagaID, sagaerr.ErrAlreadyExists)
		}
		return fmt.Errorf("create saga %s: %w", inst.SagaID, err)
	}
	inst.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, sagaID string) (*store.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT saga_id, definition_name, definition_version, tenant_id, correlation_id,
       status, current_step_index, step_history, failed_step, failure_error,
       started_at, completed_at, deadline_at, version
FROM saga_instances WHERE saga_id = ?`, sagaID)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	return inst, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, inst *store.Instance, expectedVersion int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	history, err := json.Marshal(inst.StepHistory)
	if err != nil {
		return fmt.Errorf("encode step history: %w: %v", sagaerr.ErrSerialization, err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE saga_instances SET
	status = ?, current_step_index = ?, step_history = ?, failed_step = ?,
	failure_error = ?, completed_at = ?, deadline_at = ?, version = version + 1
WHERE saga_id = ? AND version = ?`,
		string(inst.Status), inst.CurrentStepIndex, string(history), inst.FailedStep,
		inst.FailureError, formatTimePtr(inst.CompletedAt), formatTimePtr(inst.DeadlineAt),
		inst.SagaID, expectedVersion)
	if err != nil {
		return fmt.Errorf("compare-and-swap saga %s: %w", inst.SagaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare-and-swap saga %s: %w", inst.SagaID, err)
	}
	if n == 0 {
		// Either the saga doesn't exist or the version has moved on.
		if _, getErr := s.Get(ctx, inst.SagaID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("saga %s: expected version %d: %w", inst.SagaID, expectedVersion, sagaerr.ErrConcurrencyConflict)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]*store.Instance, error) {
	query := `SELECT saga_id, definition_name, definition_version, tenant_id, correlation_id,
       status, current_step_index, step_history, failed_step, failure_error,
       started_at, completed_at, deadline_at, version FROM saga_instances WHERE 1=1`
	args := []any{}
	if f.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.DefinitionName != "" {
		query += " AND definition_name = ?"
		args = append(args, f.DefinitionName)
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []*store.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga row: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, sagaID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM saga_instances WHERE saga_id = ?`, sagaID)
	if err != nil {
		return fmt.Errorf("delete saga %s: %w", sagaID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*store.Instance, error) {
	var (
		inst                       store.Instance
		status                     string
		history                    string
		startedAt                  string
		completedAt, deadlineAt    sql.NullString
	)
	if err := row.Scan(
		&inst.SagaID, &inst.DefinitionName, &inst.DefinitionVersion, &inst.TenantID, &inst.CorrelationID,
		&status, &inst.CurrentStepIndex, &history, &inst.FailedStep, &inst.FailureError,
		&startedAt, &completedAt, &deadlineAt, &inst.Version,
	); err != nil {
		return nil, err
	}
	inst.Status = store.Status(status)
	if err := json.Unmarshal([]byte(history), &inst.StepHistory); err != nil {
		return nil, fmt.Errorf("%w: %v", sagaerr.ErrSerialization, err)
	}
	if t, err := parseTime(startedAt); err == nil {
		inst.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := parseTime(completedAt.String); err == nil {
			inst.CompletedAt = &t
		}
	}
	if deadlineAt.Valid {
		if t, err := parseTime(deadlineAt.String); err == nil {
			inst.DeadlineAt = &t
		}
	}
	return &inst, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}
