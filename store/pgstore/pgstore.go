// Package pgstore is a store.StateStore backed by PostgreSQL via pgx,
// grounded on the teacher's PGEventStore: pgxpool and a JSONB column for
// the nested history payload. Each operation is a single statement; no
// explicit transactions are opened.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
)

// Store is a PostgreSQL-backed store.StateStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using connString and ensures the schema exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS saga_instances (
	saga_id             TEXT PRIMARY KEY,
	definition_name     TEXT NOT NULL,
	definition_version  INTEGER NOT NULL,
	tenant_id           TEXT NOT NULL DEFAULT '',
	correlation_id      TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	current_step_index  INTEGER NOT NULL DEFAULT 0,
	step_history        JSONB NOT NULL DEFAULT '[]',
	failed_step         TEXT NOT NULL DEFAULT '',
	failure_error       TEXT NOT NULL DEFAULT '',
	started_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	deadline_at         TIMESTAMPTZ,
	version             BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_instances_status ON saga_instances(status);
CREATE INDEX IF NOT EXISTS idx_saga_instances_tenant ON saga_instances(tenant_id);
CREATE INDEX IF NOT EXISTS idx_saga_instances_correlation ON saga_instances(correlation_id);
`)
	if err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

var _ store.StateStore = (*Store)(nil)

func (s *Store) Create(ctx context.Context, inst *store.Instance) error {
	history, err := json.Marshal(inst.StepHistory)
	if err != nil {
		return fmt.Errorf("encode step history: %w: %v", sagaerr.ErrSerialization, err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO saga_instances
	(saga_id, definition_name, definition_version, tenant_id, correlation_id,
	 status, current_step_index, step_history, failed_step, failure_error,
	 started_at, completed_at, deadline_at, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)`,
		inst.SagaID, inst.DefinitionName, inst.DefinitionVersion, inst.TenantID, inst.CorrelationID,
		string(inst.Status), inst.CurrentStepIndex, history, inst.FailedStep, inst.FailureError,
		inst.StartedAt, inst.CompletedAt, inst.DeadlineAt)
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
	row := s.pool.QueryRow(ctx, `
SELECT saga_id, definition_name, definition_version, tenant_id, correlation_id,
       status, current_step_index, step_history, failed_step, failure_error,
       started_at, completed_at, deadline_at, version
FROM saga_instances WHERE saga_id = $1`, sagaID)

	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	return inst, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, inst *store.Instance, expectedVersion int64) error {
	history, err := json.Marshal(inst.StepHistory)
	if err != nil {
		return fmt.Errorf("encode step history: %w: %v", sagaerr.ErrSerialization, err)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE saga_instances SET
	status=$1, current_step_index=$2, step_history=$3, failed_step=$4,
	failure_error=$5, completed_at=$6, deadline_at=$7, version = version + 1
WHERE saga_id=$8 AND version=$9`,
		string(inst.Status), inst.CurrentStepIndex, history, inst.FailedStep,
		inst.FailureError, inst.CompletedAt, inst.DeadlineAt, inst.SagaID, expectedVersion)
	if err != nil {
		return fmt.Errorf("compare-and-swap saga %s: %w", inst.SagaID, err)
	}
	if tag.RowsAffected() == 0 {
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
       started_at, completed_at, deadline_at, version FROM saga_instances WHERE TRUE`
	args := []any{}
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if f.TenantID != "" {
		args = append(args, f.TenantID)
		query += " AND tenant_id = " + next()
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += " AND status = " + next()
	}
	if f.DefinitionName != "" {
		args = append(args, f.DefinitionName)
		query += " AND definition_name = " + next()
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT " + next()
		if f.Offset > 0 {
			args = append(args, f.Offset)
			query += " OFFSET " + next()
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM saga_instances WHERE saga_id = $1`, sagaID)
	if err != nil {
		return fmt.Errorf("delete saga %s: %w", sagaID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saga %s: %w", sagaID, sagaerr.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*store.Instance, error) {
	var (
		inst    store.Instance
		status  string
		history []byte
	)
	if err := row.Scan(
		&inst.SagaID, &inst.DefinitionName, &inst.DefinitionVersion, &inst.TenantID, &inst.CorrelationID,
		&status, &inst.CurrentStepIndex, &history, &inst.FailedStep, &inst.FailureError,
		&inst.StartedAt, &inst.CompletedAt, &inst.DeadlineAt, &inst.Version,
	); err != nil {
		return nil, err
	}
	inst.Status = store.Status(status)
	if err := json.Unmarshal(history, &inst.StepHistory); err != nil {
		return nil, fmt.Errorf("%w: %v", sagaerr.ErrSerialization, err)
	}
	return &inst, nil
}

// uniqueViolationCode is the PostgreSQL SQLSTATE for a unique constraint
// violation (23505).
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
