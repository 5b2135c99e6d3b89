// Package store defines the durable SagaInstanceState model and the
// StateStore interface, with InMemory, SQLite, and Postgres implementations
// in the memstore, sqlitestore, and pgstore subpackages.
package store

import "time"

// Status is the lifecycle state of a saga instance.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// StepRecord captures the outcome of one executed step, forward or
// compensating.
type StepRecord struct {
	StepName    string
	MessageID   string
	Output      map[string]any
	Error       string
	CompletedAt time.Time
	Compensated bool
	// Attempts counts how many times this step's compensator was invoked
	// (initial attempt plus retries) once Compensated is set. Zero for a
	// record that has never been through compensation.
	Attempts int
}

// Instance is the durable state of one saga run. Version is the optimistic
// concurrency token: every mutating write must supply the Version it read
// and the store rejects the write with sagaerr.ErrConcurrencyConflict if it
// has since changed.
type Instance struct {
	SagaID            string
	DefinitionName    string
	DefinitionVersion int
	TenantID          string
	CorrelationID     string
	Status            Status
	CurrentStepIndex  int
	StepHistory       []StepRecord
	FailedStep        string
	FailureError      string
	StartedAt         time.Time
	CompletedAt       *time.Time
	DeadlineAt        *time.Time
	Version           int64
}

// Clone returns a deep-enough copy so callers can mutate freely without
// aliasing store-internal state (mirrors the defensive-copy discipline in
// the teacher's InMemoryEventStore).
func (i *Instance) Clone() *Instance {
	c := *i
	c.StepHistory = make([]StepRecord, len(i.StepHistory))
	copy(c.StepHistory, i.StepHistory)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	if i.DeadlineAt != nil {
		t := *i.DeadlineAt
		c.DeadlineAt = &t
	}
	return &c
}

// Filter narrows StateStore.List results.
type Filter struct {
	TenantID       string
	Status         Status
	DefinitionName string
	Limit          int
	Offset         int
}
