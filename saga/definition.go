// Package saga holds the declarative saga definition model: the step graph,
// per-step compensation specs, and the versioned registry the coordinator
// consults to drive an instance forward.
package saga

import (
	"fmt"

	"github.com/sagaflow/engine/sagaerr"
)

// CompensationOrder controls the order compensations run in relative to the
// forward step order.
type CompensationOrder string

const (
	// CompensationReverse runs compensations in reverse completion order
	// (the default: undo the most recently completed step first).
	CompensationReverse CompensationOrder = "reverse"
	// CompensationForward runs compensations in the same order steps
	// completed, for domains where undo order doesn't matter or must match
	// forward order (e.g. idempotent release operations).
	CompensationForward CompensationOrder = "forward"
)

// StepDefinition describes a single forward step in a saga: its name, the
// handler name the coordinator dispatches to, and an optional compensation.
type StepDefinition struct {
	Name          string
	HandlerName   string
	Compensation  *CompensationSpec
	RetryLimit    int
	StepTimeoutMS int64
}

// CompensationStrategy controls how a failed compensator affects the rest
// of the compensation plan.
type CompensationStrategy string

const (
	// StrategyDefault retries the compensator per the runner's normal
	// policy and halts the plan on failure. When the definition disables
	// automatic compensation it gets a single attempt with no retries, and
	// a failure still halts the plan. The zero value of
	// CompensationSpec.Strategy means StrategyDefault.
	StrategyDefault CompensationStrategy = "default"
	// StrategyRetry always retries on failure, regardless of
	// DisableAutoCompensation.
	StrategyRetry CompensationStrategy = "retry"
	// StrategySkip records a failed compensator and continues with the
	// rest of the plan instead of halting it.
	StrategySkip CompensationStrategy = "skip"
	// StrategyManualIntervention halts the plan on failure, leaving the
	// saga in the failed status with a fault that requires an operator to
	// act before the instance can be resolved.
	StrategyManualIntervention CompensationStrategy = "manual_intervention"
)

// CompensationSpec names the handler invoked to undo a completed step.
type CompensationSpec struct {
	HandlerName string
	Config      map[string]any
	// Order overrides the compensator's position within the plan; lower
	// values run first. Compensators that leave it at the zero value keep
	// the definition's default CompensationOrder sequence relative to each
	// other.
	Order int
	// MaxRetries overrides the runner's global retry budget for this
	// compensator. -1 inherits the runner's default; 0 means a single
	// attempt with no retries.
	MaxRetries int
	// Strategy selects how a failure of this compensator is handled. The
	// zero value is treated as StrategyDefault.
	Strategy CompensationStrategy
}

// Definition is a versioned, named saga graph: an ordered list of steps plus
// saga-level policy (overall timeout, compensation order).
type Definition struct {
	Name              string
	Version           int
	Steps             []StepDefinition
	CompensationOrder CompensationOrder
	TimeoutMS         int64
	// TriggerEvents lists the external event types that start a new
	// instance of this saga when an inbound event of that type carries no
	// CorrelationID. Empty means this definition is only ever started
	// explicitly (StartSaga), never by an inbound event.
	TriggerEvents []string
	// DisableAutoCompensation gives StrategyDefault compensators a single
	// attempt with no retries; a failure still halts the plan. Named as a
	// negative so the zero value
	// keeps the common case -- automatic compensation enabled.
	DisableAutoCompensation bool
}

// StepByName returns the step with the given name, or false if absent.
func (d *Definition) StepByName(name string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// IndexOf returns the position of a step name within the definition, or -1.
func (d *Definition) IndexOf(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks structural invariants: non-empty name, at least one step,
// unique step names, non-empty handler names.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition name: %w", sagaerr.ErrInvalidArgument)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %q has no steps: %w", d.Name, sagaerr.ErrDefinition)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("definition %q: step with empty name: %w", d.Name, sagaerr.ErrDefinition)
		}
		if s.HandlerName == "" {
			return fmt.Errorf("definition %q: step %q has no handler: %w", d.Name, s.Name, sagaerr.ErrDefinition)
		}
		if seen[s.Name] {
			return fmt.Errorf("definition %q: duplicate step name %q: %w", d.Name, s.Name, sagaerr.ErrDefinition)
		}
		seen[s.Name] = true
		if s.Compensation != nil {
			if s.Compensation.MaxRetries < -1 {
				return fmt.Errorf("definition %q: step %q compensation max retries must be >= -1: %w", d.Name, s.Name, sagaerr.ErrDefinition)
			}
			if s.Compensation.Strategy == "" {
				s.Compensation.Strategy = StrategyDefault
			}
		}
	}
	if d.CompensationOrder == "" {
		d.CompensationOrder = CompensationReverse
	}
	return nil
}
