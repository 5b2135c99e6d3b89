// Package compensation builds and describes the undo plan for a saga that
// failed partway through, grounded on the teacher's
// Coordinator.TriggerCompensation (orchestration/saga.go): walk the
// completed steps in the order the definition's CompensationOrder calls
// for, and emit one Action per step that declared a
// CompensationSpec.
package compensation

import (
	"sort"

	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/store"
)

// Action is one compensating call to make: which handler, with what
// context (the original step's output, needed by most compensators to know
// what to undo), and the ordering/retry/failure policy carried over from
// the step's CompensationSpec.
type Action struct {
	StepName   string
	Handler    string
	Config     map[string]any
	StepOutput map[string]any
	Order      int
	MaxRetries int
	Strategy   saga.CompensationStrategy
}

// Plan is the ordered list of compensations for one saga instance.
type Plan struct {
	SagaID string
	Steps  []Action
	// EnableAutoCompensation gates StrategyDefault actions: when false they
	// get a single attempt with no retries, and a failure still halts the
	// plan.
	EnableAutoCompensation bool
}

// Build constructs the compensation plan for inst against def. Only steps
// that both completed and declared a CompensationSpec are included; steps
// that never ran, or ran without a compensation, are skipped (nothing to
// undo). The definition's CompensationOrder establishes the default
// sequence; a compensator with an explicit Order is stable-sorted into that
// sequence by ascending Order, while compensators left at the zero value
// keep their default relative position.
func Build(def *saga.Definition, inst *store.Instance) *Plan {
	ordered := make([]store.StepRecord, len(inst.StepHistory))
	copy(ordered, inst.StepHistory)

	if def.CompensationOrder == saga.CompensationReverse {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	plan := &Plan{SagaID: inst.SagaID, EnableAutoCompensation: !def.DisableAutoCompensation}
	for _, rec := range ordered {
		if rec.Compensated {
			continue
		}
		step, ok := def.StepByName(rec.StepName)
		if !ok || step.Compensation == nil {
			continue
		}
		plan.Steps = append(plan.Steps, Action{
			StepName:   rec.StepName,
			Handler:    step.Compensation.HandlerName,
			Config:     step.Compensation.Config,
			StepOutput: rec.Output,
			Order:      step.Compensation.Order,
			MaxRetries: step.Compensation.MaxRetries,
			Strategy:   step.Compensation.Strategy,
		})
	}
	sort.SliceStable(plan.Steps, func(i, j int) bool {
		return plan.Steps[i].Order < plan.Steps[j].Order
	})
	return plan
}

// Remaining reports how many actions the plan holds.
func (p *Plan) Remaining() int {
	return len(p.Steps)
}
