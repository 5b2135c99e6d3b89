package compensation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/sagaerr"
)

// Handler undoes the effect of one completed step.
type Handler interface {
	Compensate(ctx context.Context, stepOutput map[string]any, config map[string]any) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, stepOutput map[string]any, config map[string]any) error

func (f HandlerFunc) Compensate(ctx context.Context, stepOutput, config map[string]any) error {
	return f(ctx, stepOutput, config)
}

// Lookup resolves a compensation handler by name.
type Lookup interface {
	CompensationHandler(name string) (Handler, bool)
}

// Result records the outcome of one compensation action.
type Result struct {
	StepName string
	Err      error
	// Attempts counts how many times the compensator was invoked (the
	// initial attempt plus any retries).
	Attempts int
	// Skipped is set when a StrategySkip action failed but the plan
	// continued past it anyway.
	Skipped bool
	// ManualInterventionRequired is set when a StrategyManualIntervention
	// action failed, halting the plan.
	ManualInterventionRequired bool
}

// Runner executes a Plan's actions against a Lookup, retrying each action
// with exponential backoff (cenkalti/backoff/v4) before recording it as
// failed. MaxRetries is the default retry budget; an action's own
// MaxRetries (via its CompensationSpec) overrides it when non-negative.
type Runner struct {
	Handlers   Lookup
	Logger     *slog.Logger
	MaxRetries uint64
}

// NewRunner creates a Runner with sensible retry defaults.
func NewRunner(handlers Lookup, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Handlers: handlers, Logger: logger, MaxRetries: 3}
}

// Run executes every action in the plan in order. StrategySkip records a
// failure and continues with the rest of the plan; every other strategy
// halts the plan on the first unresolved failure (spec: a compensation
// failure leaves the saga in a failed-compensation state for operator
// intervention, rather than skipping ahead).
func (r *Runner) Run(ctx context.Context, plan *Plan) []Result {
	results := make([]Result, 0, len(plan.Steps))

	for _, action := range plan.Steps {
		strategy := action.Strategy
		if strategy == "" {
			strategy = saga.StrategyDefault
		}

		retry := strategy == saga.StrategyRetry || strategy == saga.StrategyManualIntervention ||
			(strategy == saga.StrategyDefault && plan.EnableAutoCompensation)
		maxRetries := r.MaxRetries
		if action.MaxRetries >= 0 {
			maxRetries = uint64(action.MaxRetries)
		}
		if !retry {
			maxRetries = 0
		}

		attempts, err := r.runOne(ctx, action, maxRetries)
		res := Result{StepName: action.StepName, Err: err, Attempts: attempts}

		if err == nil {
			r.Logger.Info("compensation step completed", "saga_id", plan.SagaID, "step", action.StepName, "attempts", attempts)
			results = append(results, res)
			continue
		}

		switch strategy {
		case saga.StrategySkip:
			res.Skipped = true
			r.Logger.Warn("compensation step failed, skipping per strategy", "saga_id", plan.SagaID, "step", action.StepName, "attempts", attempts, "error", err)
			results = append(results, res)
			continue
		case saga.StrategyManualIntervention:
			res.ManualInterventionRequired = true
			r.Logger.Error("compensation step failed, manual intervention required", "saga_id", plan.SagaID, "step", action.StepName, "attempts", attempts, "error", err)
			results = append(results, res)
			return results
		default:
			r.Logger.Error("compensation step failed", "saga_id", plan.SagaID, "step", action.StepName, "attempts", attempts, "error", err)
			results = append(results, res)
			return results
		}
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, action Action, maxRetries uint64) (int, error) {
	handler, ok := r.Handlers.CompensationHandler(action.Handler)
	if !ok {
		return 0, fmt.Errorf("compensation handler %q: %w", action.Handler, sagaerr.ErrCompensator)
	}

	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	err := backoff.Retry(func() error {
		attempts++
		if err := handler.Compensate(ctx, action.StepOutput, action.Config); err != nil {
			return fmt.Errorf("%w: %v", sagaerr.ErrCompensator, err)
		}
		return nil
	}, policy)
	return attempts, err
}
