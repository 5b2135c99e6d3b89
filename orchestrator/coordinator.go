// Package orchestrator hosts the Coordinator: the component that drives a
// saga instance from StartSaga through to completion or compensation,
// adapted from the teacher's orchestration.Coordinator but generalized to
// operate against a registered saga.Definition, a durable store.StateStore
// with optimistic concurrency, an eventlog.Log for history, an outbox.Store
// for outbound side effects, and a locking.DistributedLock for the
// per-SagaID critical section. Step execution for a given SagaID is routed
// through the same shard (shardRouter); TimeoutSaga runs on its caller's
// goroutine and is serialized with that work by the lock alone. The lock
// gives a single-owner guarantee that is never combined with store-level
// optimistic retries on the same write path.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagaflow/engine/clock"
	"github.com/sagaflow/engine/compensation"
	"github.com/sagaflow/engine/correlation"
	"github.com/sagaflow/engine/eventlog"
	"github.com/sagaflow/engine/locking"
	"github.com/sagaflow/engine/metrics"
	"github.com/sagaflow/engine/outbox"
	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"
	"github.com/sagaflow/engine/timerwheel"
)

// Scheduler arms and disarms future timer firings for saga deadlines.
// Implemented by *timerwheel.Wheel; a nil Scheduler on Coordinator means
// StartSaga never arms a deadline timer, so TimeoutSaga is then only
// reachable via an external caller.
type Scheduler interface {
	Schedule(sagaID, stepName string, kind timerwheel.Kind, firesAt time.Time) (string, error)
	Cancel(id string)
}

// StartInput is the request to begin a new saga instance.
type StartInput struct {
	SagaID            string
	DefinitionName    string
	DefinitionVersion int
	TenantID          string
	CorrelationID     string
	Input             map[string]any
}

// Event is an inbound occurrence the coordinator may route to an existing
// saga instance (by CorrelationID) or use to start a new one (by matching
// a definition's TriggerEvents).
type Event struct {
	Type          string
	MessageID     string
	CorrelationID string
	TenantID      string
	Payload       map[string]any
}

// Coordinator drives saga instances forward, triggers compensation on
// failure, and owns the per-SagaID critical section.
type Coordinator struct {
	Definitions *saga.Registry
	Store       store.StateStore
	Events      eventlog.Log
	Outbox      outbox.Store
	Lock        locking.DistributedLock
	Handlers    *HandlerRegistry
	CompRunner  *compensation.Runner
	Correlation correlation.Index
	Scheduler   Scheduler
	Metrics     *metrics.Collector
	Router      *shardRouter
	Clock       clock.Clock
	Logger      *slog.Logger
	LockTTL     time.Duration
	OutboxTopic string
	// NotFoundHandler, when set, is invoked for an inbound event whose
	// CorrelationID matched no active saga, or which carries no
	// CorrelationID and whose Type matched no trigger-event registration.
	// Optional.
	NotFoundHandler func(ctx context.Context, event Event)
	// timeoutTimers tracks the Scheduler timer ID armed for each running
	// saga's deadline, so it can be disarmed once the saga leaves the
	// running state by any path other than the timer itself firing.
	timeoutTimers sync.Map
}

// CoordinatorConfig configures a new Coordinator.
type CoordinatorConfig struct {
	Definitions     *saga.Registry
	Store           store.StateStore
	Events          eventlog.Log
	Outbox          outbox.Store
	Lock            locking.DistributedLock
	Handlers        *HandlerRegistry
	CompRunner      *compensation.Runner
	Correlation     correlation.Index
	Scheduler       Scheduler
	Metrics         *metrics.Collector
	ShardCount      int
	ShardQueue      int
	Clock           clock.Clock
	Logger          *slog.Logger
	LockTTL         time.Duration
	OutboxTopic     string
	NotFoundHandler func(ctx context.Context, event Event)
}

// NewCoordinator wires a Coordinator and starts its shard executors.
func NewCoordinator(ctx context.Context, cfg CoordinatorConfig) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.OutboxTopic == "" {
		cfg.OutboxTopic = "saga.events"
	}
	if cfg.Correlation == nil {
		cfg.Correlation = correlation.NewMemIndex()
	}
	router := newShardRouter(cfg.ShardCount, cfg.ShardQueue)
	router.start(ctx)
	return &Coordinator{
		Definitions:     cfg.Definitions,
		Store:           cfg.Store,
		Events:          cfg.Events,
		Outbox:          cfg.Outbox,
		Lock:            cfg.Lock,
		Handlers:        cfg.Handlers,
		CompRunner:      cfg.CompRunner,
		Correlation:     cfg.Correlation,
		Scheduler:       cfg.Scheduler,
		Metrics:         cfg.Metrics,
		Router:          router,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger,
		LockTTL:         cfg.LockTTL,
		OutboxTopic:     cfg.OutboxTopic,
		NotFoundHandler: cfg.NotFoundHandler,
	}
}

// Stop shuts down the coordinator's shard executors.
func (c *Coordinator) Stop() {
	c.Router.stop()
}

// withSagaLock runs fn while holding the per-SagaID distributed lock. This
// is the coordinator's single concurrency-control mechanism for a saga's
// critical section; it is never paired with retrying a lost
// CompareAndSwap race, since the lock already guarantees exclusivity.
func (c *Coordinator) withSagaLock(ctx context.Context, sagaID string, fn func(ctx context.Context) error) error {
	release, err := c.Lock.Acquire(ctx, lockKey(sagaID), c.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for saga %s: %w", sagaID, err)
	}
	defer release()
	return fn(ctx)
}

func lockKey(sagaID string) string {
	return "saga:" + sagaID
}

// cancelTimeout disarms a saga's deadline timer once it leaves the running
// state by any path other than the timer itself firing.
func (c *Coordinator) cancelTimeout(sagaID string) {
	if c.Scheduler == nil {
		return
	}
	if id, ok := c.timeoutTimers.LoadAndDelete(sagaID); ok {
		c.Scheduler.Cancel(id.(string))
	}
}

// StartSaga creates a new saga instance, durably records it, appends the
// saga.started event, and schedules the first step for execution.
func (c *Coordinator) StartSaga(ctx context.Context, in StartInput) (*store.Instance, error) {
	if in.SagaID == "" {
		in.SagaID = uuid.NewString()
	}
	def, err := c.resolveDefinition(in.DefinitionName, in.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	now := c.Clock.Now()
	var deadline *time.Time
	if def.TimeoutMS > 0 {
		d := now.Add(time.Duration(def.TimeoutMS) * time.Millisecond)
		deadline = &d
	}

	inst := &store.Instance{
		SagaID:            in.SagaID,
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		TenantID:          in.TenantID,
		CorrelationID:     in.CorrelationID,
		Status:            store.StatusRunning,
		CurrentStepIndex:  0,
		StartedAt:         now,
		DeadlineAt:        deadline,
		Version:           0,
	}

	if err := c.Store.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create saga %s: %w", in.SagaID, err)
	}

	if err := c.appendEvent(ctx, in.SagaID, eventlog.EventSagaStarted, map[string]any{
		"definition_name":    def.Name,
		"definition_version": def.Version,
		"tenant_id":          in.TenantID,
		"correlation_id":     in.CorrelationID,
		"input":              in.Input,
	}); err != nil {
		return nil, err
	}

	if err := c.Correlation.IndexSaga(ctx, in.SagaID, def.Name, in.CorrelationID, correlation.SagaStatus(store.StatusRunning), now); err != nil {
		c.Logger.Warn("failed to index saga correlation", "saga_id", in.SagaID, "error", err)
	}

	if deadline != nil && c.Scheduler != nil {
		timerID, err := c.Scheduler.Schedule(in.SagaID, "", timerwheel.KindTimeout, *deadline)
		if err != nil {
			c.Logger.Warn("failed to arm saga deadline timer", "saga_id", in.SagaID, "error", err)
		} else {
			c.timeoutTimers.Store(in.SagaID, timerID)
		}
	}

	if c.Metrics != nil {
		c.Metrics.SagasStarted.WithLabelValues(def.Name).Inc()
	}
	c.Logger.Info("saga started", "saga_id", in.SagaID, "definition", def.Name, "version", def.Version)

	if err := c.Router.submit(ctx, in.SagaID, func(bgCtx context.Context) {
		c.runStep(bgCtx, in.SagaID, in.Input, "")
	}); err != nil {
		c.Logger.Error("failed to schedule first step", "saga_id", in.SagaID, "error", err)
	}

	return inst, nil
}

// ProcessEvent resolves the saga instance(s) an inbound event applies to --
// by correlation ID if present, otherwise by the definition registry's
// trigger-event mapping -- and drives each candidate's current step with
// the event's payload. A CorrelationID match against no active saga is
// handed to NotFoundHandler rather than silently dropped; an event that
// matches neither an active saga nor a trigger registration is also handed
// off, since the engine has nothing to do with it.
func (c *Coordinator) ProcessEvent(ctx context.Context, event Event) error {
	if event.CorrelationID != "" {
		ids, err := c.Correlation.FindByCorrelationID(ctx, event.CorrelationID, correlation.QueryOptions{})
		if err != nil {
			return fmt.Errorf("resolve correlation %s: %w", event.CorrelationID, err)
		}
		if len(ids) == 0 {
			c.handleNotFound(ctx, event)
			return nil
		}
		for _, sagaID := range ids {
			if err := c.Router.submit(ctx, sagaID, func(bgCtx context.Context) {
				c.runStep(bgCtx, sagaID, event.Payload, event.MessageID)
			}); err != nil {
				c.Logger.Error("failed to route event to saga", "saga_id", sagaID, "error", err)
			}
		}
		return nil
	}

	defs := c.Definitions.ResolveByTriggerEvent(event.Type)
	if len(defs) == 0 {
		c.handleNotFound(ctx, event)
		return nil
	}
	for _, def := range defs {
		if _, err := c.StartSaga(ctx, StartInput{
			DefinitionName:    def.Name,
			DefinitionVersion: def.Version,
			TenantID:          event.TenantID,
			CorrelationID:     event.CorrelationID,
			Input:             event.Payload,
		}); err != nil {
			c.Logger.Error("failed to start saga from trigger event", "definition", def.Name, "event_type", event.Type, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) handleNotFound(ctx context.Context, event Event) {
	if c.NotFoundHandler != nil {
		c.NotFoundHandler(ctx, event)
		return
	}
	c.Logger.Warn("event matched no active saga or trigger", "event_type", event.Type, "correlation_id", event.CorrelationID)
}

func (c *Coordinator) resolveDefinition(name string, version int) (*saga.Definition, error) {
	if version <= 0 {
		return c.Definitions.Latest(name)
	}
	return c.Definitions.Get(name, version)
}

// runStep executes the current step of a running saga under the saga's
// lock, advancing on success or triggering compensation on failure.
// messageID, when non-empty, is the inbound event ID that triggered this
// run; if a step record already carries that ID the step is skipped as
// already-processed rather than re-executed.
func (c *Coordinator) runStep(ctx context.Context, sagaID string, stepInput map[string]any, messageID string) {
	err := c.withSagaLock(ctx, sagaID, func(ctx context.Context) error {
		inst, err := c.Store.Get(ctx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status != store.StatusRunning {
			return nil
		}
		if messageID != "" && hasProcessedMessage(inst, messageID) {
			c.Logger.Info("duplicate event ignored", "saga_id", sagaID, "message_id", messageID)
			return nil
		}
		def, err := c.Definitions.Get(inst.DefinitionName, inst.DefinitionVersion)
		if err != nil {
			return err
		}
		if inst.CurrentStepIndex >= len(def.Steps) {
			return c.completeLocked(ctx, inst)
		}

		step := def.Steps[inst.CurrentStepIndex]
		handler, ok := c.Handlers.Get(step.HandlerName)
		if !ok {
			if failErr := c.failLocked(ctx, inst, step.Name, fmt.Errorf("%w: handler %q not registered", sagaerr.ErrHandler, step.HandlerName)); failErr != nil {
				return failErr
			}
			return c.beginCompensationLocked(ctx, sagaID)
		}

		if err := c.appendEvent(ctx, sagaID, eventlog.EventStepStarted, map[string]any{"step": step.Name}); err != nil {
			return err
		}

		stepStart := time.Now()
		output, stepErr := handler.Execute(ctx, stepInput)
		if c.Metrics != nil {
			c.Metrics.ObserveStep(inst.DefinitionName, step.Name, time.Since(stepStart))
		}
		if stepErr != nil {
			if failErr := c.failLocked(ctx, inst, step.Name, stepErr); failErr != nil {
				return failErr
			}
			return c.beginCompensationLocked(ctx, sagaID)
		}

		return c.advanceLocked(ctx, inst, step, output, messageID)
	})
	if err != nil {
		c.Logger.Error("saga step execution error", "saga_id", sagaID, "error", err)
		return
	}

	inst, err := c.Store.Get(ctx, sagaID)
	if err != nil {
		c.Logger.Error("saga lookup after step failed", "saga_id", sagaID, "error", err)
		return
	}
	switch inst.Status {
	case store.StatusRunning:
		c.reschedule(ctx, sagaID)
	case store.StatusCompensating:
		c.runCompensation(ctx, sagaID)
	}
}

func (c *Coordinator) reschedule(ctx context.Context, sagaID string) {
	if err := c.Router.submit(ctx, sagaID, func(bgCtx context.Context) {
		c.runStep(bgCtx, sagaID, nil, "")
	}); err != nil {
		c.Logger.Error("failed to reschedule saga step", "saga_id", sagaID, "error", err)
	}
}

func hasProcessedMessage(inst *store.Instance, messageID string) bool {
	for _, rec := range inst.StepHistory {
		if rec.MessageID == messageID {
			return true
		}
	}
	return false
}

// advanceLocked records a successful step and advances CurrentStepIndex,
// or marks the saga complete if that was the last step.
func (c *Coordinator) advanceLocked(ctx context.Context, inst *store.Instance, step saga.StepDefinition, output map[string]any, messageID string) error {
	rec := store.StepRecord{
		StepName:    step.Name,
		MessageID:   messageID,
		Output:      output,
		CompletedAt: c.Clock.Now(),
	}
	updated := inst.Clone()
	updated.StepHistory = append(updated.StepHistory, rec)
	updated.CurrentStepIndex++

	if err := c.Store.CompareAndSwap(ctx, updated, inst.Version); err != nil {
		return fmt.Errorf("advance saga %s: %w", inst.SagaID, err)
	}
	if err := c.appendEvent(ctx, inst.SagaID, eventlog.EventStepCompleted, map[string]any{
		"step":   step.Name,
		"output": output,
	}); err != nil {
		return err
	}
	if err := c.enqueueOutboxEvent(ctx, inst.SagaID, eventlog.EventStepCompleted, rec); err != nil {
		return err
	}
	c.Logger.Info("saga step completed", "saga_id", inst.SagaID, "step", step.Name)
	return nil
}

// completeLocked marks a saga successfully completed once every step has run.
func (c *Coordinator) completeLocked(ctx context.Context, inst *store.Instance) error {
	now := c.Clock.Now()
	updated := inst.Clone()
	updated.Status = store.StatusCompleted
	updated.CompletedAt = &now

	if err := c.Store.CompareAndSwap(ctx, updated, inst.Version); err != nil {
		return fmt.Errorf("complete saga %s: %w", inst.SagaID, err)
	}
	if err := c.appendEvent(ctx, inst.SagaID, eventlog.EventSagaCompleted, map[string]any{}); err != nil {
		return err
	}
	if err := c.enqueueOutboxEvent(ctx, inst.SagaID, eventlog.EventSagaCompleted, map[string]any{}); err != nil {
		return err
	}
	if err := c.Correlation.UpdateStatus(ctx, inst.SagaID, correlation.SagaStatus(store.StatusCompleted)); err != nil {
		c.Logger.Warn("failed to update saga correlation status", "saga_id", inst.SagaID, "error", err)
	}
	c.cancelTimeout(inst.SagaID)
	if c.Metrics != nil {
		c.Metrics.SagasCompleted.WithLabelValues(inst.DefinitionName).Inc()
	}
	c.Logger.Info("saga completed", "saga_id", inst.SagaID)
	return nil
}

// failLocked records the failing step and transitions the saga to
// compensating.
func (c *Coordinator) failLocked(ctx context.Context, inst *store.Instance, stepName string, stepErr error) error {
	updated := inst.Clone()
	updated.Status = store.StatusCompensating
	updated.FailedStep = stepName
	updated.FailureError = stepErr.Error()

	if err := c.Store.CompareAndSwap(ctx, updated, inst.Version); err != nil {
		return fmt.Errorf("fail saga %s: %w", inst.SagaID, err)
	}
	if err := c.appendEvent(ctx, inst.SagaID, eventlog.EventStepFailed, map[string]any{
		"step":  stepName,
		"error": stepErr.Error(),
	}); err != nil {
		return err
	}
	if err := c.Correlation.UpdateStatus(ctx, inst.SagaID, correlation.SagaStatus(store.StatusCompensating)); err != nil {
		c.Logger.Warn("failed to update saga correlation status", "saga_id", inst.SagaID, "error", err)
	}
	c.cancelTimeout(inst.SagaID)
	c.Logger.Warn("saga step failed, compensation triggered", "saga_id", inst.SagaID, "step", stepName, "error", stepErr)
	return nil
}

func (c *Coordinator) beginCompensationLocked(ctx context.Context, sagaID string) error {
	return c.appendEvent(ctx, sagaID, eventlog.EventCompensationStarted, map[string]any{})
}

// runCompensation builds and executes the compensation plan for a saga that
// has transitioned to compensating, recording each undo step, publishing it
// to the outbox, and finishing the saga as compensated or failed. A failure
// (retries exhausted, or a StrategyManualIntervention compensator failing)
// emits a SagaFault in addition to the terminal event, both to the event
// log and the outbox.
func (c *Coordinator) runCompensation(ctx context.Context, sagaID string) {
	err := c.withSagaLock(ctx, sagaID, func(ctx context.Context) error {
		inst, err := c.Store.Get(ctx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status != store.StatusCompensating {
			return nil
		}
		def, err := c.Definitions.Get(inst.DefinitionName, inst.DefinitionVersion)
		if err != nil {
			return err
		}

		plan := compensation.Build(def, inst)
		results := c.CompRunner.Run(ctx, plan)

		updated := inst.Clone()
		failed := false
		manualIntervention := false
		var lastErr error
		var lastStepName string
		for _, res := range results {
			markStepCompensated(updated, res.StepName, res.Attempts)
			if err := c.appendEvent(ctx, sagaID, eventlog.EventStepCompensated, map[string]any{
				"step":     res.StepName,
				"error":    errString(res.Err),
				"attempts": res.Attempts,
				"skipped":  res.Skipped,
			}); err != nil {
				return err
			}
			if c.Metrics != nil {
				outcome := "ok"
				if res.Err != nil {
					outcome = "error"
				}
				c.Metrics.CompensationTotal.WithLabelValues(inst.DefinitionName, res.StepName, outcome).Inc()
			}
			if res.Err == nil || res.Skipped {
				if err := c.enqueueOutboxEvent(ctx, sagaID, eventlog.EventStepCompensated, map[string]any{
					"step":     res.StepName,
					"attempts": res.Attempts,
					"skipped":  res.Skipped,
				}); err != nil {
					return err
				}
			}
			if res.Err != nil && !res.Skipped {
				failed = true
				lastErr = res.Err
				lastStepName = res.StepName
				manualIntervention = res.ManualInterventionRequired
				break
			}
		}

		now := c.Clock.Now()
		if failed {
			updated.Status = store.StatusFailed
			updated.CompletedAt = &now
		} else {
			updated.Status = store.StatusCompensated
			updated.CompletedAt = &now
		}

		if err := c.Store.CompareAndSwap(ctx, updated, inst.Version); err != nil {
			return fmt.Errorf("finish compensation for saga %s: %w", sagaID, err)
		}

		if failed {
			reason := fmt.Sprintf("compensation failed: %s", errString(lastErr))
			exceptionType := "CompensationExhausted"
			if manualIntervention {
				reason = "manual intervention required: " + errString(lastErr)
				exceptionType = "ManualInterventionRequired"
			}
			fault := eventlog.SagaFaultBody{
				SagaID:         sagaID,
				FailedStepName: lastStepName,
				FaultReason:    reason,
				Metadata: eventlog.FaultMetadata{
					ExceptionType: exceptionType,
					StackTrace:    errString(lastErr),
				},
			}
			if err := c.appendEvent(ctx, sagaID, eventlog.EventCompensationFailed, fault); err != nil {
				return err
			}
			if err := c.appendEvent(ctx, sagaID, eventlog.EventSagaFault, fault); err != nil {
				return err
			}
			if err := c.enqueueOutboxEvent(ctx, sagaID, eventlog.EventSagaFault, fault); err != nil {
				return err
			}
		} else {
			if err := c.appendEvent(ctx, sagaID, eventlog.EventSagaCompensated, map[string]any{}); err != nil {
				return err
			}
			if err := c.enqueueOutboxEvent(ctx, sagaID, eventlog.EventSagaCompensated, map[string]any{}); err != nil {
				return err
			}
		}
		if err := c.Correlation.UpdateStatus(ctx, sagaID, correlation.SagaStatus(updated.Status)); err != nil {
			c.Logger.Warn("failed to update saga correlation status", "saga_id", sagaID, "error", err)
		}
		if c.Metrics != nil {
			if failed {
				c.Metrics.SagasFailed.WithLabelValues(inst.DefinitionName).Inc()
			} else {
				c.Metrics.SagasCompensated.WithLabelValues(inst.DefinitionName).Inc()
			}
		}
		c.Logger.Info("saga compensation finished", "saga_id", sagaID, "failed", failed)
		return nil
	})
	if err != nil {
		c.Logger.Error("saga compensation error", "saga_id", sagaID, "error", err)
	}
}

func markStepCompensated(inst *store.Instance, stepName string, attempts int) {
	for i := range inst.StepHistory {
		if inst.StepHistory[i].StepName == stepName {
			inst.StepHistory[i].Compensated = true
			inst.StepHistory[i].Attempts = attempts
			return
		}
	}
}

// TimeoutSaga transitions a running saga past its deadline into
// compensation, invoked by the timeout scheduler. Unlike runStep, which
// drives compensation itself after observing a Compensating status, the
// timeout path runs outside the step-execution flow, so it kicks off
// runCompensation directly once the transition lands.
func (c *Coordinator) TimeoutSaga(ctx context.Context, sagaID string) error {
	timedOut := false
	err := c.withSagaLock(ctx, sagaID, func(ctx context.Context) error {
		inst, err := c.Store.Get(ctx, sagaID)
		if err != nil {
			return err
		}
		if inst.Status != store.StatusRunning {
			return nil
		}
		if err := c.failLocked(ctx, inst, "", fmt.Errorf("%w: saga deadline exceeded", sagaerr.ErrTimeout)); err != nil {
			return err
		}
		if err := c.appendEvent(ctx, sagaID, eventlog.EventSagaTimedOut, map[string]any{}); err != nil {
			return err
		}
		if err := c.beginCompensationLocked(ctx, sagaID); err != nil {
			return err
		}
		timedOut = true
		return nil
	})
	if err != nil {
		return err
	}
	if timedOut {
		c.runCompensation(ctx, sagaID)
	}
	return nil
}

// GetState returns the current durable state of a saga instance.
func (c *Coordinator) GetState(ctx context.Context, sagaID string) (*store.Instance, error) {
	return c.Store.Get(ctx, sagaID)
}

// ListSagas lists saga instances matching a filter.
func (c *Coordinator) ListSagas(ctx context.Context, f store.Filter) ([]*store.Instance, error) {
	return c.Store.List(ctx, f)
}

// FindByCorrelationID resolves the running (or, with IncludeCompleted, all)
// saga instances started under corrID, for callers that only know their
// own business correlation key.
func (c *Coordinator) FindByCorrelationID(ctx context.Context, corrID string, opts correlation.QueryOptions) ([]*store.Instance, error) {
	ids, err := c.Correlation.FindByCorrelationID(ctx, corrID, opts)
	if err != nil {
		return nil, err
	}
	instances := make([]*store.Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := c.Store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sagaerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (c *Coordinator) appendEvent(ctx context.Context, sagaID string, eventType eventlog.EventType, data any) error {
	if err := c.Events.Append(ctx, sagaID, eventType, data); err != nil {
		return fmt.Errorf("append event %s for saga %s: %w", eventType, sagaID, err)
	}
	return nil
}

func (c *Coordinator) enqueueOutboxEvent(ctx context.Context, sagaID string, eventType eventlog.EventType, payload any) error {
	if c.Outbox == nil {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"saga_id": sagaID,
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload for saga %s: %w", sagaID, err)
	}
	msg := &outbox.Message{
		ID:          uuid.NewString(),
		SagaID:      sagaID,
		Topic:       c.OutboxTopic,
		Key:         sagaID,
		Body:        body,
		Status:      outbox.StatusPending,
		CreatedAt:   c.Clock.Now(),
		AvailableAt: c.Clock.Now(),
	}
	if err := c.Outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue outbox message for saga %s: %w", sagaID, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
