package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/compensation"
	"github.com/sagaflow/engine/correlation"
	"github.com/sagaflow/engine/eventlog"
	"github.com/sagaflow/engine/locking"
	"github.com/sagaflow/engine/outbox"
	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/store"
	"github.com/sagaflow/engine/store/memstore"
	"github.com/sagaflow/engine/timerwheel"
)

// outboxEnvelope mirrors the body Coordinator.enqueueOutboxEvent writes, so
// tests can assert on the type and saga ID of each published row instead of
// just the row count.
type outboxEnvelope struct {
	SagaID string             `json:"saga_id"`
	Type   eventlog.EventType `json:"type"`
}

func decodeOutbox(t *testing.T, messages []*outbox.Message) []outboxEnvelope {
	t.Helper()
	out := make([]outboxEnvelope, len(messages))
	for i, msg := range messages {
		var env outboxEnvelope
		require.NoError(t, json.Unmarshal(msg.Body, &env))
		out[i] = env
	}
	return out
}

// fakeScheduler records Schedule/Cancel calls without running a real wheel,
// so tests can assert the coordinator arms and disarms deadline timers
// without depending on wall-clock timing.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	canceled  []string
}

func (f *fakeScheduler) Schedule(sagaID, _ string, _ timerwheel.Kind, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, sagaID)
	return "tmr-" + sagaID, nil
}

func (f *fakeScheduler) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
}

func (f *fakeScheduler) snapshot() (scheduled, canceled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scheduled...), append([]string(nil), f.canceled...)
}

func newTestCoordinator(t *testing.T, def *saga.Definition, handlers *HandlerRegistry, compHandlers *compensation.HandlerRegistry) (*Coordinator, *outbox.MemStore) {
	t.Helper()
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(def))

	ob := outbox.NewMemStore()
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Definitions: registry,
		Store:       memstore.New(),
		Events:      eventlog.NewMemLog(),
		Outbox:      ob,
		Lock:        locking.NewInMemoryLock(),
		Handlers:    handlers,
		CompRunner:  compensation.NewRunner(compHandlers, nil),
		ShardCount:  2,
		ShardQueue:  8,
	})
	t.Cleanup(c.Stop)
	return c, ob
}

func waitForStatus(t *testing.T, c *Coordinator, sagaID string, want store.Status) *store.Instance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := c.GetState(context.Background(), sagaID)
		require.NoError(t, err)
		if inst.Status == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("saga %s did not reach status %s", sagaID, want)
	return nil
}

func TestCoordinatorHappyPath(t *testing.T) {
	def := &saga.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Steps: []saga.StepDefinition{
			{Name: "reserve-inventory", HandlerName: "reserve"},
			{Name: "charge-payment", HandlerName: "charge"},
		},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"reserved": true}, nil
	}))
	handlers.Register("charge", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"charged": true}, nil
	}))

	c, ob := newTestCoordinator(t, def, handlers, compensation.NewHandlerRegistry())

	inst, err := c.StartSaga(context.Background(), StartInput{
		DefinitionName: "order-fulfillment",
		TenantID:       "tenant-a",
	})
	require.NoError(t, err)

	final := waitForStatus(t, c, inst.SagaID, store.StatusCompleted)
	require.Len(t, final.StepHistory, 2)

	rows := decodeOutbox(t, ob.Snapshot())
	var sagaCompleted []outboxEnvelope
	for _, row := range rows {
		if row.Type == eventlog.EventSagaCompleted {
			sagaCompleted = append(sagaCompleted, row)
		}
	}
	require.Len(t, sagaCompleted, 1, "exactly one SagaCompleted row published")
	require.Equal(t, inst.SagaID, sagaCompleted[0].SagaID)
}

func TestCoordinatorFindByCorrelationID(t *testing.T) {
	def := &saga.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Steps:   []saga.StepDefinition{{Name: "reserve-inventory", HandlerName: "reserve"}},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return nil, nil
	}))

	c, _ := newTestCoordinator(t, def, handlers, compensation.NewHandlerRegistry())

	inst, err := c.StartSaga(context.Background(), StartInput{
		DefinitionName: "order-fulfillment",
		CorrelationID:  "order-42",
	})
	require.NoError(t, err)
	waitForStatus(t, c, inst.SagaID, store.StatusCompleted)

	found, err := c.FindByCorrelationID(context.Background(), "order-42", correlation.QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, found, "completed sagas excluded unless IncludeCompleted")

	found, err = c.FindByCorrelationID(context.Background(), "order-42", correlation.QueryOptions{IncludeCompleted: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, inst.SagaID, found[0].SagaID)
}

func TestCoordinatorFailureTriggersCompensation(t *testing.T) {
	def := &saga.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		CompensationOrder: saga.CompensationReverse,
		Steps: []saga.StepDefinition{
			{
				Name:         "reserve-inventory",
				HandlerName:  "reserve",
				Compensation: &saga.CompensationSpec{HandlerName: "release-inventory"},
			},
			{Name: "charge-payment", HandlerName: "charge-fails"},
		},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"reserved": true}, nil
	}))
	handlers.Register("charge-fails", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return nil, errBoom
	}))

	var released bool
	compHandlers := compensation.NewHandlerRegistry()
	compHandlers.Register("release-inventory", compensation.HandlerFunc(func(ctx context.Context, stepOutput, config map[string]any) error {
		released = true
		return nil
	}))

	c, ob := newTestCoordinator(t, def, handlers, compHandlers)

	inst, err := c.StartSaga(context.Background(), StartInput{DefinitionName: "order-fulfillment"})
	require.NoError(t, err)

	final := waitForStatus(t, c, inst.SagaID, store.StatusCompensated)
	require.True(t, released)
	require.Equal(t, "charge-payment", final.FailedStep)

	rows := decodeOutbox(t, ob.Snapshot())
	var compensatedIdx, terminalIdx = -1, -1
	for i, row := range rows {
		require.Equal(t, inst.SagaID, row.SagaID)
		switch row.Type {
		case eventlog.EventStepCompensated:
			compensatedIdx = i
		case eventlog.EventSagaCompensated, eventlog.EventSagaFault:
			terminalIdx = i
		}
	}
	require.GreaterOrEqual(t, compensatedIdx, 0, "InventoryReleased-equivalent step.compensated row published")
	require.GreaterOrEqual(t, terminalIdx, 0, "terminal SagaCompensated row published")
	require.Less(t, compensatedIdx, terminalIdx, "compensation rows precede the terminal SagaCompensated/SagaFault row")
}

func TestCoordinatorProcessEventStartsByTrigger(t *testing.T) {
	def := &saga.Definition{
		Name:          "order-fulfillment",
		Version:       1,
		TriggerEvents: []string{"order.placed"},
		Steps:         []saga.StepDefinition{{Name: "reserve-inventory", HandlerName: "reserve"}},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}))

	c, _ := newTestCoordinator(t, def, handlers, compensation.NewHandlerRegistry())

	require.NoError(t, c.ProcessEvent(context.Background(), Event{
		Type:      "order.placed",
		MessageID: "msg-1",
		Payload:   map[string]any{"order_id": "order-7"},
	}))

	require.Eventually(t, func() bool {
		found, err := c.ListSagas(context.Background(), store.Filter{DefinitionName: "order-fulfillment"})
		return err == nil && len(found) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinatorProcessEventIgnoresUnmatchedTrigger(t *testing.T) {
	def := &saga.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Steps:   []saga.StepDefinition{{Name: "reserve-inventory", HandlerName: "reserve"}},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}))

	var notFound bool
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(def))
	ob := outbox.NewMemStore()
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Definitions: registry,
		Store:       memstore.New(),
		Events:      eventlog.NewMemLog(),
		Outbox:      ob,
		Lock:        locking.NewInMemoryLock(),
		Handlers:    handlers,
		CompRunner:  compensation.NewRunner(compensation.NewHandlerRegistry(), nil),
		ShardCount:  1,
		ShardQueue:  4,
		NotFoundHandler: func(ctx context.Context, event Event) {
			notFound = true
		},
	})
	t.Cleanup(c.Stop)

	require.NoError(t, c.ProcessEvent(context.Background(), Event{Type: "unrelated.event"}))
	require.True(t, notFound)
}

func TestCoordinatorArmsAndDisarmsDeadlineTimer(t *testing.T) {
	def := &saga.Definition{
		Name:      "order-fulfillment",
		Version:   1,
		TimeoutMS: 60_000,
		Steps:     []saga.StepDefinition{{Name: "reserve-inventory", HandlerName: "reserve"}},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}))

	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(def))
	ob := outbox.NewMemStore()
	sched := &fakeScheduler{}
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Definitions: registry,
		Store:       memstore.New(),
		Events:      eventlog.NewMemLog(),
		Outbox:      ob,
		Lock:        locking.NewInMemoryLock(),
		Handlers:    handlers,
		CompRunner:  compensation.NewRunner(compensation.NewHandlerRegistry(), nil),
		Scheduler:   sched,
		ShardCount:  1,
		ShardQueue:  4,
	})
	t.Cleanup(c.Stop)

	inst, err := c.StartSaga(context.Background(), StartInput{DefinitionName: "order-fulfillment"})
	require.NoError(t, err)
	waitForStatus(t, c, inst.SagaID, store.StatusCompleted)

	scheduled, canceled := sched.snapshot()
	require.Equal(t, []string{inst.SagaID}, scheduled, "deadline timer armed on start")
	require.Equal(t, []string{"tmr-" + inst.SagaID}, canceled, "deadline timer disarmed on completion")
}

func TestCoordinatorTimeoutSagaDrivesCompensation(t *testing.T) {
	def := &saga.Definition{
		Name:              "order-fulfillment",
		Version:           1,
		CompensationOrder: saga.CompensationReverse,
		Steps: []saga.StepDefinition{
			{
				Name:         "reserve-inventory",
				HandlerName:  "reserve",
				Compensation: &saga.CompensationSpec{HandlerName: "release-inventory"},
			},
		},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"reserved": true}, nil
	}))

	var released bool
	compHandlers := compensation.NewHandlerRegistry()
	compHandlers.Register("release-inventory", compensation.HandlerFunc(func(ctx context.Context, stepOutput, config map[string]any) error {
		released = true
		return nil
	}))

	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(def))
	st := memstore.New()
	c := NewCoordinator(context.Background(), CoordinatorConfig{
		Definitions: registry,
		Store:       st,
		Events:      eventlog.NewMemLog(),
		Outbox:      outbox.NewMemStore(),
		Lock:        locking.NewInMemoryLock(),
		Handlers:    handlers,
		CompRunner:  compensation.NewRunner(compHandlers, nil),
		ShardCount:  1,
		ShardQueue:  4,
	})
	t.Cleanup(c.Stop)

	// Seed a running instance directly rather than going through StartSaga,
	// so the reserve-inventory step is recorded as already completed and
	// TimeoutSaga is exercised in isolation from the normal step-advance path.
	now := time.Now()
	inst := &store.Instance{
		SagaID:            "saga-timeout-1",
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		Status:            store.StatusRunning,
		CurrentStepIndex:  1,
		StartedAt:         now,
		StepHistory: []store.StepRecord{
			{StepName: "reserve-inventory", Output: map[string]any{"reserved": true}, CompletedAt: now},
		},
	}
	require.NoError(t, st.Create(context.Background(), inst))

	require.NoError(t, c.TimeoutSaga(context.Background(), inst.SagaID))

	final := waitForStatus(t, c, inst.SagaID, store.StatusCompensated)
	require.True(t, released)
	require.Empty(t, final.FailedStep)
}

func TestCoordinatorCompensationExhaustionEmitsSagaFault(t *testing.T) {
	def := &saga.Definition{
		Name:              "order-fulfillment",
		Version:           1,
		CompensationOrder: saga.CompensationReverse,
		Steps: []saga.StepDefinition{
			{
				Name:        "reserve-inventory",
				HandlerName: "reserve",
				Compensation: &saga.CompensationSpec{
					HandlerName: "release-inventory",
					MaxRetries:  2,
					Strategy:    saga.StrategyManualIntervention,
				},
			},
			{Name: "charge-payment", HandlerName: "charge-fails"},
		},
	}
	handlers := NewHandlerRegistry()
	handlers.Register("reserve", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"reserved": true}, nil
	}))
	handlers.Register("charge-fails", StepHandlerFunc(func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return nil, errBoom
	}))

	compHandlers := compensation.NewHandlerRegistry()
	compHandlers.Register("release-inventory", compensation.HandlerFunc(func(ctx context.Context, stepOutput, config map[string]any) error {
		return errBoom
	}))

	c, ob := newTestCoordinator(t, def, handlers, compHandlers)

	inst, err := c.StartSaga(context.Background(), StartInput{DefinitionName: "order-fulfillment"})
	require.NoError(t, err)

	// The compensator's two retries run through real exponential backoff
	// delays, so this needs more headroom than waitForStatus's fixed budget.
	var final *store.Instance
	require.Eventually(t, func() bool {
		inst2, err := c.GetState(context.Background(), inst.SagaID)
		require.NoError(t, err)
		if inst2.Status != store.StatusFailed {
			return false
		}
		final = inst2
		return true
	}, 10*time.Second, 20*time.Millisecond)
	require.Len(t, final.StepHistory, 1, "reserve-inventory is the only step that ran")
	require.True(t, final.StepHistory[0].Compensated)
	require.Equal(t, 3, final.StepHistory[0].Attempts, "initial attempt plus two retries")

	var fault eventlog.SagaFaultBody
	var found bool
	for _, msg := range ob.Snapshot() {
		var env struct {
			SagaID  string                  `json:"saga_id"`
			Type    eventlog.EventType      `json:"type"`
			Payload eventlog.SagaFaultBody `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg.Body, &env))
		if env.Type == eventlog.EventSagaFault {
			fault = env.Payload
			found = true
		}
	}
	require.True(t, found, "SagaFault row published to the outbox")
	require.Equal(t, inst.SagaID, fault.SagaID)
	require.Equal(t, "reserve-inventory", fault.FailedStepName)
	require.Equal(t, "ManualInterventionRequired", fault.Metadata.ExceptionType)
	require.NotEmpty(t, fault.FaultReason)
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
