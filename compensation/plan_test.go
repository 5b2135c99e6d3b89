package compensation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/store"
)

func checkoutDefinition() *saga.Definition {
	return &saga.Definition{
		Name:              "order.checkout",
		Version:           1,
		CompensationOrder: saga.CompensationReverse,
		Steps: []saga.StepDefinition{
			{Name: "reserve-inventory", HandlerName: "inventory.reserve", Compensation: &saga.CompensationSpec{HandlerName: "inventory.release"}},
			{Name: "charge-card", HandlerName: "payments.charge", Compensation: &saga.CompensationSpec{HandlerName: "payments.refund"}},
			{Name: "ship-order", HandlerName: "shipping.create"},
		},
	}
}

func instanceAfterTwoSteps() *store.Instance {
	return &store.Instance{
		SagaID: "saga-1",
		StepHistory: []store.StepRecord{
			{StepName: "reserve-inventory", Output: map[string]any{"reservationId": "r1"}, CompletedAt: time.Now()},
			{StepName: "charge-card", Output: map[string]any{"chargeId": "c1"}, CompletedAt: time.Now()},
		},
	}
}

func TestBuild_ReverseOrderSkipsStepsWithoutCompensation(t *testing.T) {
	plan := Build(checkoutDefinition(), instanceAfterTwoSteps())

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "charge-card", plan.Steps[0].StepName)
	assert.Equal(t, "payments.refund", plan.Steps[0].Handler)
	assert.Equal(t, "reserve-inventory", plan.Steps[1].StepName)
	assert.Equal(t, "inventory.release", plan.Steps[1].Handler)
}

func TestBuild_ForwardOrderPreservesCompletionOrder(t *testing.T) {
	def := checkoutDefinition()
	def.CompensationOrder = saga.CompensationForward

	plan := Build(def, instanceAfterTwoSteps())

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "reserve-inventory", plan.Steps[0].StepName)
	assert.Equal(t, "charge-card", plan.Steps[1].StepName)
}

func TestBuild_SkipsAlreadyCompensatedSteps(t *testing.T) {
	inst := instanceAfterTwoSteps()
	inst.StepHistory[1].Compensated = true

	plan := Build(checkoutDefinition(), inst)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "reserve-inventory", plan.Steps[0].StepName)
}

type stubLookup struct {
	handlers map[string]Handler
}

func (s stubLookup) CompensationHandler(name string) (Handler, bool) {
	h, ok := s.handlers[name]
	return h, ok
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	var ran []string
	handlers := stubLookup{handlers: map[string]Handler{
		"payments.refund": HandlerFunc(func(ctx context.Context, out, cfg map[string]any) error {
			ran = append(ran, "payments.refund")
			return assert.AnError
		}),
		"inventory.release": HandlerFunc(func(ctx context.Context, out, cfg map[string]any) error {
			ran = append(ran, "inventory.release")
			return nil
		}),
	}}

	runner := NewRunner(handlers, nil)
	runner.MaxRetries = 0
	plan := Build(checkoutDefinition(), instanceAfterTwoSteps())

	results := runner.Run(context.Background(), plan)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, []string{"payments.refund"}, ran)
}

func TestRunner_RunsAllOnSuccess(t *testing.T) {
	var ran []string
	handlers := stubLookup{handlers: map[string]Handler{
		"payments.refund": HandlerFunc(func(ctx context.Context, out, cfg map[string]any) error {
			ran = append(ran, "payments.refund")
			return nil
		}),
		"inventory.release": HandlerFunc(func(ctx context.Context, out, cfg map[string]any) error {
			ran = append(ran, "inventory.release")
			return nil
		}),
	}}

	runner := NewRunner(handlers, nil)
	plan := Build(checkoutDefinition(), instanceAfterTwoSteps())

	results := runner.Run(context.Background(), plan)

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, []string{"payments.refund", "inventory.release"}, ran)
}
