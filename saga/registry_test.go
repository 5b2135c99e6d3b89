package saga

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/engine/sagaerr"
)

func sampleDefinition(version int) *Definition {
	return &Definition{
		Name:    "order.checkout",
		Version: version,
		Steps: []StepDefinition{
			{Name: "reserve-inventory", HandlerName: "inventory.reserve", Compensation: &CompensationSpec{HandlerName: "inventory.release"}},
			{Name: "charge-card", HandlerName: "payments.charge", Compensation: &CompensationSpec{HandlerName: "payments.refund"}},
			{Name: "ship-order", HandlerName: "shipping.create"},
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleDefinition(1)))

	got, err := r.Get("order.checkout", 1)
	require.NoError(t, err)
	assert.Equal(t, "order.checkout", got.Name)
	assert.Len(t, got.Steps, 3)
	assert.Equal(t, CompensationReverse, got.CompensationOrder)
}

func TestRegistry_LatestTracksHighestVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleDefinition(1)))
	require.NoError(t, r.Register(sampleDefinition(3)))
	require.NoError(t, r.Register(sampleDefinition(2)))

	latest, err := r.Latest("order.checkout")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestRegistry_RegisterRejectsDuplicateVersion(t *testing.T) {
	r := NewRegistry()
	first := sampleDefinition(1)
	require.NoError(t, r.Register(first))

	err := r.Register(sampleDefinition(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sagaerr.ErrDuplicateDefinition))

	got, err := r.Get("order.checkout", 1)
	require.NoError(t, err)
	assert.Same(t, first, got, "original definition left in place, not overwritten")
}

func TestRegistry_UnknownDefinition(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("does.not.exist", 1)
	assert.Error(t, err)
}

func TestDefinition_ValidateRejectsEmptySteps(t *testing.T) {
	def := &Definition{Name: "empty"}
	err := def.Validate()
	assert.Error(t, err)
}

func TestDefinition_ValidateRejectsDuplicateStepNames(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Steps: []StepDefinition{
			{Name: "a", HandlerName: "h1"},
			{Name: "a", HandlerName: "h2"},
		},
	}
	err := def.Validate()
	assert.Error(t, err)
}
