package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLog_AppendAssignsSequentialNumbers(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "saga-1", EventSagaStarted, map[string]any{"step": 0}))
	require.NoError(t, log.Append(ctx, "saga-1", EventStepCompleted, map[string]any{"step": "reserve"}))

	events, err := log.Events(ctx, "saga-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].SequenceNum)
	assert.Equal(t, int64(2), events[1].SequenceNum)
	assert.Equal(t, EventSagaStarted, events[0].Type)
}

func TestMemLog_EventsAfterSeqExcludesEarlier(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, "saga-1", EventStepCompleted, map[string]any{"i": i}))
	}

	events, err := log.Events(ctx, "saga-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].SequenceNum)
}

func TestReplay_UsesSnapshotWhenPresent(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, "saga-1", EventStepCompleted, map[string]any{"i": i}))
	}
	state, _ := json.Marshal(map[string]any{"completedSteps": 3})
	require.NoError(t, log.PutSnapshot(ctx, Snapshot{SagaID: "saga-1", SequenceNum: 3, State: state}))

	require.NoError(t, log.Append(ctx, "saga-1", EventStepCompleted, map[string]any{"i": 3}))

	snap, events, err := Replay(ctx, log, "saga-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(3), snap.SequenceNum)
	require.Len(t, events, 1)
	assert.Equal(t, int64(4), events[0].SequenceNum)
}

func TestReplay_NoSnapshotReturnsFullHistory(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, "saga-1", EventSagaStarted, map[string]any{}))

	snap, events, err := Replay(ctx, log, "saga-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Len(t, events, 1)
}
