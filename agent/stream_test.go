package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/policy"
)

func drainStream[Output any](t *testing.T, seq StreamSequence[Output]) ([]StreamEvent[Output], error) {
	t.Helper()
	var events []StreamEvent[Output]
	for {
		ev, ok, err := seq.Next(context.Background())
		if !ok {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestStreamForwardsContentDeltasAndEndsWithResult(t *testing.T) {
	m := newFakeModel(endTurn("streamed answer"))
	a := New(Config[string]{Model: m, MaxIterations: 5})

	seq := a.Stream(context.Background(), "hi")
	defer seq.Close()

	events, err := drainStream[string](t, seq)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, StreamResult, last.Kind)
	assert.Equal(t, "streamed answer", last.Result)

	var sawDelta bool
	for _, ev := range events {
		if ev.Kind == StreamContentDelta && ev.TextDelta == "streamed answer" {
			sawDelta = true
		}
	}
	assert.True(t, sawDelta)
}

func TestStreamDoesNotEmitResultOnFailure(t *testing.T) {
	m := newFakeModel()
	a := New(Config[string]{Model: m, MaxIterations: 1, RetryPolicy: policy.RetryPolicy{MaxAttempts: 1}})

	seq := a.Stream(context.Background(), "hi")
	defer seq.Close()

	events, err := drainStream[string](t, seq)
	require.Error(t, err)
	for _, ev := range events {
		assert.NotEqual(t, StreamResult, ev.Kind)
	}
}
