package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/tool"
)

func drainNodes[Output any](t *testing.T, seq NodeSequence[Output]) ([]Node[Output], error) {
	t.Helper()
	var nodes []Node[Output]
	for {
		n, ok, err := seq.Next(context.Background())
		if !ok {
			return nodes, err
		}
		nodes = append(nodes, n)
	}
}

func TestIterEmitsNodesInSpecOrderForASingleToolRoundTrip(t *testing.T) {
	toolCall := message.ToolCall{ID: "1", Name: "noop"}
	m := newFakeModel(toolUse(toolCall), endTurn("done"))
	tools := tool.NewSet(handle("noop", func(context.Context, string) tool.Result[string] {
		return tool.Success("ok")
	}))
	a := New(Config[string]{Model: m, Tools: tools, MaxIterations: 5})

	seq := a.Iter(context.Background(), "hi")
	defer seq.Close()

	nodes, err := drainNodes[string](t, seq)
	require.NoError(t, err)

	kinds := make([]NodeKind, len(nodes))
	for i, n := range nodes {
		kinds[i] = n.Kind
	}
	assert.Equal(t, []NodeKind{
		NodeUserPrompt,
		NodeModelRequest, NodeModelResponse, NodeToolExecution, NodeToolResults,
		NodeModelRequest, NodeModelResponse,
		NodeEnd,
	}, kinds)
	assert.Equal(t, "done", nodes[len(nodes)-1].Output)
}

func TestIterSurfacesTerminalErrorAfterEndNode(t *testing.T) {
	m := newFakeModel(toolUse(message.ToolCall{ID: "1", Name: "noop"}))
	tools := tool.NewSet(handle("noop", func(context.Context, string) tool.Result[string] {
		return tool.Success("ok")
	}))
	a := New(Config[string]{Model: m, Tools: tools, MaxIterations: 1})

	seq := a.Iter(context.Background(), "hi")
	defer seq.Close()

	nodes, err := drainNodes[string](t, seq)
	require.Error(t, err)
	require.NotEmpty(t, nodes)
	assert.Equal(t, NodeEnd, nodes[len(nodes)-1].Kind)

	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, ErrMaxIterationsReached, agentErr.Kind)
}
