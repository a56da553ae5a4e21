package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/tool"
)

// fakeTools is a minimal Lookup over an in-memory map.
type fakeTools struct {
	handles map[string]tool.Handle
}

func (f fakeTools) Lookup(name string) (tool.Handle, bool) {
	h, ok := f.handles[name]
	return h, ok
}

func handleFunc(name string, maxRetries int, timeout time.Duration, fn func(ctx context.Context, rawArgs string) tool.Result[string]) tool.Handle {
	return tool.Handle{
		Def:  tool.Definition{Name: name, MaxRetries: maxRetries, Timeout: timeout},
		Call: fn,
	}
}

func TestExecuteUnknownToolReturnsFailureNotError(t *testing.T) {
	exec := New(fakeTools{handles: map[string]tool.Handle{}})

	res, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "missing"}, Hooks{})

	require.NoError(t, err)
	assert.Equal(t, tool.ResultFailure, res.Kind)
	assert.True(t, errors.Is(res.Err, tool.ErrNotFound))
}

func TestExecuteRetriesUpToMaxRetriesPlusOne(t *testing.T) {
	calls := 0
	h := handleFunc("flaky", 2, 0, func(_ context.Context, _ string) tool.Result[string] {
		calls++
		return tool.Retry[string]("try again")
	})
	exec := New(fakeTools{handles: map[string]tool.Handle{"flaky": h}})

	res, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "flaky"}, Hooks{})

	require.NoError(t, err)
	assert.Equal(t, tool.ResultRetry, res.Kind)
	assert.Equal(t, 3, calls) // MaxRetries=2 -> 3 attempts total
}

func TestExecuteStopsRetryingOnFirstNonRetryResult(t *testing.T) {
	calls := 0
	h := handleFunc("eventually-ok", 5, 0, func(_ context.Context, _ string) tool.Result[string] {
		calls++
		if calls < 2 {
			return tool.Retry[string]("try again")
		}
		return tool.Success("done")
	})
	exec := New(fakeTools{handles: map[string]tool.Handle{"eventually-ok": h}})

	res, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "eventually-ok"}, Hooks{})

	require.NoError(t, err)
	assert.Equal(t, tool.ResultSuccess, res.Kind)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 2, calls)
}

func TestExecuteTimeoutReturnsTimeoutError(t *testing.T) {
	h := handleFunc("slow", 0, 10*time.Millisecond, func(ctx context.Context, _ string) tool.Result[string] {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return tool.Success("too late")
	})
	exec := New(fakeTools{handles: map[string]tool.Handle{"slow": h}})

	_, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "slow"}, Hooks{})

	var timeoutErr *TimeoutError
	require.Error(t, err)
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "slow", timeoutErr.Name)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	h := handleFunc("panics", 0, 0, func(_ context.Context, _ string) tool.Result[string] {
		panic("boom")
	})
	exec := New(fakeTools{handles: map[string]tool.Handle{"panics": h}})

	res, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "panics"}, Hooks{})

	require.NoError(t, err)
	assert.Equal(t, tool.ResultFailure, res.Kind)
}

func TestExecuteInvokesHooks(t *testing.T) {
	h := handleFunc("noop", 0, 0, func(_ context.Context, _ string) tool.Result[string] {
		return tool.Success("ok")
	})
	exec := New(fakeTools{handles: map[string]tool.Handle{"noop": h}})

	var started, completed bool
	hooks := Hooks{
		OnStart:    func(message.ToolCall) { started = true },
		OnComplete: func(message.ToolCall, tool.Result[string], time.Duration) { completed = true },
	}

	_, err := exec.Execute(context.Background(), message.ToolCall{ID: "1", Name: "noop"}, hooks)

	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, completed)
}

func TestExecuteBatchStopsOnDeferralAndLeavesRemainderUnexecuted(t *testing.T) {
	ranAfterDefer := false
	handles := map[string]tool.Handle{
		"ok": handleFunc("ok", 0, 0, func(_ context.Context, _ string) tool.Result[string] {
			return tool.Success("fine")
		}),
		"needs-approval": handleFunc("needs-approval", 0, 0, func(_ context.Context, _ string) tool.Result[string] {
			return tool.Deferred[string](tool.Deferral{Kind: tool.DeferralApproval, ID: "d1", Reason: "confirm"})
		}),
		"never-runs": handleFunc("never-runs", 0, 0, func(_ context.Context, _ string) tool.Result[string] {
			ranAfterDefer = true
			return tool.Success("should not happen")
		}),
	}
	exec := New(fakeTools{handles: handles})

	calls := []message.ToolCall{
		{ID: "1", Name: "ok", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "needs-approval", Arguments: json.RawMessage(`{}`)},
		{ID: "3", Name: "never-runs", Arguments: json.RawMessage(`{}`)},
	}

	out, err := exec.ExecuteBatch(context.Background(), calls, Hooks{})

	require.NoError(t, err)
	assert.True(t, out.StoppedOnDeferral)
	require.Len(t, out.Results, 2)
	assert.Equal(t, tool.ResultSuccess, out.Results[0].Result.Kind)
	assert.Equal(t, tool.ResultDeferred, out.Results[1].Result.Kind)
	require.Len(t, out.UnexecutedCalls, 1)
	assert.Equal(t, "3", out.UnexecutedCalls[0].ID)
	assert.False(t, ranAfterDefer)
}

func TestExecuteBatchRunsAllCallsWhenNoneDefer(t *testing.T) {
	handles := map[string]tool.Handle{
		"a": handleFunc("a", 0, 0, func(_ context.Context, _ string) tool.Result[string] { return tool.Success("a") }),
		"b": handleFunc("b", 0, 0, func(_ context.Context, _ string) tool.Result[string] { return tool.Success("b") }),
	}
	exec := New(fakeTools{handles: handles})

	calls := []message.ToolCall{
		{ID: "1", Name: "a"},
		{ID: "2", Name: "b"},
	}

	out, err := exec.ExecuteBatch(context.Background(), calls, Hooks{})

	require.NoError(t, err)
	assert.False(t, out.StoppedOnDeferral)
	assert.Len(t, out.Results, 2)
	assert.Empty(t, out.UnexecutedCalls)
}

func TestExecuteBatchStopsOnContextCancellation(t *testing.T) {
	handles := map[string]tool.Handle{
		"a": handleFunc("a", 0, 0, func(_ context.Context, _ string) tool.Result[string] { return tool.Success("a") }),
	}
	exec := New(fakeTools{handles: handles})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteBatch(ctx, []message.ToolCall{{ID: "1", Name: "a"}}, Hooks{})

	assert.ErrorIs(t, err, context.Canceled)
}
