package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectTransitionsIdleToConnectedWithTools(t *testing.T) {
	caller := newFakeCaller(ToolInfo{Name: "search"})
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))

	require.Equal(t, StateIdle, conn.State().Kind)
	require.NoError(t, conn.Connect(context.Background()))

	state := conn.State()
	assert.Equal(t, StateConnected, state.Kind)
	assert.Equal(t, []ToolInfo{{Name: "search"}}, state.Tools)
}

func TestConnectIsIdempotentWhenAlreadyConnected(t *testing.T) {
	caller := newFakeCaller()
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))
	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, StateConnected, conn.State().Kind)
}

func TestConnectFailureTransitionsToFailed(t *testing.T) {
	boom := errors.New("dial failed")
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(nil, boom))

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, conn.State().Kind)
}

func TestDisconnectOnlyValidFromConnected(t *testing.T) {
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(newFakeCaller(), nil))
	err := conn.Disconnect()
	require.Error(t, err)
	assert.Equal(t, StateIdle, conn.State().Kind)

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Disconnect())
	assert.Equal(t, StateDisconnected, conn.State().Kind)
}

func TestCallToolRejectedWhenNotConnected(t *testing.T) {
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(newFakeCaller(), nil))
	_, err := conn.CallTool(context.Background(), "search", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCallToolReturnsCallerResult(t *testing.T) {
	caller := newFakeCaller(ToolInfo{Name: "search"})
	caller.resps["search"] = json.RawMessage(`{"ok":true}`)
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))
	require.NoError(t, conn.Connect(context.Background()))

	result, err := conn.CallTool(context.Background(), "search", json.RawMessage(`{"q":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestCallToolPropagatesCallerError(t *testing.T) {
	boom := errors.New("tool exploded")
	caller := newFakeCaller(ToolInfo{Name: "search"})
	caller.errs["search"] = boom
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))
	require.NoError(t, conn.Connect(context.Background()))

	_, err := conn.CallTool(context.Background(), "search", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSendCancellationUnblocksPendingCallAsServerDisconnected(t *testing.T) {
	caller := newFakeCaller(ToolInfo{Name: "slow"})
	caller.block = make(chan struct{})
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))
	require.NoError(t, conn.Connect(context.Background()))

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	sub, err := conn.Events(subCtx)
	require.NoError(t, err)

	var requestID string
	go func() {
		for ev := range sub.C() {
			if ev.Kind == EventToolCallStarted {
				requestID = ev.RequestID
				conn.SendCancellation(context.Background(), requestID)
			}
		}
	}()

	_, err = conn.CallTool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerDisconnected)
}

func TestDisconnectCancelsAllPendingCalls(t *testing.T) {
	caller := newFakeCaller(ToolInfo{Name: "slow"})
	caller.block = make(chan struct{})
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(caller, nil))
	require.NoError(t, conn.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := conn.CallTool(context.Background(), "slow", nil)
		done <- err
	}()

	// Give the call a moment to register as pending before disconnecting.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Disconnect())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("CallTool did not observe disconnect")
	}
}

func TestEventsPublishStateChangedInOrder(t *testing.T) {
	conn := NewConnection(ServerSpec{ID: "s1"}, dialFake(newFakeCaller(), nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := conn.Events(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Connect(context.Background()))

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, EventStateChanged, first.Kind)
	assert.Equal(t, StateIdle, first.From.Kind)
	assert.Equal(t, StateConnecting, first.To.Kind)
	assert.Equal(t, StateConnecting, second.From.Kind)
	assert.Equal(t, StateConnected, second.To.Kind)
}
