package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/telemetry"
)

type fakeModel struct {
	resp model.CompletionResponse
	err  error
}

func (f *fakeModel) Capabilities() model.ModelCapabilities { return model.ModelCapabilities{Tools: true} }

func (f *fakeModel) Complete(context.Context, model.CompletionRequest) (model.CompletionResponse, error) {
	return f.resp, f.err
}

func (f *fakeModel) Stream(context.Context, model.CompletionRequest) (model.StreamSequence, error) {
	return nil, errors.New("not implemented")
}

func TestWithLoggingPassesThroughSuccessfulComplete(t *testing.T) {
	inner := &fakeModel{resp: model.CompletionResponse{Content: "ok", StopReason: message.StopEndTurn}}
	wrapped := WithLogging(telemetry.NewNoopLogger())(inner)

	resp, err := wrapped.Complete(context.Background(), model.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestWithLoggingPassesThroughErrors(t *testing.T) {
	inner := &fakeModel{err: &model.LlmError{Kind: model.ErrRateLimited, Msg: "slow down"}}
	wrapped := WithLogging(telemetry.NewNoopLogger())(inner)

	_, err := wrapped.Complete(context.Background(), model.CompletionRequest{})
	assert.Error(t, err)
}

func TestWithTracingPassesThroughSuccessfulComplete(t *testing.T) {
	inner := &fakeModel{resp: model.CompletionResponse{Content: "ok"}}
	wrapped := WithTracing(telemetry.NewNoopTracer())(inner)

	resp, err := wrapped.Complete(context.Background(), model.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestChainPassesThroughComplete(t *testing.T) {
	inner := &fakeModel{resp: model.CompletionResponse{Content: "ok"}}
	chain := Chain(WithLogging(telemetry.NewNoopLogger()), WithTracing(telemetry.NewNoopTracer()))
	wrapped := chain(inner)

	resp, err := wrapped.Complete(context.Background(), model.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestAttemptFromContextDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, AttemptFromContext(context.Background()))
	ctx := WithAttempt(context.Background(), 2)
	assert.Equal(t, 2, AttemptFromContext(ctx))
}

func TestCapabilitiesDelegatesToInner(t *testing.T) {
	inner := &fakeModel{}
	wrapped := WithLogging(telemetry.NewNoopLogger())(inner)
	assert.True(t, wrapped.Capabilities().Tools)
}
