package openai

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	s.lastParams = body
	return nil
}

func TestCompleteTranslatesContentAndUsage(t *testing.T) {
	stub := &stubChatClient{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			Message:      sdk.ChatCompletionMessage{Content: "hi there"},
			FinishReason: "stop",
		}},
		Usage: sdk.CompletionUsage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
	}}
	c, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.CompletionRequest{
		Messages: []message.Message{message.UserText("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, message.StopEndTurn, resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	c, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.CompletionRequest{})
	var le *model.LlmError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.ErrInvalidRequest, le.Kind)
}

func TestCompleteMapsRateLimitStatus(t *testing.T) {
	stub := &stubChatClient{err: &sdk.Error{StatusCode: 429, Message: "slow down"}}
	c, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.CompletionRequest{
		Messages: []message.Message{message.UserText("hi")},
	})
	var le *model.LlmError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.ErrRateLimited, le.Kind)
}

func TestCompleteMapsUnknownErrorToNetworkError(t *testing.T) {
	stub := &stubChatClient{err: errors.New("boom")}
	c, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.CompletionRequest{
		Messages: []message.Message{message.UserText("hi")},
	})
	var le *model.LlmError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.ErrNetworkError, le.Kind)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&stubChatClient{}, Options{})
	assert.Error(t, err)
}
