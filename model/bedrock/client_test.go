package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

type stubRuntime struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (s *stubRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.out, s.err
}

func (s *stubRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, s.err
}

type fakeAPIError struct {
	code, msg string
}

func (e fakeAPIError) Error() string                { return e.msg }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.msg }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestCompleteTranslatesTextAndUsage(t *testing.T) {
	inputTok, outputTok := int32(10), int32(5)
	stub := &stubRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello there"}},
		}},
		Usage:      &brtypes.TokenUsage{InputTokens: &inputTok, OutputTokens: &outputTok},
		StopReason: brtypes.StopReasonEndTurn,
	}}
	c, err := New(stub, Options{DefaultModel: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.CompletionRequest{
		Messages: []message.Message{message.UserText("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, message.StopEndTurn, resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	c, err := New(&stubRuntime{}, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.CompletionRequest{})
	var le *model.LlmError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.ErrInvalidRequest, le.Kind)
}

func TestCompleteMapsThrottlingToRateLimited(t *testing.T) {
	stub := &stubRuntime{err: fakeAPIError{code: "ThrottlingException", msg: "too many requests"}}
	c, err := New(stub, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.CompletionRequest{
		Messages: []message.Message{message.UserText("hi")},
	})
	var le *model.LlmError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.ErrRateLimited, le.Kind)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&stubRuntime{}, Options{})
	assert.Error(t, err)
}
