package agent

import (
	"context"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// fakeModel replays a scripted sequence of CompletionResponses, one per
// Complete call, so tests can drive the loop through an exact number of
// iterations without a real provider.
type fakeModel struct {
	caps      model.ModelCapabilities
	responses []model.CompletionResponse
	errs      []error
	calls     int

	requests []model.CompletionRequest
}

func newFakeModel(responses ...model.CompletionResponse) *fakeModel {
	return &fakeModel{
		caps:      model.ModelCapabilities{Tools: true, SystemMessages: true, MaxContext: 100000},
		responses: responses,
	}
}

func (f *fakeModel) Capabilities() model.ModelCapabilities { return f.caps }

func (f *fakeModel) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return model.CompletionResponse{}, f.errs[i]
	}
	if i >= len(f.responses) {
		return model.CompletionResponse{}, model.NewLlmError(model.ErrServerError, "fakeModel: no scripted response left")
	}
	return f.responses[i], nil
}

func (f *fakeModel) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &fakeStreamSeq{response: resp}, nil
}

// fakeStreamSeq yields a single content delta followed by Done, enough to
// exercise Stream's forwarding path without a real token-by-token feed.
type fakeStreamSeq struct {
	response model.CompletionResponse
	step     int
}

func (s *fakeStreamSeq) Next(_ context.Context) (model.StreamEvent, bool, error) {
	switch s.step {
	case 0:
		s.step++
		return model.StreamEvent{Kind: model.EventContentDelta, TextDelta: s.response.Content}, true, nil
	case 1:
		s.step++
		return model.StreamEvent{Kind: model.EventDone, Response: s.response}, true, nil
	default:
		return model.StreamEvent{}, false, nil
	}
}

func (s *fakeStreamSeq) Close() error { return nil }

func endTurn(content string) model.CompletionResponse {
	return model.CompletionResponse{Content: content, StopReason: message.StopEndTurn}
}

func toolUse(calls ...message.ToolCall) model.CompletionResponse {
	return model.CompletionResponse{ToolCalls: calls, StopReason: message.StopToolUse}
}
