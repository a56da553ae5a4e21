package openai

import (
	"context"
	"encoding/json"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// streamer adapts an OpenAI Chat Completions SSE stream to
// model.StreamSequence.
type streamer struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	events chan model.StreamEvent

	errMu sync.Mutex
	err   error
}

func newStreamer(stream *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	s := &streamer{stream: stream, events: make(chan model.StreamEvent, 16)}
	go s.run()
	return s
}

func (s *streamer) Next(ctx context.Context) (model.StreamEvent, bool, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, true, nil
		}
		return model.StreamEvent{}, false, s.getErr()
	case <-ctx.Done():
		return model.StreamEvent{}, false, ctx.Err()
	}
}

func (s *streamer) Close() error {
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *streamer) getErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamer) run() {
	defer close(s.events)
	var resp model.CompletionResponse
	toolArgs := map[int64][]byte{}
	toolMeta := map[int64]message.ToolCall{}

	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				resp.Content += choice.Delta.Content
				s.events <- model.StreamEvent{Kind: model.EventContentDelta, TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" {
					meta := toolMeta[tc.Index]
					meta.ID = tc.ID
					meta.Name = tc.Function.Name
					toolMeta[tc.Index] = meta
					s.events <- model.StreamEvent{Kind: model.EventToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name}
				}
				if tc.Function.Arguments != "" {
					toolArgs[tc.Index] = append(toolArgs[tc.Index], tc.Function.Arguments...)
					s.events <- model.StreamEvent{Kind: model.EventToolCallArgs, ToolCallID: toolMeta[tc.Index].ID, ArgsDelta: tc.Function.Arguments}
				}
			}
			if choice.FinishReason != "" {
				resp.StopReason = mapFinishReason(choice.FinishReason)
			}
		}
		if u := chunk.Usage; u.TotalTokens != 0 {
			resp.Usage.InputTokens = int(u.PromptTokens)
			resp.Usage.OutputTokens = int(u.CompletionTokens)
		}
	}
	for idx, meta := range toolMeta {
		meta.Arguments = json.RawMessage(toolArgs[idx])
		resp.ToolCalls = append(resp.ToolCalls, meta)
		s.events <- model.StreamEvent{Kind: model.EventToolCallEnd, ToolCallID: meta.ID}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(classify(err))
		return
	}
	resp.Usage.Requests = 1
	s.events <- model.StreamEvent{Kind: model.EventUsage, Usage: resp.Usage}
	s.events <- model.StreamEvent{Kind: model.EventDone, Response: resp}
}
