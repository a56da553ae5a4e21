package anthropic

import (
	"context"
	"encoding/json"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.StreamSequence,
// translating content_block_* and message_* events into model.StreamEvent
// values on a background goroutine.
type streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan model.StreamEvent
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	s := &streamer{
		stream: stream,
		events: make(chan model.StreamEvent, 16),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *streamer) Next(ctx context.Context) (model.StreamEvent, bool, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, true, nil
		}
		if err := s.getErr(); err != nil {
			return model.StreamEvent{}, false, err
		}
		return model.StreamEvent{}, false, nil
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
	var activeToolID, activeToolName string
	var toolArgs []byte

	for s.stream.Next() {
		ev := s.stream.Current()
		switch ev.Type {
		case "content_block_start":
			if block := ev.ContentBlock; block.Type == "tool_use" {
				activeToolID, activeToolName = block.ID, block.Name
				toolArgs = toolArgs[:0]
				s.events <- model.StreamEvent{Kind: model.EventToolCallStart, ToolCallID: activeToolID, ToolCallName: activeToolName}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				resp.Content += ev.Delta.Text
				s.events <- model.StreamEvent{Kind: model.EventContentDelta, TextDelta: ev.Delta.Text}
			case "input_json_delta":
				toolArgs = append(toolArgs, ev.Delta.PartialJSON...)
				s.events <- model.StreamEvent{Kind: model.EventToolCallArgs, ToolCallID: activeToolID, ArgsDelta: ev.Delta.PartialJSON}
			}
		case "content_block_stop":
			if activeToolID != "" {
				resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{
					ID:        activeToolID,
					Name:      activeToolName,
					Arguments: json.RawMessage(toolArgs),
				})
				s.events <- model.StreamEvent{Kind: model.EventToolCallEnd, ToolCallID: activeToolID}
				activeToolID, activeToolName = "", ""
			}
		case "message_delta":
			resp.StopReason = mapStopReason(ev.Delta.StopReason)
			if u := ev.Usage; u.OutputTokens != 0 {
				resp.Usage.OutputTokens = int(u.OutputTokens)
			}
		case "message_start":
			if u := ev.Message.Usage; u.InputTokens != 0 {
				resp.Usage.InputTokens = int(u.InputTokens)
			}
		}
	}
	resp.Usage.Requests = 1
	if err := s.stream.Err(); err != nil {
		s.setErr(classify(err))
		return
	}
	s.events <- model.StreamEvent{Kind: model.EventUsage, Usage: resp.Usage}
	s.events <- model.StreamEvent{Kind: model.EventDone, Response: resp}
}
