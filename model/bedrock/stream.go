package bedrock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// streamer adapts a Bedrock ConverseStream event stream to
// model.StreamSequence.
type streamer struct {
	stream    *bedrockruntime.ConverseStreamEventStream
	toolNames map[string]string

	events chan model.StreamEvent

	errMu sync.Mutex
	err   error
}

func newStreamer(stream *bedrockruntime.ConverseStreamEventStream, toolNames map[string]string) *streamer {
	s := &streamer{stream: stream, toolNames: toolNames, events: make(chan model.StreamEvent, 16)}
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
	var activeToolID, activeToolName string
	var toolArgs []byte

	for event := range s.stream.Events() {
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				activeToolID = ptrStr(start.Value.ToolUseId)
				activeToolName = ptrStr(start.Value.Name)
				toolArgs = toolArgs[:0]
				s.events <- model.StreamEvent{Kind: model.EventToolCallStart, ToolCallID: activeToolID, ToolCallName: activeToolName}
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				resp.Content += d.Value
				s.events <- model.StreamEvent{Kind: model.EventContentDelta, TextDelta: d.Value}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				delta := ptrStr(d.Value.Input)
				toolArgs = append(toolArgs, delta...)
				s.events <- model.StreamEvent{Kind: model.EventToolCallArgs, ToolCallID: activeToolID, ArgsDelta: delta}
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockStop:
			if activeToolID != "" {
				resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{
					ID:        activeToolID,
					Name:      activeToolName,
					Arguments: json.RawMessage(toolArgs),
				})
				s.events <- model.StreamEvent{Kind: model.EventToolCallEnd, ToolCallID: activeToolID}
				activeToolID, activeToolName = "", ""
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			resp.StopReason = mapStopReason(v.Value.StopReason)
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if u := v.Value.Usage; u != nil {
				resp.Usage = message.Usage{
					Requests:     1,
					InputTokens:  int(ptrInt32(u.InputTokens)),
					OutputTokens: int(ptrInt32(u.OutputTokens)),
				}
			}
		}
	}
	if err := s.stream.Close(); err != nil {
		s.setErr(classify(err))
		return
	}
	s.events <- model.StreamEvent{Kind: model.EventUsage, Usage: resp.Usage}
	s.events <- model.StreamEvent{Kind: model.EventDone, Response: resp}
}
