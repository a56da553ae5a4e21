package agent

import (
	"context"
	"fmt"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/policy"
)

// StreamEventKind discriminates a StreamEvent's variant. It mirrors
// model.StreamEventKind plus a terminal StreamResult the agent layer adds
// once the whole run finishes (spec §4.4 "stream").
type StreamEventKind string

const (
	StreamContentDelta      StreamEventKind = "content_delta"
	StreamToolCallStart     StreamEventKind = "tool_call_start"
	StreamToolCallArgsDelta StreamEventKind = "tool_call_args_delta"
	StreamToolCallEnd       StreamEventKind = "tool_call_end"
	StreamUsage             StreamEventKind = "usage"
	StreamResult            StreamEventKind = "result"
)

// StreamEvent is the user-facing event a Stream sequence yields.
type StreamEvent[Output any] struct {
	Kind StreamEventKind

	TextDelta    string
	ToolCallID   string
	ToolCallName string
	ArgsDelta    string
	Usage        message.Usage

	// StreamResult
	Result Output
}

// StreamSequence is the lazy sequence Stream returns (spec §4.4 "stream").
// A successful run ends with exactly one StreamResult event; a failed run
// emits no StreamResult, and Next returns the run's error instead.
type StreamSequence[Output any] interface {
	Next(ctx context.Context) (StreamEvent[Output], bool, error)
	Close() error
}

// Stream drives the loop exactly like Run, but obtains each iteration's
// response via model.Model.Stream instead of Complete, forwarding every
// intermediate event to the caller as it arrives (spec §4.4 "stream").
func (a *Agent[Output]) Stream(ctx context.Context, prompt string) StreamSequence[Output] {
	ctx, cancel := context.WithCancel(ctx)
	seq := &streamSeq[Output]{
		ch:     make(chan StreamEvent[Output]),
		errCh:  make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(seq.ch)
		defer close(seq.done)

		forward := func(ev StreamEvent[Output]) {
			select {
			case seq.ch <- ev:
			case <-ctx.Done():
			}
		}

		respond := func(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
			return a.streamWithRetry(ctx, req, forward)
		}

		state := newRunState(a.cfg.SystemPrompt, prompt)
		out, err := a.runLoop(ctx, state, respond, nil)
		if err == nil {
			forward(StreamEvent[Output]{Kind: StreamResult, Result: out})
		}
		if err != nil {
			seq.errCh <- err
		}
	}()
	return seq
}

func (a *Agent[Output]) streamWithRetry(ctx context.Context, req model.CompletionRequest, forward func(StreamEvent[Output])) (model.CompletionResponse, error) {
	caps := a.cfg.Model.Capabilities()
	if err := model.ValidateRequest(caps, req); err != nil {
		return model.CompletionResponse{}, err
	}
	return policy.Do(ctx, a.cfg.RetryPolicy, func(ctx context.Context) (model.CompletionResponse, error) {
		events, err := a.cfg.Model.Stream(ctx, req)
		if err != nil {
			return model.CompletionResponse{}, err
		}
		defer events.Close()

		for {
			ev, ok, err := events.Next(ctx)
			if err != nil {
				return model.CompletionResponse{}, err
			}
			if !ok {
				return model.CompletionResponse{}, fmt.Errorf("agent: stream ended without a done event")
			}
			if ev.Kind == model.EventDone {
				return ev.Response, nil
			}
			forward(translateStreamEvent[Output](ev))
		}
	})
}

func translateStreamEvent[Output any](ev model.StreamEvent) StreamEvent[Output] {
	switch ev.Kind {
	case model.EventContentDelta:
		return StreamEvent[Output]{Kind: StreamContentDelta, TextDelta: ev.TextDelta}
	case model.EventToolCallStart:
		return StreamEvent[Output]{Kind: StreamToolCallStart, ToolCallID: ev.ToolCallID, ToolCallName: ev.ToolCallName}
	case model.EventToolCallArgs:
		return StreamEvent[Output]{Kind: StreamToolCallArgsDelta, ToolCallID: ev.ToolCallID, ArgsDelta: ev.ArgsDelta}
	case model.EventToolCallEnd:
		return StreamEvent[Output]{Kind: StreamToolCallEnd, ToolCallID: ev.ToolCallID}
	case model.EventUsage:
		return StreamEvent[Output]{Kind: StreamUsage, Usage: ev.Usage}
	default:
		return StreamEvent[Output]{}
	}
}

type streamSeq[Output any] struct {
	ch     chan StreamEvent[Output]
	errCh  chan error
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *streamSeq[Output]) Next(ctx context.Context) (StreamEvent[Output], bool, error) {
	var zero StreamEvent[Output]
	select {
	case ev, ok := <-s.ch:
		if !ok {
			select {
			case err := <-s.errCh:
				return zero, false, err
			default:
				return zero, false, nil
			}
		}
		return ev, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (s *streamSeq[Output]) Close() error {
	s.cancel()
	<-s.done
	return nil
}
