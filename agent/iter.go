package agent

import (
	"context"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/toolexec"
)

// NodeKind discriminates a Node's variant (spec §4.4 "iter").
type NodeKind string

const (
	NodeUserPrompt    NodeKind = "user_prompt"
	NodeModelRequest  NodeKind = "model_request"
	NodeModelResponse NodeKind = "model_response"
	NodeToolExecution NodeKind = "tool_execution"
	NodeToolResults   NodeKind = "tool_results"
	NodeEnd           NodeKind = "end"
)

// Node is one coarse-grained step of an Iter sequence: `UserPrompt,
// ModelRequest, ModelResponse, ToolExecution(calls), ToolResults(results),
// End(result)` (spec §4.4). Only the fields relevant to Kind are populated.
type Node[Output any] struct {
	Kind NodeKind
	Step int

	// UserPrompt
	Prompt string

	// ModelRequest
	Request model.CompletionRequest

	// ModelResponse
	Response model.CompletionResponse

	// ToolExecution
	Calls []message.ToolCall

	// ToolResults
	Results []toolexec.CallOutcome

	// End
	Output Output
	Err    error
}

// NodeSequence is the lazy pull sequence Iter returns, mirroring
// model.StreamSequence's Next/Close shape.
type NodeSequence[Output any] interface {
	Next(ctx context.Context) (Node[Output], bool, error)
	Close() error
}

// Iter drives the loop exactly like Run, but exposes every coarse-grained
// step as a Node instead of only the final value (spec §4.4 "iter", §8
// "iter produces nodes in the order: UserPrompt, then per iteration
// ModelRequest -> ModelResponse -> (ToolExecution -> ToolResults)?, finally
// End").
func (a *Agent[Output]) Iter(ctx context.Context, prompt string) NodeSequence[Output] {
	ctx, cancel := context.WithCancel(ctx)
	seq := &nodeSeq[Output]{
		ch:     make(chan Node[Output]),
		errCh:  make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(seq.ch)
		defer close(seq.done)

		emit := func(n Node[Output]) {
			select {
			case seq.ch <- n:
			case <-ctx.Done():
			}
		}

		emit(Node[Output]{Kind: NodeUserPrompt, Prompt: prompt})
		state := newRunState(a.cfg.SystemPrompt, prompt)
		out, err := a.runLoop(ctx, state, a.completeWithRetry, emit)
		emit(Node[Output]{Kind: NodeEnd, Step: state.Step, Output: out, Err: err})
		if err != nil {
			seq.errCh <- err
		}
	}()
	return seq
}

type nodeSeq[Output any] struct {
	ch     chan Node[Output]
	errCh  chan error
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *nodeSeq[Output]) Next(ctx context.Context) (Node[Output], bool, error) {
	var zero Node[Output]
	select {
	case n, ok := <-s.ch:
		if !ok {
			select {
			case err := <-s.errCh:
				return zero, false, err
			default:
				return zero, false, nil
			}
		}
		return n, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (s *nodeSeq[Output]) Close() error {
	s.cancel()
	<-s.done
	return nil
}
