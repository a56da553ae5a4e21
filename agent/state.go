package agent

import (
	"github.com/google/uuid"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/tool"
)

// RunState is owned exclusively by one active run (spec §3). Step is the
// only monotonically increasing field across an iteration boundary; Usage is
// additive-only. RequestCount and ToolCallCount mirror Usage.Requests and the
// running tool-dispatch count respectively so UsageLimits can be checked
// without recomputing them from Messages.
type RunState struct {
	RunID         string
	Messages      []message.Message
	Usage         message.Usage
	RequestCount  int
	ToolCallCount int
	// Retries is not written by the agent loop and stays zero; model-call
	// retries happen inside policy.RetryPolicy.Do and are not counted here.
	// It does not drive control flow.
	Retries int
	Step    int
}

func newRunState(systemPrompt, prompt string) *RunState {
	var msgs []message.Message
	if systemPrompt != "" {
		msgs = append(msgs, message.System(systemPrompt))
	}
	msgs = append(msgs, message.UserText(prompt))
	return &RunState{RunID: uuid.NewString(), Messages: msgs}
}

// PausedRun is the persisted snapshot returned when a run stops on a
// deferred tool call (spec §3). Invariant: Messages ends with the assistant
// turn that issued the batch, followed only by the ToolResult messages of
// the calls in that batch that ran before the deferral; the deferred call
// and every call after it appear exactly once, in order, in PendingCalls.
type PausedRun struct {
	RunID         string
	Messages      []message.Message
	Usage         message.Usage
	RequestCount  int
	ToolCallCount int
	PendingCalls  []PendingCall
}

// PendingCall pairs a deferred ToolCall with the Deferral that explains why
// it needs external resolution. Calls a batch never reached because an
// earlier call in the same batch deferred first carry a synthetic
// tool.DeferralExternal rather than one a tool handle actually produced (see
// the agent section of DESIGN.md for the reasoning).
type PendingCall struct {
	Call     message.ToolCall
	Deferral tool.Deferral
}

// ResolutionKind discriminates how a caller resolved a PendingCall on resume
// (spec §4.4).
type ResolutionKind string

const (
	ResolutionApproved  ResolutionKind = "approved"
	ResolutionDenied    ResolutionKind = "denied"
	ResolutionCompleted ResolutionKind = "completed"
	ResolutionFailed    ResolutionKind = "failed"
)

// Resolution is the caller-supplied disposition of one PendingCall. Approved
// means "actually execute the tool now"; the other three kinds synthesise a
// ToolResult message without invoking the tool.
type Resolution struct {
	Kind ResolutionKind
	// Reason is used for Denied.
	Reason string
	// Result is used for Completed: the serialized tool output.
	Result string
	// Error is used for Failed: the error text fed back to the model.
	Error string
}

func pausedFromBatch(state *RunState, results []pendingResult) *PausedRun {
	pending := make([]PendingCall, 0, len(results))
	for _, r := range results {
		pending = append(pending, PendingCall{Call: r.call, Deferral: r.deferral})
	}
	return &PausedRun{
		RunID:         state.RunID,
		Messages:      append([]message.Message(nil), state.Messages...),
		Usage:         state.Usage,
		RequestCount:  state.RequestCount,
		ToolCallCount: state.ToolCallCount,
		PendingCalls:  pending,
	}
}

type pendingResult struct {
	call     message.ToolCall
	deferral tool.Deferral
}
