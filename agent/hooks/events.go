package hooks

import (
	"time"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/toolexec"
)

// EventKind discriminates an Event's variant.
type EventKind string

const (
	EventIterationStarted EventKind = "iteration_started"
	EventModelCallStarted EventKind = "model_call_started"
	EventModelResponse    EventKind = "model_response"
	EventToolBatchStarted EventKind = "tool_batch_started"
	EventToolBatchDone    EventKind = "tool_batch_done"
	EventRunPaused        EventKind = "run_paused"
	EventRunCompleted     EventKind = "run_completed"
	EventRunFailed        EventKind = "run_failed"
)

// Event is a tagged variant over the agent loop's observable lifecycle
// points. Only the fields relevant to Kind are populated.
type Event struct {
	Kind  EventKind
	RunID string
	Step  int

	// ModelCallStarted / ModelResponse
	Request  model.CompletionRequest
	Response model.CompletionResponse

	// ToolBatchStarted
	Calls []message.ToolCall

	// ToolBatchDone
	Results           []toolexec.CallOutcome
	StoppedOnDeferral bool

	// RunCompleted
	Duration time.Duration

	// RunFailed
	Err error
}
