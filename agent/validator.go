package agent

import "context"

// OutputValidator refines or gates a run's final Output after it has been
// decoded from the designated output tool's arguments (spec §4.4). It may
// return a modified value, or fail with *ValidationRetry to send feedback
// back to the model instead of terminating the run.
type OutputValidator[Output any] func(ctx context.Context, out Output) (Output, error)

// ValidationRetry is returned by an OutputValidator to continue the loop
// instead of terminating: Feedback becomes the content of a synthetic
// ToolResult message answering the output-tool call.
type ValidationRetry struct {
	Feedback string
}

func (e *ValidationRetry) Error() string { return e.Feedback }
