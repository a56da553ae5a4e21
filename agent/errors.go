package agent

import "fmt"

// ErrorKind is the agent-level error taxonomy surfaced to a run's caller
// (spec §7). It is deliberately a closed, flat set rather than a chain of Go
// sentinel errors, so callers can switch on Kind without depending on the
// underlying model/tool/policy error types.
type ErrorKind string

const (
	// ErrUsageLimitExceeded: a configured UsageLimits bound was about to be
	// breached. Details names which one (requests, tokens, tool_calls).
	ErrUsageLimitExceeded ErrorKind = "usage_limit_exceeded"
	// ErrMaxIterationsReached: the loop did not converge within MaxIterations.
	ErrMaxIterationsReached ErrorKind = "max_iterations_reached"
	// ErrUnexpectedModelBehavior: refusal, filtered content, truncation, or a
	// response with no usable output.
	ErrUnexpectedModelBehavior ErrorKind = "unexpected_model_behavior"
	// ErrRetriesExhausted: the model-call RetryPolicy gave up (either by
	// exhausting max_attempts on a retryable error, or immediately on a
	// non-retryable one).
	ErrRetriesExhausted ErrorKind = "retries_exhausted"
	// ErrToolTimeout: a tool call exceeded its configured timeout.
	ErrToolTimeout ErrorKind = "tool_timeout"
	// ErrHasDeferredTools: one or more tool calls need external resolution;
	// Paused carries the snapshot to resume from.
	ErrHasDeferredTools ErrorKind = "has_deferred_tools"
	// ErrCancelled: the run's context was cancelled.
	ErrCancelled ErrorKind = "cancelled"
	// ErrInternalError: an invariant violation — a bug, not a user mistake.
	ErrInternalError ErrorKind = "internal_error"
)

// Error is the structured error type every agent run failure takes (spec
// §7). Kind drives caller dispatch; Details/Cause/Attempts/Paused carry
// whatever extra context that Kind defines.
type Error struct {
	Kind    ErrorKind
	Message string
	// Details carries kind-specific context, e.g. the StopReason string for
	// UnexpectedModelBehavior or the limit name for UsageLimitExceeded.
	Details string
	Cause   error
	// Attempts is populated for RetriesExhausted.
	Attempts int
	// Paused is populated for HasDeferredTools.
	Paused *PausedRun
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("agent: %s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("agent: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }
