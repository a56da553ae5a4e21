// Package tool defines the typed tool contract, the erased tool Handle the
// engine actually dispatches, and the ToolResult variant (spec §4.2).
package tool

import (
	"context"
	"encoding/json"
	"time"
)

// Definition is the provider-facing metadata for a tool: name, description,
// JSON Schema for its arguments, and the per-tool retry/timeout policy (spec
// §4.2).
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	// MaxRetries bounds how many times the tool execution engine re-invokes
	// this tool after a Retry result, so a call makes at most MaxRetries+1
	// attempts. No default is applied: the zero value means no retry.
	MaxRetries int

	// Timeout, if non-zero, bounds a single invocation; exceeding it
	// produces AgentError ToolTimeout (spec §4.3).
	Timeout time.Duration
}

// ResultKind discriminates a ToolResult's variant (spec §3).
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultRetry    ResultKind = "retry"
	ResultFailure  ResultKind = "failure"
	ResultDeferred ResultKind = "deferred"
)

// DeferralKind discriminates why a tool call was deferred (spec §3).
type DeferralKind string

const (
	DeferralApproval DeferralKind = "approval"
	DeferralExternal DeferralKind = "external"
)

// Deferral carries the metadata of a Deferred ToolResult: an opaque id the
// caller later resolves against, a human-readable reason, and the kind of
// external resolution required.
type Deferral struct {
	Kind   DeferralKind
	ID     string
	Reason string
}

// Result[T] is the typed ToolResult variant returned by a Tool's Call method
// (spec §3). Only the field matching Kind is populated.
type Result[T any] struct {
	Kind     ResultKind
	Value    T
	Feedback string // Retry
	Err      error  // Failure
	Deferral Deferral
}

// Success builds a Success result.
func Success[T any](v T) Result[T] { return Result[T]{Kind: ResultSuccess, Value: v} }

// Retry builds a Retry result carrying feedback for the model.
func Retry[T any](feedback string) Result[T] { return Result[T]{Kind: ResultRetry, Feedback: feedback} }

// Failure builds a Failure result wrapping err.
func Failure[T any](err error) Result[T] { return Result[T]{Kind: ResultFailure, Err: err} }

// Deferred builds a Deferred result.
func Deferred[T any](d Deferral) Result[T] { return Result[T]{Kind: ResultDeferred, Deferral: d} }

// Tool is the typed contract a caller implements: a fixed Definition plus a
// Call operation from typed arguments to a typed Result (spec §4.2).
type Tool[Args, Out any] interface {
	Definition() Definition
	Call(ctx context.Context, args Args) Result[Out]
}

// Func adapts a plain function plus a static Definition into a Tool.
type Func[Args, Out any] struct {
	Def  Definition
	Body func(ctx context.Context, args Args) Result[Out]
}

func (f Func[Args, Out]) Definition() Definition { return f.Def }

func (f Func[Args, Out]) Call(ctx context.Context, args Args) Result[Out] {
	return f.Body(ctx, args)
}
