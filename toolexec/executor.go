// Package toolexec implements the tool execution engine: the per-call retry
// loop, timeout wrapper, and sequential batch executor described in spec
// §4.3. It is the single place that decides whether a tool name resolves,
// how many attempts a Retry result gets, and when a batch stops early on a
// Deferred result.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/telemetry"
	"github.com/pelagus-ai/agentrt/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TimeoutError is the AgentError-level failure raised when a
// tool invocation exceeds its configured Timeout (spec §4.3 step 2). It is
// fatal for the current iteration and must propagate out of Execute/
// ExecuteBatch rather than being captured as a ToolResult.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded timeout %s", e.Name, e.Timeout)
}

// Lookup resolves a tool Handle by name. *tool.Set satisfies this directly.
type Lookup interface {
	Lookup(name string) (tool.Handle, bool)
}

type (
	// Hooks are optional per-call observability callbacks the agent loop
	// uses to emit stream events or iter nodes without duplicating the
	// engine's control flow (spec §4.3 "Observability").
	Hooks struct {
		OnStart    func(call message.ToolCall)
		OnComplete func(call message.ToolCall, result tool.Result[string], duration time.Duration)
	}

	// Executor runs single calls and batches against a Lookup.
	Executor struct {
		tools  Lookup
		logger telemetry.Logger
		tracer telemetry.Tracer
		meter  telemetry.Meter
	}

	// Option configures an Executor.
	Option func(*Executor)
)

// WithLogger sets the executor's logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithTracer sets the executor's tracer.
func WithTracer(t telemetry.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// WithMeter sets the executor's meter, used to record per-call counts and
// durations keyed by tool name and outcome.
func WithMeter(m telemetry.Meter) Option { return func(e *Executor) { e.meter = m } }

// New builds an Executor over tools.
func New(tools Lookup, opts ...Option) *Executor {
	e := &Executor{
		tools:  tools,
		logger: telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
		meter:  telemetry.NewNoopMeter(),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Execute runs a single tool call through the retry/timeout algorithm of
// spec §4.3:
//  1. Unknown tool name -> Failure(ToolNotFound), not an engine error.
//  2. Up to Def.MaxRetries+1 attempts; a Retry result is retried with
//     feedback recorded, and the last Retry is returned once attempts are
//     exhausted.
//  3. A configured Timeout wraps each attempt; exceeding it returns a
//     *TimeoutError, which is fatal for the current iteration (callers must
//     not treat it as a ToolResult).
//  4. A tool panic is recovered and converted to Failure(caught error).
func (e *Executor) Execute(ctx context.Context, call message.ToolCall, hooks Hooks) (tool.Result[string], error) {
	if hooks.OnStart != nil {
		hooks.OnStart(call)
	}
	start := time.Now()
	res, err := e.execute(ctx, call)
	if hooks.OnComplete != nil {
		hooks.OnComplete(call, res, time.Since(start))
	}
	return res, err
}

func (e *Executor) execute(ctx context.Context, call message.ToolCall) (tool.Result[string], error) {
	tctx, span := e.tracer.Start(ctx, "toolexec.execute",
		trace.WithAttributes(
			attribute.String("toolexec.tool", call.Name),
			attribute.String("toolexec.call_id", call.ID),
		),
	)
	start := time.Now()
	defer span.End()

	h, ok := e.tools.Lookup(call.Name)
	if !ok {
		span.SetStatus(codes.Ok, "tool not found")
		e.recordCall(tctx, call.Name, "not_found", time.Since(start))
		return tool.Failure[string](tool.NotFound(call.Name)), nil
	}

	maxAttempts := h.Def.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last tool.Result[string]
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := e.invoke(tctx, h, call)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool invocation failed")
			e.recordCall(tctx, call.Name, "error", time.Since(start))
			return tool.Result[string]{}, err
		}
		last = res
		if res.Kind != tool.ResultRetry {
			e.recordCall(tctx, call.Name, string(res.Kind), time.Since(start))
			return res, nil
		}
		e.logger.Info(tctx, "tool returned retry", "tool", call.Name, "attempt", attempt, "feedback", res.Feedback)
	}
	e.recordCall(tctx, call.Name, string(last.Kind), time.Since(start))
	return last, nil
}

func (e *Executor) recordCall(ctx context.Context, name, outcome string, d time.Duration) {
	e.meter.IncCounter(ctx, "agentrt.toolexec.calls", "tool", name, "outcome", outcome)
	e.meter.RecordDuration(ctx, "agentrt.toolexec.call_duration", d, "tool", name, "outcome", outcome)
}

// invoke runs one attempt of h against call, applying the timeout wrapper
// and panic recovery described in spec §4.3.
func (e *Executor) invoke(ctx context.Context, h tool.Handle, call message.ToolCall) (res tool.Result[string], err error) {
	defer func() {
		if r := recover(); r != nil {
			res = tool.Failure[string](tool.Errorf("tool panicked: %v", r))
			err = nil
		}
	}()

	if h.Def.Timeout <= 0 {
		return h.Call(ctx, string(call.Arguments)), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, h.Def.Timeout)
	defer cancel()

	type outcome struct {
		res tool.Result[string]
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{res: tool.Failure[string](tool.Errorf("tool panicked: %v", r))}
				return
			}
		}()
		done <- outcome{res: h.Call(callCtx, string(call.Arguments))}
	}()

	select {
	case o := <-done:
		return o.res, nil
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return tool.Result[string]{}, &TimeoutError{Name: call.Name, Timeout: h.Def.Timeout}
		}
		// Parent context was canceled, not a timeout: surface as cancellation.
		return tool.Result[string]{}, ctx.Err()
	}
}

// BatchResult is the outcome of executing an ordered list of tool calls
// (spec §4.3 "Batch execution").
type BatchResult struct {
	Results []CallOutcome

	// StoppedOnDeferral is true when a call in the batch returned a
	// Deferred result, short-circuiting the rest of the batch.
	StoppedOnDeferral bool

	// UnexecutedCalls lists the calls after the deferred one that were
	// never run because the batch stopped (spec §4.3: "the remaining
	// calls are not executed and will not appear in results"). They still
	// need a resolution on resume (spec §4.4), just not one derived from
	// an actual Deferred ToolResult.
	UnexecutedCalls []message.ToolCall
}

// CallOutcome pairs a ToolCall with its Result and wall-clock duration.
type CallOutcome struct {
	Call     message.ToolCall
	Result   tool.Result[string]
	Duration time.Duration
}

// ExecuteBatch runs calls sequentially in order (never in parallel: tools
// may share user state and ordering is the observable contract providers
// expect, spec §4.3). On the first Deferred result it stops, marks
// StoppedOnDeferral, and leaves the remaining calls unexecuted.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []message.ToolCall, hooks Hooks) (BatchResult, error) {
	var out BatchResult
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := time.Now()
		res, err := e.Execute(ctx, call, hooks)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, CallOutcome{Call: call, Result: res, Duration: time.Since(start)})
		if res.Kind == tool.ResultDeferred {
			out.StoppedOnDeferral = true
			out.UnexecutedCalls = append([]message.ToolCall(nil), calls[len(out.Results):]...)
			break
		}
	}
	return out, nil
}
