// Package agent implements the shared agent execution loop: one state
// machine driving all four modes (run, stream, iter, resume), the output
// extraction/validation pipeline, and the agent-level error taxonomy (spec
// §4.4, §7). The loop is factored into two injectable concerns so exactly
// one copy of the stop-reason classifier and tool-processing helper exists:
// how the next model response is obtained (Run/Resume/Iter call the model
// non-streaming; Stream drives model.Model.Stream instead) and what gets
// emitted before/during/after tool processing (nil for Run/Resume/Stream, a
// Node callback for Iter; Stream forwards the model's stream events from
// inside its response function instead).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pelagus-ai/agentrt/agent/hooks"
	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/policy"
	"github.com/pelagus-ai/agentrt/telemetry"
	"github.com/pelagus-ai/agentrt/tool"
	"github.com/pelagus-ai/agentrt/toolexec"
)

const defaultOutputToolName = "final_result"

// Config assembles everything needed to build an Agent[Output] (spec §6
// "construct an agent with {model, system_prompt, tools[],
// output_validators[], max_iterations, usage_limits?, retry_policy,
// tool_timeout?}").
type Config[Output any] struct {
	Model            model.Model
	SystemPrompt     string
	Tools            tool.Set
	OutputValidators []OutputValidator[Output]
	MaxIterations    int
	UsageLimits      policy.UsageLimits
	RetryPolicy      policy.RetryPolicy
	ModelConfig      model.Config

	// OutputToolName overrides the synthetic tool name used to deliver a
	// non-string Output. Defaults to "final_result".
	OutputToolName string
	// OutputSchema is the JSON Schema describing Output, sent to the model
	// as the designated output tool's input schema. Ignored when Output is
	// string (spec §4.4 "if Output = string, take content directly").
	OutputSchema json.RawMessage

	Logger telemetry.Logger
	Tracer telemetry.Tracer

	// Hooks, if set, receives lifecycle events for every iteration — model
	// call started/finished, tool batch started/finished. Run and Resume
	// also publish the run's terminal outcome (paused, completed or failed);
	// Stream and Iter publish no terminal event. A subscriber returning an error from HandleEvent
	// aborts the run (surfaced wrapped as ErrInternalError), so Hooks is
	// meant for observability, not control flow.
	Hooks hooks.Bus
}

// Agent drives the shared loop over a fixed Config (spec §4.4). An Agent is
// immutable after New and safe for concurrent Run/Stream/Iter/Resume calls:
// each call owns its own RunState.
type Agent[Output any] struct {
	cfg      Config[Output]
	executor *toolexec.Executor
}

// New builds an Agent from cfg, defaulting Logger/Tracer to no-ops and
// RetryPolicy to policy.DefaultRetryPolicy when unset.
func New[Output any](cfg Config[Output]) *Agent[Output] {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = policy.DefaultRetryPolicy()
	}
	return &Agent[Output]{
		cfg: cfg,
		executor: toolexec.New(cfg.Tools,
			toolexec.WithLogger(cfg.Logger),
			toolexec.WithTracer(cfg.Tracer),
		),
	}
}

// Run drives the loop to completion and returns the typed Output, or an
// *Error on any terminal failure (spec §4.4 "run").
func (a *Agent[Output]) Run(ctx context.Context, prompt string) (Output, error) {
	state := newRunState(a.cfg.SystemPrompt, prompt)
	out, err := a.runLoop(ctx, state, a.completeWithRetry, nil)
	a.publishTerminal(ctx, state.RunID, err)
	return out, err
}

// Resume continues a PausedRun after its deferred tool calls have been
// resolved by the caller (spec §4.4 "resume"). resolutions must be a
// bijection onto paused.PendingCalls by call id (spec §3 invariant 4).
func (a *Agent[Output]) Resume(ctx context.Context, paused PausedRun, resolutions map[string]Resolution) (Output, error) {
	var zero Output
	if len(resolutions) != len(paused.PendingCalls) {
		return zero, &Error{Kind: ErrInternalError, Message: "resolutions must be a bijection onto pending_calls"}
	}
	state := &RunState{
		RunID:         paused.RunID,
		Messages:      append([]message.Message(nil), paused.Messages...),
		Usage:         paused.Usage,
		RequestCount:  paused.RequestCount,
		ToolCallCount: paused.ToolCallCount,
	}
	for _, pc := range paused.PendingCalls {
		res, ok := resolutions[pc.Call.ID]
		if !ok {
			return zero, &Error{Kind: ErrInternalError, Message: fmt.Sprintf("missing resolution for pending call %q", pc.Call.ID)}
		}
		msg, err := a.resolvePendingCall(ctx, pc, res)
		if err != nil {
			return zero, err
		}
		state.Messages = append(state.Messages, msg)
		state.ToolCallCount++
	}
	out, err := a.runLoop(ctx, state, a.completeWithRetry, nil)
	a.publishTerminal(ctx, state.RunID, err)
	return out, err
}

func (a *Agent[Output]) resolvePendingCall(ctx context.Context, pc PendingCall, res Resolution) (message.Message, error) {
	switch res.Kind {
	case ResolutionApproved:
		result, err := a.executor.Execute(ctx, pc.Call, toolexec.Hooks{})
		if err != nil {
			return message.Message{}, wrapExecError(err)
		}
		return toolResultMessageFromResult(pc.Call, result), nil
	case ResolutionDenied:
		return message.ToolResultMessage(pc.Call.ID, fmt.Sprintf("denied: %s", res.Reason), true), nil
	case ResolutionCompleted:
		return message.ToolResultMessage(pc.Call.ID, res.Result, false), nil
	case ResolutionFailed:
		return message.ToolResultMessage(pc.Call.ID, res.Error, true), nil
	default:
		return message.Message{}, &Error{Kind: ErrInternalError, Message: fmt.Sprintf("unknown resolution kind %q", res.Kind)}
	}
}

// responder obtains the next CompletionResponse for req, either via a
// non-streaming call or by draining a model stream; it is the "(a) how the
// next model response is obtained" seam described in the package doc.
type responder func(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error)

func (a *Agent[Output]) completeWithRetry(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	caps := a.cfg.Model.Capabilities()
	if err := model.ValidateRequest(caps, req); err != nil {
		return model.CompletionResponse{}, err
	}
	return policy.Do(ctx, a.cfg.RetryPolicy, func(ctx context.Context) (model.CompletionResponse, error) {
		return a.cfg.Model.Complete(ctx, req)
	})
}

// runLoop is the single shared iteration machine driving run, resume, and
// iter (stream wraps it with its own responder; see stream.go). emitNode, if
// non-nil, is called once per node the iter mode exposes (spec §4.4 "(b)
// what to emit before/during/after tool processing").
func (a *Agent[Output]) runLoop(ctx context.Context, state *RunState, respond responder, emitNode func(Node[Output])) (Output, error) {
	var zero Output
	for {
		if err := ctx.Err(); err != nil {
			return zero, &Error{Kind: ErrCancelled, Message: "run cancelled", Cause: err}
		}

		if err := a.cfg.UsageLimits.CheckRequest(policy.Counters{Requests: state.RequestCount}); err != nil {
			return zero, exceededToAgentError(err)
		}

		state.Step++
		if a.cfg.MaxIterations > 0 && state.Step > a.cfg.MaxIterations {
			return zero, &Error{Kind: ErrMaxIterationsReached, Message: fmt.Sprintf("exceeded max_iterations (%d)", a.cfg.MaxIterations)}
		}

		req := a.buildRequest(state)
		emitN(emitNode, Node[Output]{Kind: NodeModelRequest, Step: state.Step, Request: req})
		if err := a.publish(ctx, hooks.Event{Kind: hooks.EventModelCallStarted, RunID: state.RunID, Step: state.Step, Request: req}); err != nil {
			return zero, &Error{Kind: ErrInternalError, Message: "hook subscriber aborted run", Cause: err}
		}

		resp, err := respond(ctx, req)
		if err != nil {
			return zero, wrapModelError(err)
		}

		state.Messages = append(state.Messages, message.Assistant(resp.Content, resp.ToolCalls...))
		state.RequestCount++
		state.Usage = state.Usage.Add(resp.Usage)

		emitN(emitNode, Node[Output]{Kind: NodeModelResponse, Step: state.Step, Response: resp})
		if err := a.publish(ctx, hooks.Event{Kind: hooks.EventModelResponse, RunID: state.RunID, Step: state.Step, Response: resp}); err != nil {
			return zero, &Error{Kind: ErrInternalError, Message: "hook subscriber aborted run", Cause: err}
		}

		if err := a.cfg.UsageLimits.CheckTotalTokens(policy.Counters{TotalTokens: state.Usage.TotalTokens()}); err != nil {
			return zero, exceededToAgentError(err)
		}

		switch classifyStopReason(resp.StopReason) {
		case outcomeEnd:
			if resp.Refusal != "" {
				return zero, &Error{Kind: ErrUnexpectedModelBehavior, Message: "model refused", Details: resp.Refusal}
			}
			out, ok := a.stringOutput(resp.Content)
			if !ok {
				return zero, &Error{Kind: ErrUnexpectedModelBehavior, Message: "no output tool"}
			}
			return out, nil
		case outcomeMaxTokens:
			return zero, &Error{Kind: ErrUnexpectedModelBehavior, Message: "max tokens / truncated", Details: string(resp.StopReason)}
		case outcomeFiltered:
			return zero, &Error{Kind: ErrUnexpectedModelBehavior, Message: "filtered", Details: string(resp.StopReason)}
		case outcomeToolUse:
			out, done, err := a.processTools(ctx, state, resp.ToolCalls, emitNode)
			if err != nil {
				return zero, err
			}
			if done {
				return out, nil
			}
			// Not done: continue to the next iteration.
		}
	}
}

type stopOutcome int

const (
	outcomeEnd stopOutcome = iota
	outcomeMaxTokens
	outcomeFiltered
	outcomeToolUse
)

func classifyStopReason(sr message.StopReason) stopOutcome {
	switch sr {
	case message.StopEndTurn, message.StopStopSequence:
		return outcomeEnd
	case message.StopMaxTokens:
		return outcomeMaxTokens
	case message.StopContentFiltered, message.StopGuardrail:
		return outcomeFiltered
	case message.StopToolUse:
		return outcomeToolUse
	default:
		return outcomeEnd
	}
}

// stringOutput returns content as Output when Output's type parameter is
// string (spec §4.4 "if Output = string, take content directly"). The ok
// result is false only when Output is not string; empty content still
// returns ok=true, since an empty string is a legitimate output value.
func (a *Agent[Output]) stringOutput(content string) (Output, bool) {
	var zero Output
	if _, isString := any(zero).(string); !isString {
		return zero, false
	}
	out, _ := any(content).(Output)
	return out, true
}

func (a *Agent[Output]) buildRequest(state *RunState) model.CompletionRequest {
	return model.CompletionRequest{
		Messages:     state.Messages,
		Tools:        a.toolDefinitions(),
		OutputSchema: a.outputSchema(),
		Config:       a.cfg.ModelConfig,
	}
}

func (a *Agent[Output]) outputSchema() json.RawMessage {
	var zero Output
	if _, isString := any(zero).(string); isString {
		return nil
	}
	return a.cfg.OutputSchema
}

func (a *Agent[Output]) outputToolName() string {
	if a.cfg.OutputToolName != "" {
		return a.cfg.OutputToolName
	}
	return defaultOutputToolName
}

func (a *Agent[Output]) toolDefinitions() []model.ToolDefinition {
	handles := a.cfg.Tools.Handles()
	defs := make([]model.ToolDefinition, 0, len(handles)+1)
	for _, h := range handles {
		defs = append(defs, model.ToolDefinition{Name: h.Def.Name, Description: h.Def.Description, InputSchema: h.Def.InputSchema})
	}
	var zero Output
	if _, isString := any(zero).(string); !isString {
		defs = append(defs, model.ToolDefinition{
			Name:        a.outputToolName(),
			Description: "Deliver the final result of this run.",
			InputSchema: a.cfg.OutputSchema,
		})
	}
	return defs
}

// processTools executes a ToolUse batch, handling the designated output tool
// call (if present) separately from ordinary tool calls (spec §4.4 steps
// 8-9). It returns (output, true, nil) when the run should terminate,
// (zero, false, nil) to continue the loop, or a non-nil error for any
// terminal failure (including HasDeferredTools).
func (a *Agent[Output]) processTools(ctx context.Context, state *RunState, calls []message.ToolCall, emitNode func(Node[Output])) (Output, bool, error) {
	var zero Output

	if err := a.cfg.UsageLimits.CheckToolCalls(policy.Counters{ToolCalls: state.ToolCallCount}, len(calls)); err != nil {
		return zero, false, exceededToAgentError(err)
	}

	var outputCall *message.ToolCall
	regular := make([]message.ToolCall, 0, len(calls))
	for i := range calls {
		if calls[i].Name == a.outputToolName() {
			c := calls[i]
			outputCall = &c
			continue
		}
		regular = append(regular, calls[i])
	}

	emitN(emitNode, Node[Output]{Kind: NodeToolExecution, Step: state.Step, Calls: regular})
	if err := a.publish(ctx, hooks.Event{Kind: hooks.EventToolBatchStarted, RunID: state.RunID, Step: state.Step, Calls: regular}); err != nil {
		return zero, false, &Error{Kind: ErrInternalError, Message: "hook subscriber aborted run", Cause: err}
	}

	batch, err := a.executor.ExecuteBatch(ctx, regular, toolexec.Hooks{})
	if err != nil {
		return zero, false, wrapExecError(err)
	}
	state.ToolCallCount += len(batch.Results)
	// The deferred call's own outcome (the last entry when StoppedOnDeferral)
	// gets no ToolResult message yet: it has no concrete result, only a
	// Deferral, and belongs in PendingCalls instead. Every call before it
	// that already completed is appended normally (spec §9 Open Question:
	// partial results before a deferral ARE appended).
	resultsToAppend := batch.Results
	if batch.StoppedOnDeferral {
		resultsToAppend = batch.Results[:len(batch.Results)-1]
	}
	for _, o := range resultsToAppend {
		state.Messages = append(state.Messages, toolResultMessageFromResult(o.Call, o.Result))
	}

	emitN(emitNode, Node[Output]{Kind: NodeToolResults, Step: state.Step, Results: batch.Results})
	if err := a.publish(ctx, hooks.Event{
		Kind:              hooks.EventToolBatchDone,
		RunID:             state.RunID,
		Step:              state.Step,
		Results:           batch.Results,
		StoppedOnDeferral: batch.StoppedOnDeferral,
	}); err != nil {
		return zero, false, &Error{Kind: ErrInternalError, Message: "hook subscriber aborted run", Cause: err}
	}

	if batch.StoppedOnDeferral {
		pending := make([]pendingResult, 0, 1+len(batch.UnexecutedCalls))
		last := batch.Results[len(batch.Results)-1]
		pending = append(pending, pendingResult{call: last.Call, deferral: last.Result.Deferral})
		for _, c := range batch.UnexecutedCalls {
			pending = append(pending, pendingResult{
				call: c,
				deferral: tool.Deferral{
					Kind:   tool.DeferralExternal,
					ID:     c.ID,
					Reason: "not executed: batch stopped on an earlier deferred call",
				},
			})
		}
		return zero, false, &Error{
			Kind:    ErrHasDeferredTools,
			Message: "tool call(s) require external resolution",
			Paused:  pausedFromBatch(state, pending),
		}
	}

	if outputCall == nil {
		return zero, false, nil
	}
	return a.handleOutputCall(ctx, state, *outputCall)
}

func (a *Agent[Output]) handleOutputCall(ctx context.Context, state *RunState, call message.ToolCall) (Output, bool, error) {
	var zero Output
	var out Output
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &out); err != nil {
			return zero, false, &Error{Kind: ErrUnexpectedModelBehavior, Message: "output arguments failed to decode", Cause: err}
		}
	}

	for _, validate := range a.cfg.OutputValidators {
		refined, err := validate(ctx, out)
		if err != nil {
			var retry *ValidationRetry
			if errors.As(err, &retry) {
				state.Messages = append(state.Messages, message.ToolResultMessage(call.ID, retry.Feedback, true))
				return zero, false, nil
			}
			return zero, false, err
		}
		out = refined
	}
	state.Messages = append(state.Messages, message.ToolResultMessage(call.ID, "", false))
	return out, true, nil
}

func toolResultMessageFromResult(call message.ToolCall, res tool.Result[string]) message.Message {
	switch res.Kind {
	case tool.ResultSuccess:
		return message.ToolResultMessage(call.ID, res.Value, false)
	case tool.ResultRetry:
		return message.ToolResultMessage(call.ID, res.Feedback, false)
	case tool.ResultFailure:
		return message.ToolResultMessage(call.ID, res.Err.Error(), true)
	default:
		return message.ToolResultMessage(call.ID, "unresolved tool result", true)
	}
}

func exceededToAgentError(err error) error {
	var exceeded *policy.ExceededError
	if errors.As(err, &exceeded) {
		return &Error{Kind: ErrUsageLimitExceeded, Message: exceeded.Error(), Details: exceeded.Kind.String()}
	}
	return err
}

func wrapModelError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrCancelled, Message: "run cancelled", Cause: err}
	}
	var exhausted *policy.ExhaustedError
	if errors.As(err, &exhausted) {
		return &Error{Kind: ErrRetriesExhausted, Message: "model retry policy exhausted", Attempts: exhausted.Attempts, Cause: exhausted.LastError}
	}
	return &Error{Kind: ErrRetriesExhausted, Message: "model call failed", Attempts: 1, Cause: err}
}

func wrapExecError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrCancelled, Message: "run cancelled", Cause: err}
	}
	var timeout *toolexec.TimeoutError
	if errors.As(err, &timeout) {
		return &Error{Kind: ErrToolTimeout, Message: timeout.Error(), Cause: timeout}
	}
	return &Error{Kind: ErrInternalError, Message: "tool execution failed", Cause: err}
}

func emitN[Output any](emit func(Node[Output]), n Node[Output]) {
	if emit != nil {
		emit(n)
	}
}

func (a *Agent[Output]) publish(ctx context.Context, ev hooks.Event) error {
	if a.cfg.Hooks == nil {
		return nil
	}
	return a.cfg.Hooks.Publish(ctx, ev)
}

// publishTerminal reports a run's final outcome on the hooks bus: a
// HasDeferredTools error publishes RunPaused, any other error publishes
// RunFailed, and success publishes RunCompleted. Errors from the bus itself
// are intentionally swallowed here — the run has already concluded and a
// broken observability subscriber must not mask its real outcome.
func (a *Agent[Output]) publishTerminal(ctx context.Context, runID string, err error) {
	if a.cfg.Hooks == nil {
		return
	}
	var agentErr *Error
	if errors.As(err, &agentErr) && agentErr.Kind == ErrHasDeferredTools {
		_ = a.cfg.Hooks.Publish(ctx, hooks.Event{Kind: hooks.EventRunPaused, RunID: runID})
		return
	}
	if err != nil {
		_ = a.cfg.Hooks.Publish(ctx, hooks.Event{Kind: hooks.EventRunFailed, RunID: runID, Err: err})
		return
	}
	_ = a.cfg.Hooks.Publish(ctx, hooks.Event{Kind: hooks.EventRunCompleted, RunID: runID})
}
