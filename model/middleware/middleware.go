// Package middleware provides reusable model.Model decorators (logging,
// tracing) that compose around any concrete provider adapter, mirroring the
// teacher's features/model/middleware decorator-chain shape.
package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pelagus-ai/agentrt/model"
	"github.com/pelagus-ai/agentrt/telemetry"
)

// Middleware wraps a model.Model with additional behavior.
type Middleware func(model.Model) model.Model

// Chain composes middlewares left to right: Chain(a, b)(m) applies a(b(m)),
// so the first middleware given is outermost (sees the call first).
func Chain(mws ...Middleware) Middleware {
	return func(m model.Model) model.Model {
		for i := len(mws) - 1; i >= 0; i-- {
			m = mws[i](m)
		}
		return m
	}
}

// WithLogging logs every Complete/Stream call's outcome (duration, token
// usage, error kind) through l.
func WithLogging(l telemetry.Logger) Middleware {
	return func(next model.Model) model.Model {
		return &loggingModel{next: next, log: l}
	}
}

// WithTracing starts a span per Complete/Stream call via t, tagging it with
// the attempt number read through AttemptFromContext so retried calls show
// up distinctly in a trace. The caller sets that number with WithAttempt;
// neither the agent loop nor policy.RetryPolicy.Do sets it, so an untagged
// call is recorded as attempt 0.
func WithTracing(t telemetry.Tracer) Middleware {
	return func(next model.Model) model.Model {
		return &tracingModel{next: next, tracer: t}
	}
}

type attemptKey struct{}

// WithAttempt annotates ctx with the current retry attempt (0-based) so a
// tracing middleware further down the call chain can record it as a span
// attribute.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext returns the attempt number set by WithAttempt, or 0.
func AttemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptKey{}).(int); ok {
		return v
	}
	return 0
}

type loggingModel struct {
	next model.Model
	log  telemetry.Logger
}

func (m *loggingModel) Capabilities() model.ModelCapabilities { return m.next.Capabilities() }

func (m *loggingModel) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.next.Complete(ctx, req)
	dur := time.Since(start)
	if err != nil {
		m.log.Error(ctx, "model.complete failed", "duration", dur, "err", err)
		return resp, err
	}
	m.log.Info(ctx, "model.complete",
		"duration", dur,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

func (m *loggingModel) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	start := time.Now()
	seq, err := m.next.Stream(ctx, req)
	if err != nil {
		m.log.Error(ctx, "model.stream failed", "duration", time.Since(start), "err", err)
		return nil, err
	}
	m.log.Debug(ctx, "model.stream started", "duration", time.Since(start))
	return &loggingStream{next: seq, log: m.log, start: start}, nil
}

type loggingStream struct {
	next  model.StreamSequence
	log   telemetry.Logger
	start time.Time
}

func (s *loggingStream) Next(ctx context.Context) (model.StreamEvent, bool, error) {
	ev, ok, err := s.next.Next(ctx)
	if err != nil {
		s.log.Error(ctx, "model.stream failed", "duration", time.Since(s.start), "err", err)
		return ev, ok, err
	}
	if ok && ev.Kind == model.EventDone {
		s.log.Info(ctx, "model.stream done",
			"duration", time.Since(s.start),
			"stop_reason", ev.Response.StopReason,
			"input_tokens", ev.Response.Usage.InputTokens,
			"output_tokens", ev.Response.Usage.OutputTokens,
		)
	}
	return ev, ok, err
}

func (s *loggingStream) Close() error { return s.next.Close() }

type tracingModel struct {
	next   model.Model
	tracer telemetry.Tracer
}

func (m *tracingModel) Capabilities() model.ModelCapabilities { return m.next.Capabilities() }

func (m *tracingModel) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	ctx, span := m.tracer.Start(ctx, "model.Complete")
	defer span.End()
	span.SetAttributes(attribute.Int("agentrt.model.attempt", AttemptFromContext(ctx)))
	resp, err := m.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(
		attribute.Int("agentrt.model.input_tokens", resp.Usage.InputTokens),
		attribute.Int("agentrt.model.output_tokens", resp.Usage.OutputTokens),
		attribute.String("agentrt.model.stop_reason", string(resp.StopReason)),
	)
	return resp, nil
}

func (m *tracingModel) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	ctx, span := m.tracer.Start(ctx, "model.Stream")
	span.SetAttributes(attribute.Int("agentrt.model.attempt", AttemptFromContext(ctx)))
	seq, err := m.next.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return &tracingStream{next: seq, span: span}, nil
}

type tracingStream struct {
	next model.StreamSequence
	span trace.Span
}

func (s *tracingStream) Next(ctx context.Context) (model.StreamEvent, bool, error) {
	ev, ok, err := s.next.Next(ctx)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.End()
		return ev, ok, err
	}
	if ok && ev.Kind == model.EventDone {
		s.span.SetAttributes(
			attribute.Int("agentrt.model.input_tokens", ev.Response.Usage.InputTokens),
			attribute.Int("agentrt.model.output_tokens", ev.Response.Usage.OutputTokens),
		)
		s.span.End()
	}
	return ev, ok, err
}

func (s *tracingStream) Close() error { return s.next.Close() }
