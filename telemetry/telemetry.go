// Package telemetry defines the logging and tracing seams used throughout
// agentrt. The agent loop (Config.Logger/Tracer), toolexec and the MCP
// connection (WithLogger/WithTracer options) and the coordinator
// (WithLogger/WithMeter) accept them and default to the no-op
// implementations here, so embedding agentrt never forces a concrete
// observability backend. The provider adapters and stores take none.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Logger records structured key/value log lines. Implementations must be
// safe for concurrent use.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Tracer starts spans for long-running or cross-boundary operations (model
// calls, tool invocations, MCP round-trips). It is a thin wrapper over
// go.opentelemetry.io/otel/trace.Tracer so callers can swap in a real
// exporter without agentrt depending on any specific SDK configuration.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Meter records counters and durations for call-volume and latency metrics
// (tool-call counts/durations, MCP reconnect counts). It is a thin wrapper
// over go.opentelemetry.io/otel/metric.Meter, tagged with string key/value
// pairs rather than raw attribute.KeyValue so callers instrumenting a
// specific call site don't need to import otel/attribute themselves.
type Meter interface {
	IncCounter(ctx context.Context, name string, tags ...string)
	RecordDuration(ctx context.Context, name string, d time.Duration, tags ...string)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger { return noopLogger{} }

type otelTracer struct {
	t trace.Tracer
}

// NewTracer adapts an otel trace.Tracer (e.g. from an otel.TracerProvider) to
// the Tracer interface.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NewNoopTracer()
	}
	return otelTracer{t: t}
}

func (o otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return o.t.Start(ctx, name, opts...)
}

type noopTracer struct{}

// NewNoopTracer returns a Tracer whose spans record nothing.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

type otelMeter struct {
	m metric.Meter
}

// NewMeter adapts an otel metric.Meter (e.g. from an otel.MeterProvider) to
// the Meter interface.
func NewMeter(m metric.Meter) Meter {
	if m == nil {
		return NewNoopMeter()
	}
	return otelMeter{m: m}
}

func (o otelMeter) IncCounter(ctx context.Context, name string, tags ...string) {
	counter, err := o.m.Int64Counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (o otelMeter) RecordDuration(ctx context.Context, name string, d time.Duration, tags ...string) {
	histogram, err := o.m.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(ctx, d.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// tagsToAttrs converts tag strings (k1, v1, k2, v2, ...) into OTEL
// attributes. An odd-length slice pairs its last key with an empty string.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type noopMeter struct{}

// NewNoopMeter returns a Meter that discards everything.
func NewNoopMeter() Meter { return noopMeter{} }

func (noopMeter) IncCounter(context.Context, string, ...string)                    {}
func (noopMeter) RecordDuration(context.Context, string, time.Duration, ...string) {}
