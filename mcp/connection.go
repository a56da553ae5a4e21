package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pelagus-ai/agentrt/telemetry"
)

// ProgressFunc lets a transport factory report OAuth handshake progress
// while it builds a Caller (spec §3 "AuthProgress"); transports that need no
// intermediate stages (stdio, plain HTTP) simply never call it.
type ProgressFunc func(stage AuthStage, url string)

// Factory constructs a live Caller for spec, reporting OAuth progress via
// report if the transport needs to (spec §6 "each connection factory
// receives a ServerSpec ... and returns a live MCP client").
type Factory func(ctx context.Context, spec ServerSpec, report ProgressFunc) (Caller, error)

// Connection is a single-writer actor owning one MCP client (spec §4.6). All
// state mutation happens on the goroutine executing a caller method;
// concurrent callers serialize through connMu, which also enforces "at most
// one connect attempt in flight".
type Connection struct {
	spec    ServerSpec
	factory Factory

	connMu sync.Mutex // serializes Connect/Disconnect and connect-in-flight

	mu     sync.RWMutex
	state  ConnectionState
	caller Caller

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc

	broadcaster Broadcaster
	logs        *logRingBuffer

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Connection.
type Option func(*Connection)

func WithLogger(l telemetry.Logger) Option { return func(c *Connection) { c.logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(c *Connection) { c.tracer = t } }

// NewConnection builds a Connection in the Idle state. factory is invoked by
// Connect to produce the transport-specific Caller.
func NewConnection(spec ServerSpec, factory Factory, opts ...Option) *Connection {
	c := &Connection{
		spec:        spec,
		factory:     factory,
		state:       ConnectionState{Kind: StateIdle},
		pending:     make(map[string]context.CancelFunc),
		broadcaster: NewBroadcaster(64),
		logs:        newLogRingBuffer(1000),
		logger:      telemetry.NewNoopLogger(),
		tracer:      telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// ID returns the connection's ServerSpec id.
func (c *Connection) ID() string { return c.spec.ID }

// State returns a point-in-time snapshot of the current ConnectionState.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Events returns a Subscription over this connection's lifecycle events.
func (c *Connection) Events(ctx context.Context) (Subscription, error) {
	return c.broadcaster.Subscribe(ctx)
}

// Logs returns a snapshot of the bounded log ring buffer.
func (c *Connection) Logs() []Event { return c.logs.snapshot() }

// Connect is idempotent from Idle, Failed, Reconnecting, or Disconnected
// (spec §4.6; the Reconnecting->Connecting edge is how the coordinator's
// scheduled reconnect attempts drive this same method). It is a no-op if
// the connection is already Connected or mid-connect.
func (c *Connection) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	cur := c.State()
	if cur.Kind == StateConnected || cur.Kind == StateConnecting || cur.Kind == StateAuthenticating {
		return nil
	}
	if cur.Kind != StateIdle && cur.Kind != StateFailed && cur.Kind != StateDisconnected && cur.Kind != StateReconnecting {
		return &Error{Message: fmt.Sprintf("cannot connect from state %q", cur.Kind)}
	}
	retryCount := cur.RetryCount
	if cur.Kind == StateReconnecting {
		retryCount = cur.Attempt
	}

	c.transition(ConnectionState{Kind: StateConnecting})

	ctx, span := c.tracer.Start(ctx, "mcp.Connect")
	defer span.End()

	report := func(stage AuthStage, url string) {
		c.transition(ConnectionState{Kind: StateAuthenticating, AuthStage: stage, AuthURL: url})
	}

	caller, err := c.factory(ctx, c.spec, report)
	if err != nil {
		c.log(ctx, LogError, fmt.Sprintf("dial %s transport failed: %s", c.spec.Kind, err))
		span.RecordError(err)
		c.transition(ConnectionState{Kind: StateFailed, Message: err.Error(), RetryCount: retryCount})
		return err
	}

	tools, err := caller.ListTools(ctx)
	if err != nil {
		_ = caller.Disconnect()
		c.log(ctx, LogError, fmt.Sprintf("initial tools/list after dial failed: %s", err))
		span.RecordError(err)
		c.transition(ConnectionState{Kind: StateFailed, Message: err.Error(), RetryCount: retryCount})
		return err
	}

	c.mu.Lock()
	c.caller = caller
	c.mu.Unlock()
	c.transition(ConnectionState{Kind: StateConnected, Tools: tools})
	return nil
}

// Disconnect is only valid from Connected (spec §4.6). Every pending call
// observes ServerDisconnected.
func (c *Connection) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.State().Kind != StateConnected {
		return &Error{Message: "disconnect requires the Connected state"}
	}

	c.cancelAllPending()

	c.mu.Lock()
	caller := c.caller
	c.caller = nil
	c.mu.Unlock()

	var err error
	if caller != nil {
		err = caller.Disconnect()
	}
	c.transition(ConnectionState{Kind: StateDisconnected})
	return err
}

// MarkFailed forces a Connected connection into Failed, e.g. after a health
// check probe fails or an I/O error occurs outside of call_tool (spec §4.6
// "Connected -> Failed on I/O error").
func (c *Connection) MarkFailed(reason string) {
	if c.State().Kind != StateConnected {
		return
	}
	c.cancelAllPending()
	c.mu.Lock()
	c.caller = nil
	c.mu.Unlock()
	c.transition(ConnectionState{Kind: StateFailed, Message: reason})
}

// BeginReconnecting transitions Failed -> Reconnecting (spec §4.7), driven
// by the coordinator's reconnect policy.
func (c *Connection) BeginReconnecting(attempt, max int) {
	c.transition(ConnectionState{Kind: StateReconnecting, Attempt: attempt, MaxAttempts: max})
}

// HealthCheck probes a Connected connection by re-listing its tools; a
// failing probe marks the connection Failed (spec §4.7 "health checks ...
// probe Connected connections; a failing probe marks Failed + emits
// ServerUnhealthy"). It is a no-op outside the Connected state.
func (c *Connection) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	caller := c.caller
	state := c.state
	c.mu.RUnlock()
	if state.Kind != StateConnected || caller == nil {
		return nil
	}
	if _, err := caller.ListTools(ctx); err != nil {
		c.log(ctx, LogError, fmt.Sprintf("health check probe failed: %s", err))
		c.MarkFailed(err.Error())
		return err
	}
	return nil
}

// CallTool invokes name on the connected server; it fails with NotConnected
// outside the Connected state (spec §4.6).
func (c *Connection) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.RLock()
	caller := c.caller
	state := c.state
	c.mu.RUnlock()
	if state.Kind != StateConnected || caller == nil {
		return nil, NotConnected(c.spec.ID)
	}

	requestID := uuid.NewString()
	callCtx, cancel := context.WithCancel(ctx)
	c.pendingMu.Lock()
	c.pending[requestID] = cancel
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		cancel()
	}()

	start := time.Now()
	c.publish(Event{Kind: EventToolCallStarted, ServerID: c.spec.ID, RequestID: requestID, ToolName: name, At: start})

	result, err := caller.CallTool(callCtx, name, args)
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			// Our own cancellation fired (send_cancellation, disconnect) rather
			// than the caller's context: surface as explicit cancellation.
			c.publish(Event{Kind: EventToolCallCanceled, ServerID: c.spec.ID, RequestID: requestID, ToolName: name, At: time.Now(), Duration: duration})
			return nil, ServerDisconnected(c.spec.ID)
		}
		c.publish(Event{Kind: EventToolCallComplete, ServerID: c.spec.ID, RequestID: requestID, ToolName: name, Err: err, At: time.Now(), Duration: duration})
		return nil, err
	}
	c.publish(Event{Kind: EventToolCallComplete, ServerID: c.spec.ID, RequestID: requestID, ToolName: name, Result: string(result), At: time.Now(), Duration: duration})
	return result, nil
}

// SendCancellation best-effort cancels an in-flight call_tool by request id
// (spec §4.6).
func (c *Connection) SendCancellation(ctx context.Context, requestID string) {
	c.pendingMu.Lock()
	cancel, ok := c.pending[requestID]
	c.pendingMu.Unlock()
	if ok {
		cancel()
	}
	c.mu.RLock()
	caller := c.caller
	c.mu.RUnlock()
	if caller != nil {
		_ = caller.SendCancellation(ctx, requestID)
	}
}

func (c *Connection) cancelAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, cancel := range c.pending {
		cancel()
		delete(c.pending, id)
	}
}

func (c *Connection) transition(to ConnectionState) {
	c.mu.Lock()
	from := c.state
	if !IsLegalTransition(from.Kind, to.Kind) {
		c.mu.Unlock()
		panic(fmt.Sprintf("mcp: illegal state transition %s -> %s for server %q", from.Kind, to.Kind, c.spec.ID))
	}
	c.state = to
	c.mu.Unlock()
	c.publish(Event{Kind: EventStateChanged, ServerID: c.spec.ID, From: from, To: to, At: time.Now()})
}

func (c *Connection) publish(ev Event) {
	if ev.Kind == EventLog {
		c.logs.add(ev)
	}
	c.broadcaster.Publish(ev)
}

func (c *Connection) log(ctx context.Context, level LogLevel, msg string) {
	c.publish(Event{Kind: EventLog, ServerID: c.spec.ID, Level: level, Message: msg, At: time.Now()})
	switch level {
	case LogError:
		c.logger.Error(ctx, msg, "server_id", c.spec.ID)
	case LogDebug:
		c.logger.Debug(ctx, msg, "server_id", c.spec.ID)
	default:
		c.logger.Info(ctx, msg, "server_id", c.spec.ID)
	}
}
