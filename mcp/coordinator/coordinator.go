// Package coordinator owns a fleet of mcp.Connections, applying one
// reconnect policy and one tool-call timeout policy across all of them
// (spec §4.7). It is the layer a tool proxy (package mcp/proxy) calls
// through rather than talking to an mcp.Connection directly.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pelagus-ai/agentrt/mcp"
	"github.com/pelagus-ai/agentrt/telemetry"
)

// ToolWithServer attributes a ToolInfo to the server connection exposing it
// (spec §4.7 "available tools = union of Connected connections' tool
// lists").
type ToolWithServer struct {
	Server string
	mcp.ToolInfo
}

// Coordinator manages a fleet of MCP connections: starting them, routing
// call_tool by server id, racing timeouts, and driving reconnection.
type Coordinator struct {
	factory mcp.Factory
	policy  ReconnectPolicy

	healthInterval time.Duration
	healthLimiter  *rate.Limiter

	mu       sync.RWMutex
	conns    map[string]*mcp.Connection
	retries  map[string]int
	watchers map[string]context.CancelFunc

	events mcp.Broadcaster
	alerts *alertBroadcaster

	logger telemetry.Logger
	meter  telemetry.Meter

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHealthCheck enables periodic probing of Connected connections every
// interval, pacing probes across the fleet with a token-bucket limiter so a
// large fleet doesn't all probe in the same instant (spec §4.7 "health
// checks (optional, interval configurable)").
func WithHealthCheck(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.healthInterval = interval
		c.healthLimiter = rate.NewLimiter(rate.Every(interval/4+time.Millisecond), 1)
	}
}

func WithLogger(l telemetry.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithMeter sets the coordinator's meter, used to count reconnect attempts
// and outcomes per server.
func WithMeter(m telemetry.Meter) Option { return func(c *Coordinator) { c.meter = m } }

// New builds an empty Coordinator. factory constructs a Caller for each
// ServerSpec handed to StartAll/StartAllAndWait — typically mcp.DefaultFactory.
func New(factory mcp.Factory, policy ReconnectPolicy, opts ...Option) *Coordinator {
	c := &Coordinator{
		factory:  factory,
		policy:   policy,
		conns:    make(map[string]*mcp.Connection),
		retries:  make(map[string]int),
		watchers: make(map[string]context.CancelFunc),
		events:   mcp.NewBroadcaster(128),
		alerts:   newAlertBroadcaster(128),
		logger:   telemetry.NewNoopLogger(),
		meter:    telemetry.NewNoopMeter(),
		closeCh:  make(chan struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.healthInterval > 0 {
		c.wg.Add(1)
		go c.healthLoop()
	}
	return c
}

// StartAll launches Connect for every spec concurrently without waiting for
// the outcome (spec §4.7 "start_all(specs)").
func (c *Coordinator) StartAll(ctx context.Context, specs []mcp.ServerSpec) {
	for _, spec := range specs {
		conn := c.register(spec)
		go func(conn *mcp.Connection) {
			if err := conn.Connect(ctx); err != nil {
				c.logger.Error(ctx, "mcp connection failed", "server", conn.ID(), "error", err)
			}
		}(conn)
	}
}

// StartAllAndWait launches Connect for every spec concurrently and blocks
// until each has settled into Connected or Failed (spec §4.7
// "start_all_and_wait(specs) -> {connected[], failed[]}").
func (c *Coordinator) StartAllAndWait(ctx context.Context, specs []mcp.ServerSpec) (connected, failed []string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, spec := range specs {
		conn := c.register(spec)
		wg.Add(1)
		go func(conn *mcp.Connection) {
			defer wg.Done()
			err := conn.Connect(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, conn.ID())
			} else {
				connected = append(connected, conn.ID())
			}
		}(conn)
	}
	wg.Wait()
	return connected, failed
}

// register creates the Connection for spec (if not already present), wires
// its event stream into the fleet-wide merged stream and the reconnect
// watcher, and returns it.
func (c *Coordinator) register(spec mcp.ServerSpec) *mcp.Connection {
	c.mu.Lock()
	if conn, ok := c.conns[spec.ID]; ok {
		c.mu.Unlock()
		return conn
	}
	conn := mcp.NewConnection(spec, c.factory)
	c.conns[spec.ID] = conn
	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchers[spec.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watch(watchCtx, conn)
	return conn
}

// watch subscribes to conn's lifecycle events for the coordinator's
// lifetime, forwarding them into the merged stream and driving the
// reconnect policy on Failed transitions (spec §4.7).
func (c *Coordinator) watch(ctx context.Context, conn *mcp.Connection) {
	defer c.wg.Done()
	sub, err := conn.Events(ctx)
	if err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			c.events.Publish(ev)
			if ev.Kind == mcp.EventStateChanged && ev.To.Kind == mcp.StateFailed {
				c.onFailed(ctx, conn, ev.To)
			}
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) onFailed(ctx context.Context, conn *mcp.Connection, state mcp.ConnectionState) {
	c.mu.Lock()
	retryCount := c.retries[conn.ID()]
	c.mu.Unlock()

	c.alerts.publish(Alert{Kind: AlertConnectionFailed, ServerID: conn.ID(), Reason: state.Message, At: time.Now()})

	if !c.policy.permits(retryCount) {
		c.alerts.publish(Alert{Kind: AlertConnectionLost, ServerID: conn.ID(), Reason: state.Message, At: time.Now()})
		return
	}

	attempt := retryCount + 1
	c.mu.Lock()
	c.retries[conn.ID()] = attempt
	c.mu.Unlock()

	delay := c.policy.delay(retryCount)
	conn.BeginReconnecting(attempt, c.policy.MaxAttempts)
	c.alerts.publish(Alert{Kind: AlertReconnecting, ServerID: conn.ID(), Attempt: attempt, MaxAttempts: c.policy.MaxAttempts, At: time.Now()})
	c.meter.IncCounter(ctx, "agentrt.mcp.reconnect_attempts", "server", conn.ID())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		}
		if err := conn.Connect(ctx); err != nil {
			c.logger.Error(ctx, "mcp reconnect failed", "server", conn.ID(), "error", err)
			c.meter.IncCounter(ctx, "agentrt.mcp.reconnect_outcomes", "server", conn.ID(), "outcome", "failed")
		} else {
			c.mu.Lock()
			c.retries[conn.ID()] = 0
			c.mu.Unlock()
			c.alerts.publish(Alert{Kind: AlertReconnected, ServerID: conn.ID(), At: time.Now()})
			c.meter.IncCounter(ctx, "agentrt.mcp.reconnect_outcomes", "server", conn.ID(), "outcome", "succeeded")
		}
	}()
}

func (c *Coordinator) healthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.probeAll()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Coordinator) probeAll() {
	c.mu.RLock()
	conns := make([]*mcp.Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	for _, conn := range conns {
		if conn.State().Kind != mcp.StateConnected {
			continue
		}
		if err := c.healthLimiter.Wait(context.Background()); err != nil {
			return
		}
		go func(conn *mcp.Connection) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := conn.HealthCheck(ctx); err != nil {
				c.alerts.publish(Alert{Kind: AlertServerUnhealthy, ServerID: conn.ID(), Reason: err.Error(), At: time.Now()})
			}
		}(conn)
	}
}

// Reconnect manually triggers Connect on a Failed or Disconnected server
// (spec §4.7 "reconnect(id)"), bypassing the reconnect policy's delay.
func (c *Coordinator) Reconnect(ctx context.Context, id string) error {
	conn, err := c.lookup(id)
	if err != nil {
		return err
	}
	return conn.Connect(ctx)
}

// Disconnect tears down a Connected server (spec §4.7 "disconnect(id)").
func (c *Coordinator) Disconnect(id string) error {
	conn, err := c.lookup(id)
	if err != nil {
		return err
	}
	return conn.Disconnect()
}

// CancelConnection cancels the watcher context for id (spec §4.7
// "cancel_connection(id)"): event forwarding and reconnect handling for id
// stop, and a scheduled or in-flight policy-driven reconnect is aborted. A
// Connect started by StartAll, StartAllAndWait or Reconnect runs under its
// caller's context and is not cancelled.
func (c *Coordinator) CancelConnection(id string) error {
	c.mu.RLock()
	cancel, ok := c.watchers[id]
	c.mu.RUnlock()
	if !ok {
		return mcp.UnknownServer(id)
	}
	cancel()
	return nil
}

// CallTool routes a tool invocation to server, racing it against timeout if
// non-nil and mapping a timeout win to mcp.ToolTimeout (spec §4.7
// "call_tool(server, name, args, timeout?) -> string ... throws ToolTimeout
// on timeout win").
func (c *Coordinator) CallTool(ctx context.Context, server, name string, args []byte, timeout *time.Duration) ([]byte, error) {
	conn, err := c.lookup(server)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if timeout != nil {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result, err := conn.CallTool(callCtx, name, args)
	if err != nil {
		if timeout != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			c.alerts.publish(Alert{Kind: AlertToolTimedOut, ServerID: server, Tool: name, At: time.Now()})
			return nil, mcp.ToolTimeout(server, name)
		}
		return nil, err
	}
	return result, nil
}

// CancelToolCall best-effort broadcasts a cancellation for requestID to
// every connection in the fleet, since the coordinator does not track which
// server owns an in-flight request id (spec §4.7 "cancel_tool_call
// (request_id) (best-effort broadcast)").
func (c *Coordinator) CancelToolCall(ctx context.Context, requestID string) {
	c.mu.RLock()
	conns := make([]*mcp.Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()
	for _, conn := range conns {
		conn.SendCancellation(ctx, requestID)
	}
}

// Snapshot returns a point-in-time view of every connection's state (spec
// §4.7 "snapshot()").
func (c *Coordinator) Snapshot() map[string]mcp.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]mcp.ConnectionState, len(c.conns))
	for id, conn := range c.conns {
		out[id] = conn.State()
	}
	return out
}

// Tools returns the union of every Connected connection's tool list.
func (c *Coordinator) Tools() []ToolWithServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ToolWithServer
	for id, conn := range c.conns {
		state := conn.State()
		if state.Kind != mcp.StateConnected {
			continue
		}
		for _, t := range state.Tools {
			out = append(out, ToolWithServer{Server: id, ToolInfo: t})
		}
	}
	return out
}

// Events returns a Subscription over the merged event stream of every
// connection in the fleet.
func (c *Coordinator) Events(ctx context.Context) (mcp.Subscription, error) { return c.events.Subscribe(ctx) }

// Alerts returns a Subscription over this coordinator's alert stream.
func (c *Coordinator) Alerts(ctx context.Context) AlertSubscription { return c.alerts.subscribe(ctx) }

// Close stops all background watchers and health checks. Connections
// themselves are left as-is; call Disconnect per server first if a clean
// shutdown is required.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.mu.RLock()
		for _, cancel := range c.watchers {
			cancel()
		}
		c.mu.RUnlock()
		c.wg.Wait()
		_ = c.events.Close()
		c.alerts.close()
	})
}

func (c *Coordinator) lookup(id string) (*mcp.Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	if !ok {
		return nil, mcp.UnknownServer(id)
	}
	return conn, nil
}
