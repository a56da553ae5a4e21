// Package proxy turns MCP tools exposed by a coordinator's fleet into
// agentrt tool.Handle values the agent loop can dispatch directly (spec
// §4.8). A Proxy is a stateless, cheap-to-copy handle over one tool on one
// server — it never caches a connection reference, looking the connection
// up fresh through the coordinator on every call.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pelagus-ai/agentrt/mcp"
	"github.com/pelagus-ai/agentrt/tool"
)

// Coordinator is the subset of *coordinator.Coordinator a Proxy needs,
// scoped down to CallTool so a Proxy holds no *coordinator.Coordinator and a
// test double can stand in for it.
type Coordinator interface {
	CallTool(ctx context.Context, server, name string, args []byte, timeout *time.Duration) ([]byte, error)
}

// Proxy is a stateless handle naming one tool on one server (spec §4.8
// "{server_id, tool_name, definition, coordinator_ref, timeout?,
// max_retries}").
type Proxy struct {
	ServerID    string
	ToolName    string
	Def         tool.Definition
	Coordinator Coordinator
	Timeout     *time.Duration
	MaxRetries  int
}

// New builds a Proxy for one ToolInfo exposed by server, wrapping the
// coordinator's call_tool with per-proxy timeout and retry settings.
func New(serverID string, info mcp.ToolInfo, coord Coordinator, timeout *time.Duration, maxRetries int) Proxy {
	return Proxy{
		ServerID: serverID,
		ToolName: info.Name,
		Def: tool.Definition{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: info.InputSchema,
			MaxRetries:  maxRetries,
			Timeout:     durationOrZero(timeout),
		},
		Coordinator: coord,
		Timeout:     timeout,
		MaxRetries:  maxRetries,
	}
}

func durationOrZero(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

// Handle erases Proxy into the tool.Handle the execution engine dispatches
// (spec §4.8 "implements the erased-tool interface"). Raw args that are
// empty or missing are sent as an empty JSON object; errors are mapped per
// the proxy's error-translation rules and retried up to MaxRetries on
// retryable failures with a linear backoff (100ms per attempt, capped at
// 2s), never caching the
// connection reference across retries.
func (p Proxy) Handle() tool.Handle {
	return tool.Handle{
		Def: p.Def,
		Call: func(ctx context.Context, rawArgs string) tool.Result[string] {
			args := json.RawMessage(rawArgs)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}

			attempts := p.MaxRetries + 1
			if attempts < 1 {
				attempts = 1
			}

			var last tool.Result[string]
			for attempt := 0; attempt < attempts; attempt++ {
				if attempt > 0 {
					select {
					case <-time.After(retryBackoff(attempt)):
					case <-ctx.Done():
						return tool.Failure[string](ctx.Err())
					}
				}
				result, err := p.Coordinator.CallTool(ctx, p.ServerID, p.ToolName, args, p.Timeout)
				last = p.mapResult(result, err)
				if last.Kind != tool.ResultRetry {
					return last
				}
			}
			return last
		},
	}
}

func retryBackoff(attempt int) time.Duration {
	d := 100 * time.Millisecond * time.Duration(attempt)
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}

// mapResult translates a coordinator call_tool outcome into a ToolResult
// (spec §4.8 "map errors: NotConnected/UnknownServer -> Failure
// (ServerDisconnected); ToolTimeout -> Retry(feedback); Cancelled ->
// propagate; other -> Failure").
func (p Proxy) mapResult(result []byte, err error) tool.Result[string] {
	if err == nil {
		return tool.Success(string(result))
	}
	if errors.Is(err, context.Canceled) {
		return tool.Failure[string](err)
	}
	switch {
	case errors.Is(err, mcp.ErrNotConnected), errors.Is(err, mcp.ErrUnknownServer):
		return tool.Failure[string](mcp.ServerDisconnected(p.ServerID))
	case errors.Is(err, mcp.ErrServerDisconnected):
		return tool.Failure[string](err)
	case errors.Is(err, mcp.ErrToolTimeout):
		return tool.Retry[string]("the tool call timed out; try a simpler or smaller input")
	default:
		return tool.Failure[string](err)
	}
}
