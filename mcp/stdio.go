package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stdioCaller implements Caller over the MCP stdio transport: a
// Content-Length-framed JSON-RPC stream across a child process's pipes
// (spec §6 "ServerSpec variant Stdio{command, args, env?}"). Request/reply
// multiplexing and wire framing are shared with the rest of the package
// through pendingCalls/writeFrame/readFrame in rpc.go; this file owns only
// the process lifecycle and the duplex pipe plumbing.
type stdioCaller struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	pending *pendingCalls

	closed    chan struct{}
	closeOnce sync.Once
}

// dialStdio launches spec.Command, performs the initialize handshake, and
// returns a live Caller. report is unused by stdio (no auth handshake).
func dialStdio(ctx context.Context, spec ServerSpec, report ProgressFunc) (Caller, error) {
	if spec.Command == "" {
		return nil, &Error{Message: "stdio server spec requires a command"}
	}
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &stdioCaller{
		cmd:     cmd,
		stdin:   stdin,
		pending: newPendingCalls(),
		closed:  make(chan struct{}),
	}
	go c.readLoop(stdout)
	if stderr != nil {
		go io.Copy(io.Discard, stderr)
	}

	initCtx := ctx
	timeout := time.Duration(spec.InitTimeout) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	payload := map[string]any{
		"protocolVersion": DefaultProtocolVersion,
		"clientInfo":      map[string]any{"name": "agentrt", "version": "dev"},
	}
	if err := c.call(initCtx, "initialize", payload, nil); err != nil {
		_ = c.Disconnect()
		return nil, err
	}
	return c, nil
}

func (c *stdioCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return toolsFromListResult(result), nil
}

func (c *stdioCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	params := map[string]any{"name": name, "arguments": json.RawMessage(argsOrEmptyObject(args))}
	var result toolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return normalizeToolResult(result)
}

func (c *stdioCaller) SendCancellation(ctx context.Context, requestID string) error {
	return c.call(ctx, "notifications/cancelled", map[string]any{"requestId": requestID}, nil)
}

func (c *stdioCaller) Disconnect() error {
	c.closeOnce.Do(func() {
		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		if c.cmd != nil && c.cmd.ProcessState == nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		if c.cmd != nil {
			_ = c.cmd.Wait()
		}
		close(c.closed)
	})
	return nil
}

// call sends a JSON-RPC request over the child's stdin and blocks for its
// reply, which readLoop delivers out of band through c.pending.
func (c *stdioCaller) call(ctx context.Context, method string, params any, result any) error {
	id, ch := c.pending.register()
	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params}
	if err := writeFrame(c.stdin, &c.writeMu, req); err != nil {
		c.pending.forget(id)
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.resp.Error != nil {
			return res.resp.Error.callerError()
		}
		if result != nil && res.resp.Result != nil {
			return json.Unmarshal(res.resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		c.pending.forget(id)
		return ctx.Err()
	case <-c.closed:
		return c.pending.err()
	}
}

// readLoop pulls framed responses off stdout for the lifetime of the child
// process, handing each off to c.pending and tearing the caller down once
// the pipe closes or produces a malformed frame.
func (c *stdioCaller) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			c.pending.failAll(err)
			_ = c.Disconnect()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			continue
		}
		c.pending.resolve(resp)
	}
}

func argsOrEmptyObject(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}
