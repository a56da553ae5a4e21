package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// httpCaller implements Caller over a plain JSON-RPC-over-HTTP MCP
// transport (spec §6 "ServerSpec variant Http{url}").
type httpCaller struct {
	endpoint string
	client   *http.Client
	id       uint64
}

// dialHTTP performs the initialize handshake against spec.URL and returns a
// live Caller. report is unused: plain HTTP has no auth handshake to narrate.
func dialHTTP(ctx context.Context, spec ServerSpec, report ProgressFunc) (Caller, error) {
	if spec.URL == "" {
		return nil, &Error{Message: "http server spec requires a url"}
	}
	c := &httpCaller{endpoint: spec.URL, client: http.DefaultClient}

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
		return nil, err
	}
	return c, nil
}

func (c *httpCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return toolsFromListResult(result), nil
}

func (c *httpCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	params := map[string]any{"name": name, "arguments": argsOrEmptyObject(args)}
	var result toolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return normalizeToolResult(result)
}

func (c *httpCaller) SendCancellation(ctx context.Context, requestID string) error {
	return c.call(ctx, "notifications/cancelled", map[string]any{"requestId": requestID}, nil)
}

func (c *httpCaller) Disconnect() error { return nil }

func (c *httpCaller) nextID() uint64 { return atomic.AddUint64(&c.id, 1) }

func (c *httpCaller) call(ctx context.Context, method string, params any, result any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: c.nextID(), Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &Error{Message: fmt.Sprintf("mcp http transport: unexpected status %d", resp.StatusCode)}
	}
	if len(data) == 0 {
		return nil
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.callerError()
	}
	if result != nil && rpcResp.Result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}
