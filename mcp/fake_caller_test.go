package mcp

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeCaller is a scripted Caller test double: ListTools returns a fixed
// set, CallTool looks up a canned response/error by tool name, and blocks on
// block until the test signals continuation (used to exercise cancellation).
type fakeCaller struct {
	tools  []ToolInfo
	mu     sync.Mutex
	resps  map[string]json.RawMessage
	errs   map[string]error
	block  chan struct{} // closed to release a blocked CallTool
	calls  []string
	closed bool
}

func newFakeCaller(tools ...ToolInfo) *fakeCaller {
	return &fakeCaller{
		tools: tools,
		resps: make(map[string]json.RawMessage),
		errs:  make(map[string]error),
	}
}

func (f *fakeCaller) ListTools(context.Context) ([]ToolInfo, error) { return f.tools, nil }

func (f *fakeCaller) CallTool(ctx context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.resps[name], nil
}

func (f *fakeCaller) SendCancellation(context.Context, string) error { return nil }

func (f *fakeCaller) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func dialFake(caller *fakeCaller, err error) Factory {
	return func(context.Context, ServerSpec, ProgressFunc) (Caller, error) {
		if err != nil {
			return nil, err
		}
		return caller, nil
	}
}
