package proxy

import (
	"regexp"
	"sync"
	"time"

	"github.com/pelagus-ai/agentrt/mcp"
	"github.com/pelagus-ai/agentrt/mcp/coordinator"
)

// Filter decides whether a tool exposed by server belongs in a tool mode
// (spec §4.8 "filter DSL over {name, server, pattern, and/or/not} produces
// named 'tool modes'").
type Filter func(server string, info mcp.ToolInfo) bool

// ByName matches tools whose name is exactly name.
func ByName(name string) Filter {
	return func(_ string, info mcp.ToolInfo) bool { return info.Name == name }
}

// ByServer matches every tool exposed by serverID.
func ByServer(serverID string) Filter {
	return func(server string, _ mcp.ToolInfo) bool { return server == serverID }
}

// ByPattern matches tool names against a compiled regexp, cached per
// pattern string so repeated Mode construction with the same pattern
// compiles it once (spec §9 "compile patterns once at filter
// construction").
func ByPattern(pattern string) (Filter, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return func(_ string, info mcp.ToolInfo) bool { return re.MatchString(info.Name) }, nil
}

var (
	patternCacheMu sync.Mutex
	patternCache   = make(map[string]*regexp.Regexp)
)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// And matches a tool only if every filter matches.
func And(filters ...Filter) Filter {
	return func(server string, info mcp.ToolInfo) bool {
		for _, f := range filters {
			if !f(server, info) {
				return false
			}
		}
		return true
	}
}

// Or matches a tool if any filter matches.
func Or(filters ...Filter) Filter {
	return func(server string, info mcp.ToolInfo) bool {
		for _, f := range filters {
			if f(server, info) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(server string, info mcp.ToolInfo) bool { return !f(server, info) }
}

// TimeoutSpec lets a Mode apply per-tool timeout/retry overrides. A nil
// *TimeoutSpec, or an unset field, falls back to no timeout and zero
// retries for that tool.
type TimeoutSpec struct {
	Default    *time.Duration
	Overrides  map[string]*time.Duration
	RetryCount map[string]int
}

func (t *TimeoutSpec) forTool(name string) *time.Duration {
	if t == nil {
		return nil
	}
	if d, ok := t.Overrides[name]; ok {
		return d
	}
	return t.Default
}

func (t *TimeoutSpec) maxRetries(name string) int {
	if t == nil {
		return 0
	}
	return t.RetryCount[name]
}

// Mode is a named, lazily-applied view over a fleet's tool list (spec §4.8
// "named tool modes"). Apply is called at dispatch time against whatever
// the coordinator currently reports, so a mode never goes stale as
// connections come and go.
type Mode struct {
	Name   string
	Filter Filter
}

// NewMode builds a named Mode.
func NewMode(name string, f Filter) Mode { return Mode{Name: name, Filter: f} }

// Apply selects the ToolWithServer entries matching m.Filter and wraps each
// as a Proxy, using coord for every proxy's underlying call_tool and timeout
// for any per-tool timeout/retry overrides.
func (m Mode) Apply(tools []coordinator.ToolWithServer, coord Coordinator, timeout *TimeoutSpec) []Proxy {
	var out []Proxy
	for _, t := range tools {
		if !m.Filter(t.Server, t.ToolInfo) {
			continue
		}
		out = append(out, New(t.Server, t.ToolInfo, coord, timeout.forTool(t.ToolInfo.Name), timeout.maxRetries(t.ToolInfo.Name)))
	}
	return out
}
