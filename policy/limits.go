package policy

import "github.com/pelagus-ai/agentrt/message"

// UsageLimits bounds a single agent run (spec §4.5). Limits are pre-checked:
// the agent loop verifies a limit would not be exceeded BEFORE taking the
// action that consumes it, rather than taking the action and discovering the
// overage after the fact. A zero field means "unbounded" for that dimension.
type UsageLimits struct {
	MaxRequests  int
	MaxToolCalls int
	MaxTotalTokens int
}

// Counters tracks consumption against a UsageLimits across a run.
type Counters struct {
	Requests    int
	ToolCalls   int
	TotalTokens int
}

// Add folds u into the running counters.
func (c *Counters) Add(u message.Usage) {
	c.Requests += u.Requests
	c.TotalTokens += u.TotalTokens()
}

// AddToolCalls records n more tool calls having been dispatched.
func (c *Counters) AddToolCalls(n int) { c.ToolCalls += n }

// Kind identifies which dimension of a UsageLimits was or would be exceeded.
type Kind int

const (
	KindRequests Kind = iota
	KindToolCalls
	KindTotalTokens
)

func (k Kind) String() string {
	switch k {
	case KindRequests:
		return "max_requests"
	case KindToolCalls:
		return "max_tool_calls"
	case KindTotalTokens:
		return "max_total_tokens"
	default:
		return "unknown"
	}
}

// ExceededError reports which limit would be (or was) exceeded.
type ExceededError struct {
	Kind  Kind
	Limit int
	Value int
}

func (e *ExceededError) Error() string {
	return "usage limit exceeded: " + e.Kind.String()
}

// CheckRequest returns an *ExceededError if issuing one more model request
// would exceed l.MaxRequests.
func (l UsageLimits) CheckRequest(c Counters) error {
	if l.MaxRequests > 0 && c.Requests+1 > l.MaxRequests {
		return &ExceededError{Kind: KindRequests, Limit: l.MaxRequests, Value: c.Requests + 1}
	}
	return nil
}

// CheckToolCalls returns an *ExceededError if dispatching n more tool calls
// would exceed l.MaxToolCalls.
func (l UsageLimits) CheckToolCalls(c Counters, n int) error {
	if l.MaxToolCalls > 0 && c.ToolCalls+n > l.MaxToolCalls {
		return &ExceededError{Kind: KindToolCalls, Limit: l.MaxToolCalls, Value: c.ToolCalls + n}
	}
	return nil
}

// CheckTotalTokens returns an *ExceededError if c.TotalTokens already exceeds
// l.MaxTotalTokens. Token counts are only known after a response arrives, so
// unlike the other two checks this is necessarily a post-check on the prior
// response before issuing the next request (spec §4.5 "checked at the start
// of the next step, not mid-response").
func (l UsageLimits) CheckTotalTokens(c Counters) error {
	if l.MaxTotalTokens > 0 && c.TotalTokens > l.MaxTotalTokens {
		return &ExceededError{Kind: KindTotalTokens, Limit: l.MaxTotalTokens, Value: c.TotalTokens}
	}
	return nil
}
