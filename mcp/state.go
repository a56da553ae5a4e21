package mcp

// StateKind discriminates a ConnectionState's variant (spec §3
// "ConnectionState (MCP)"). Exactly one is current at any moment.
type StateKind string

const (
	StateIdle           StateKind = "idle"
	StateConnecting     StateKind = "connecting"
	StateAuthenticating StateKind = "authenticating"
	StateConnected      StateKind = "connected"
	StateFailed         StateKind = "failed"
	StateReconnecting   StateKind = "reconnecting"
	StateDisconnected   StateKind = "disconnected"
)

// AuthStage discriminates the OAuth handshake's progress (spec §3
// "AuthProgress").
type AuthStage string

const (
	AuthStarting           AuthStage = "starting"
	AuthOpeningBrowser     AuthStage = "opening_browser"
	AuthWaitingForCallback AuthStage = "waiting_for_callback"
	AuthExchangingToken    AuthStage = "exchanging_token"
)

// ConnectionState is the tagged variant a Connection actor owns exclusively;
// everyone else observes it via the event stream or a coordinator snapshot
// (spec §3, §4.6). Only the fields relevant to Kind are populated.
type ConnectionState struct {
	Kind StateKind

	// Authenticating
	AuthStage AuthStage
	AuthURL   string

	// Connected
	Tools []ToolInfo

	// Failed
	Message    string
	RetryCount int

	// Reconnecting
	Attempt     int
	MaxAttempts int
}

// legalTransitions enumerates the state graph's edges (spec §4.6 "State
// transition rules"). Used both by the connection actor to reject illegal
// moves and by the tests in state_test.go, which check that no edge leads
// back to Idle, that Authenticating is the only self-loop, and that every
// state has an outgoing edge.
var legalTransitions = map[StateKind]map[StateKind]bool{
	StateIdle: {
		StateConnecting: true,
	},
	StateConnecting: {
		StateConnected:      true,
		StateAuthenticating: true,
		StateFailed:         true,
	},
	StateAuthenticating: {
		StateAuthenticating: true, // progress updates within the same stage
		StateConnected:      true,
		StateFailed:         true,
	},
	StateConnected: {
		StateDisconnected: true,
		StateFailed:       true,
	},
	StateFailed: {
		StateReconnecting: true,
		StateConnecting:   true, // connect() is idempotent/retriable directly from Failed
	},
	StateReconnecting: {
		StateConnecting: true,
		StateFailed:     true, // reconnect policy exhausted attempts
	},
	StateDisconnected: {
		StateConnecting: true, // idempotent connect() from Disconnected
	},
}

// IsLegalTransition reports whether moving from `from` to `to` is allowed by
// the state graph (spec §4.6).
func IsLegalTransition(from, to StateKind) bool {
	return legalTransitions[from][to]
}
