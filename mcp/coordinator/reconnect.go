package coordinator

import "time"

// ReconnectKind discriminates a ReconnectPolicy's variant (spec §4.7
// "Reconnect policy: {None, Immediate{max_attempts}, ExponentialBackoff
// {max_attempts, base_delay}}").
type ReconnectKind string

const (
	ReconnectNone               ReconnectKind = "none"
	ReconnectImmediate          ReconnectKind = "immediate"
	ReconnectExponentialBackoff ReconnectKind = "exponential_backoff"
)

// ReconnectPolicy governs whether and how the coordinator retries a Failed
// connection (spec §4.7).
type ReconnectPolicy struct {
	Kind        ReconnectKind
	MaxAttempts int
	BaseDelay   time.Duration
}

// delay computes how long to wait before the (retryCount+1)th reconnect
// attempt: delay = base_delay * 2^retry_count for ExponentialBackoff, zero
// for Immediate (spec §4.7 "on Failed{retry_count}, if policy permits, delay
// = base_delay × 2^retry_count").
func (p ReconnectPolicy) delay(retryCount int) time.Duration {
	switch p.Kind {
	case ReconnectImmediate:
		return 0
	case ReconnectExponentialBackoff:
		d := p.BaseDelay
		for i := 0; i < retryCount; i++ {
			d *= 2
		}
		return d
	default:
		return 0
	}
}

// permits reports whether another reconnect attempt is allowed after
// retryCount prior failures.
func (p ReconnectPolicy) permits(retryCount int) bool {
	if p.Kind == ReconnectNone {
		return false
	}
	if p.MaxAttempts <= 0 {
		return true
	}
	return retryCount < p.MaxAttempts
}
