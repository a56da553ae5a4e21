// Package policy implements the usage-limit and retry-policy layer that
// uniformly guards model calls (spec §4.5). RetryPolicy generalizes the
// teacher's a2a/retry HTTP-status backoff helper to the model's LlmError
// kind taxonomy; UsageLimits are pre-checked bounds enforced by the agent
// loop before the action that would exceed them.
package policy

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pelagus-ai/agentrt/model"
)

// RetryPolicy configures backoff and retryability for model-call attempts
// (spec §4.5).
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// JitterFraction adds uniform jitter in ±JitterFraction of the computed
	// delay. Zero means deterministic delays.
	JitterFraction    float64
	RetryableKinds    map[model.ErrorKind]bool
}

// DefaultRetryPolicy returns a conservative default: 3 attempts, 200ms
// initial delay doubling up to 10s, 10% jitter, retrying only transient
// provider failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableKinds: map[model.ErrorKind]bool{
			model.ErrRateLimited:  true,
			model.ErrServerError:  true,
			model.ErrNetworkError: true,
		},
	}
}

// Delay computes the backoff before attempt index k (0-based: Delay(0) is
// always 0, per spec §8 "retry_policy.delay(0) = 0"). jitter, if non-nil, is
// used instead of math/rand so tests can assert deterministic output;
// callers normally pass nil.
func (p RetryPolicy) Delay(k int, jitter func() float64) time.Duration {
	if k <= 0 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(k-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		r := rand.Float64() //nolint:gosec // jitter does not need crypto rand
		if jitter != nil {
			r = jitter()
		}
		d += d * p.JitterFraction * (r*2 - 1)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// IsRetryable reports whether err's kind is configured as retryable.
func (p RetryPolicy) IsRetryable(err error) bool {
	var le *model.LlmError
	if !asLlmError(err, &le) {
		return false
	}
	return p.RetryableKinds[le.Kind]
}

func asLlmError(err error, target **model.LlmError) bool {
	for err != nil {
		if le, ok := err.(*model.LlmError); ok {
			*target = le
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExhaustedError is returned when MaxAttempts is reached without success
// (spec §4.5 "RetriesExhausted").
type ExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string { return "retry policy exhausted: " + e.LastError.Error() }
func (e *ExhaustedError) Unwrap() error { return e.LastError }

// Do invokes fn under p, sleeping between retryable attempts per Delay and
// checking ctx cancellation before and after each attempt (spec §4.4 step 4,
// §5 "Cancellation is checked before and after"). Non-retryable errors
// propagate immediately on first occurrence.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 0 {
			d := p.Delay(attempt, nil)
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if !p.IsRetryable(err) {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: maxAttempts, LastError: lastErr}
}
