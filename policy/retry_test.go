package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pelagus-ai/agentrt/model"
)

func TestDelayProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delay of attempt 0 is always zero", prop.ForAll(
		func(initial int) bool {
			p := RetryPolicy{InitialDelay: time.Duration(initial) * time.Millisecond, BackoffMultiplier: 2.0}
			return p.Delay(0, nil) == 0
		},
		gen.IntRange(0, 1000),
	))

	properties.Property("delay never exceeds MaxDelay", prop.ForAll(
		func(attempt int) bool {
			p := RetryPolicy{
				InitialDelay:      100 * time.Millisecond,
				MaxDelay:          time.Second,
				BackoffMultiplier: 2.0,
				JitterFraction:    0,
			}
			return p.Delay(attempt, nil) <= p.MaxDelay
		},
		gen.IntRange(1, 50),
	))

	properties.Property("delay is non-decreasing without jitter", prop.ForAll(
		func(attempt int) bool {
			p := RetryPolicy{
				InitialDelay:      100 * time.Millisecond,
				MaxDelay:          10 * time.Second,
				BackoffMultiplier: 2.0,
				JitterFraction:    0,
			}
			return p.Delay(attempt+1, nil) >= p.Delay(attempt, nil)
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestIsRetryable(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("boom"), false},
		{"rate limited", model.NewLlmError(model.ErrRateLimited, "slow down"), true},
		{"server error", model.NewLlmError(model.ErrServerError, "oops"), true},
		{"invalid api key", model.NewLlmError(model.ErrInvalidAPIKey, "bad key"), false},
		{"wrapped network error", model.WrapLlmError(model.ErrNetworkError, errors.New("dial tcp: timeout")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	calls := 0
	out, err := Do(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || out != 42 || calls != 1 {
		t.Fatalf("got out=%d err=%v calls=%d", out, err, calls)
	}
}

func TestDoReturnsImmediatelyOnNonRetryable(t *testing.T) {
	p := DefaultRetryPolicy()
	calls := 0
	sentinel := errors.New("fatal")
	_, err := Do(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if calls != 1 || !errors.Is(err, sentinel) {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestDoExhaustsRetryableError(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryableKinds:    map[model.ErrorKind]bool{model.ErrServerError: true},
	}
	calls := 0
	retryable := model.NewLlmError(model.ErrServerError, "down")
	_, err := Do(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		return 0, retryable
	})
	var exhausted *ExhaustedError
	if calls != 3 || !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	p := DefaultRetryPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, p, func(_ context.Context) (int, error) {
		t.Fatal("fn should not run after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
