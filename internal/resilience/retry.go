// Package resilience provides retry, error classification, and cooldown
// circuit breaking for the scraper fleet's upstream calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls retry behavior with exponential backoff and
// escalating per-attempt timeouts.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// A value of 0 means a single attempt. Default: 2.
	MaxRetries int

	// InitialTimeout bounds the first attempt. Later attempts grow by
	// TimeoutMultiplier, capped at 3x InitialTimeout to tolerate degraded
	// upstream latency without stalling a worker. Default: 10s.
	InitialTimeout time.Duration

	// TimeoutMultiplier scales the per-attempt timeout. Default: 1.5.
	TimeoutMultiplier float64

	// BaseDelay is the backoff before the first retry, doubling each
	// attempt. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration. Default: 15s.
	MaxDelay time.Duration

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.25.
	JitterFraction float64

	// ShouldRetry optionally overrides the default IsRetryable check.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns a sensible policy for retailer API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		InitialTimeout:    10 * time.Second,
		TimeoutMultiplier: 1.5,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          15 * time.Second,
		JitterFraction:    0.25,
	}
}

// timeoutCapMultiple caps per-attempt timeout escalation relative to the
// initial timeout.
const timeoutCapMultiple = 3

// Operation is one retryable unit of work. The executor passes a context
// already bounded by the attempt's timeout, plus the attempt index (0-based)
// for logging.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Execute runs op up to MaxRetries+1 times with exponential backoff and
// escalating per-attempt timeouts. Terminal errors (non-retryable per the
// policy's classifier) short-circuit; otherwise the last error propagates
// once retries are exhausted. Context cancellation stops retries immediately.
func Execute[T any](ctx context.Context, policy RetryPolicy, op Operation[T]) (T, error) {
	policy = applyDefaults(policy)

	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.TimeoutForAttempt(attempt))
		val, err := op(attemptCtx, attempt)
		cancel()
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Don't retry on caller cancellation (as opposed to the
		// per-attempt deadline firing).
		if ctx.Err() != nil {
			return zero, lastErr
		}

		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		if attempt >= policy.MaxRetries {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, lastErr)
		}

		delay := computeBackoff(attempt, policy)
		if hint := RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// TimeoutForAttempt returns the timeout for the given 0-based attempt:
// InitialTimeout * TimeoutMultiplier^attempt, capped at 3x initial.
func (p RetryPolicy) TimeoutForAttempt(attempt int) time.Duration {
	p = applyDefaults(p)
	t := float64(p.InitialTimeout) * math.Pow(p.TimeoutMultiplier, float64(attempt))
	cap := float64(p.InitialTimeout) * timeoutCapMultiple
	if t > cap {
		t = cap
	}
	return time.Duration(t)
}

func applyDefaults(p RetryPolicy) RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialTimeout <= 0 {
		p.InitialTimeout = 10 * time.Second
	}
	if p.TimeoutMultiplier <= 1 {
		p.TimeoutMultiplier = 1.5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

func computeBackoff(attempt int, p RetryPolicy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(source, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
