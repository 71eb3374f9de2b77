// Package ratelimit throttles outbound requests per retailer source. It
// combines a token-bucket rate (requests per second) with a minimum spacing
// between consecutive requests, jittered to avoid synchronized bursts.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// jitterFraction is the ±fraction applied to the enforced inter-request delay.
const jitterFraction = 0.2

// SourceLimit configures throttling for one source.
type SourceLimit struct {
	// RequestsPerSecond caps the sustained request rate. Default: 2.
	RequestsPerSecond float64

	// MinInterval is the floor between consecutive requests from the same
	// source, independent of the bucket rate. Default: 250ms.
	MinInterval time.Duration
}

// DefaultSourceLimit returns a conservative default for unknown sources.
func DefaultSourceLimit() SourceLimit {
	return SourceLimit{
		RequestsPerSecond: 2,
		MinInterval:       250 * time.Millisecond,
	}
}

type sourceLimiter struct {
	limiter *rate.Limiter
	min     time.Duration

	mu   sync.Mutex
	next time.Time // earliest time the next request may start
}

// Limiter hands out per-source request slots. Safe for concurrent use by all
// workers of a run.
type Limiter struct {
	mu       sync.Mutex
	sources  map[string]*sourceLimiter
	limits   map[string]SourceLimit
	fallback SourceLimit

	// sleep and nowFunc allow test injection.
	sleep   func(ctx context.Context, d time.Duration) error
	nowFunc func() time.Time
}

// New creates a Limiter with per-source overrides. Sources without an
// override get the fallback limit.
func New(limits map[string]SourceLimit, fallback SourceLimit) *Limiter {
	if fallback.RequestsPerSecond <= 0 {
		fallback.RequestsPerSecond = DefaultSourceLimit().RequestsPerSecond
	}
	if fallback.MinInterval < 0 {
		fallback.MinInterval = 0
	}
	return &Limiter{
		sources:  make(map[string]*sourceLimiter),
		limits:   limits,
		fallback: fallback,
		sleep:    sleepCtx,
		nowFunc:  time.Now,
	}
}

// Acquire blocks until the source may issue a request. It returns an error
// only when ctx is cancelled; otherwise it always eventually returns.
func (l *Limiter) Acquire(ctx context.Context, sourceID string) error {
	sl := l.sourceFor(sourceID)

	// Enforce minimum spacing first. The slot is claimed under the lock so
	// concurrent workers queue up rather than stampede.
	if sl.min > 0 {
		sl.mu.Lock()
		now := l.nowFunc()
		start := sl.next
		if start.Before(now) {
			start = now
		}
		sl.next = start.Add(jitter(sl.min))
		sl.mu.Unlock()

		if wait := start.Sub(now); wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return sl.limiter.Wait(ctx)
}

func (l *Limiter) sourceFor(sourceID string) *sourceLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sl, ok := l.sources[sourceID]; ok {
		return sl
	}

	lim := l.fallback
	if override, ok := l.limits[sourceID]; ok {
		if override.RequestsPerSecond > 0 {
			lim.RequestsPerSecond = override.RequestsPerSecond
		}
		if override.MinInterval > 0 {
			lim.MinInterval = override.MinInterval
		}
	}

	burst := int(lim.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	sl := &sourceLimiter{
		limiter: rate.NewLimiter(rate.Limit(lim.RequestsPerSecond), burst),
		min:     lim.MinInterval,
	}
	l.sources[sourceID] = sl
	return sl
}

// jitter returns d scaled by a random factor in [1-jitterFraction, 1+jitterFraction].
func jitter(d time.Duration) time.Duration {
	f := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
