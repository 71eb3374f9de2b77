package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CooldownConfig controls the rate-limit cooldown breaker.
type CooldownConfig struct {
	// Threshold is the number of consecutive rate-limit signals before the
	// breaker opens. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open once tripped. An upstream
	// Retry-After hint longer than this extends the window. Default: 60s.
	Cooldown time.Duration

	// MaxWait bounds how long AllowWait may sleep for a cooldown to pass
	// before giving up and failing fast. Default: 5s.
	MaxWait time.Duration
}

// DefaultCooldownConfig returns sensible defaults.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Threshold: 3,
		Cooldown:  60 * time.Second,
		MaxWait:   5 * time.Second,
	}
}

// sourceState tracks rate-limit pressure for one source. cooldownUntil only
// ever moves forward while a cooldown is active.
type sourceState struct {
	consecutiveRateLimits int
	cooldownUntil         time.Time
}

// CooldownBreaker fails calls fast for a source that keeps returning
// rate-limit responses. Unlike a generic failure breaker, only rate-limit
// signals count toward the threshold; any other outcome (success or a
// different error) resets the streak.
type CooldownBreaker struct {
	cfg CooldownConfig

	mu        sync.Mutex
	sources   map[string]*sourceState
	overrides map[string]CooldownConfig

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCooldownBreaker creates a breaker shared by all workers of a run.
func NewCooldownBreaker(cfg CooldownConfig) *CooldownBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}
	return &CooldownBreaker{
		cfg:       cfg,
		sources:   make(map[string]*sourceState),
		overrides: make(map[string]CooldownConfig),
		nowFunc:   time.Now,
	}
}

// ConfigureSource overrides threshold and cooldown for one source. Zero
// fields fall back to the breaker-wide values. Call during wiring, before
// traffic starts.
func (b *CooldownBreaker) ConfigureSource(source string, cfg CooldownConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[source] = cfg
}

// cfgFor must be called with b.mu held.
func (b *CooldownBreaker) cfgFor(source string) CooldownConfig {
	cfg := b.cfg
	ov, ok := b.overrides[source]
	if !ok {
		return cfg
	}
	if ov.Threshold > 0 {
		cfg.Threshold = ov.Threshold
	}
	if ov.Cooldown > 0 {
		cfg.Cooldown = ov.Cooldown
	}
	if ov.MaxWait > 0 {
		cfg.MaxWait = ov.MaxWait
	}
	return cfg
}

// Allow returns nil when the source may be called, or a RateLimitError
// (carrying the remaining cooldown as its hint) when the cooldown is active.
// No upstream attempt is made while open.
func (b *CooldownBreaker) Allow(source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.sources[source]
	if st == nil {
		return nil
	}

	now := b.nowFunc()
	if st.cooldownUntil.After(now) {
		remaining := st.cooldownUntil.Sub(now)
		return NewRateLimitError(source, remaining, nil)
	}

	return nil
}

// AllowWait behaves like Allow but, when the remaining cooldown is at most
// MaxWait, sleeps it off and lets the call through instead of failing.
func (b *CooldownBreaker) AllowWait(ctx context.Context, source string) error {
	err := b.Allow(source)
	if err == nil {
		return nil
	}

	b.mu.Lock()
	maxWait := b.cfgFor(source).MaxWait
	b.mu.Unlock()

	remaining := RetryAfterHint(err)
	if remaining <= 0 || remaining > maxWait {
		return err
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return b.Allow(source)
}

// RecordRateLimit counts a rate-limit signal for the source. Once the streak
// reaches the threshold, the breaker opens for max(Cooldown, retryAfter);
// while already open, the window is only ever extended, never shortened.
func (b *CooldownBreaker) RecordRateLimit(source string, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.sources[source]
	if st == nil {
		st = &sourceState{}
		b.sources[source] = st
	}

	cfg := b.cfgFor(source)
	st.consecutiveRateLimits++
	if st.consecutiveRateLimits < cfg.Threshold {
		return
	}

	window := cfg.Cooldown
	if retryAfter > window {
		window = retryAfter
	}
	until := b.nowFunc().Add(window)
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}

	zap.L().Warn("cooldown breaker open",
		zap.String("source", source),
		zap.Int("consecutive_rate_limits", st.consecutiveRateLimits),
		zap.Duration("cooldown", window),
	)
}

// RecordOutcome resets the rate-limit streak on any non-rate-limit outcome.
// Failures of other kinds do not count toward the threshold.
func (b *CooldownBreaker) RecordOutcome(source string, err error) {
	if IsRateLimit(err) {
		b.RecordRateLimit(source, RetryAfterHint(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.sources[source]; st != nil {
		st.consecutiveRateLimits = 0
	}
}

// CooldownRemaining reports how much of the source's cooldown window is left.
func (b *CooldownBreaker) CooldownRemaining(source string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.sources[source]
	if st == nil {
		return 0
	}
	if remaining := st.cooldownUntil.Sub(b.nowFunc()); remaining > 0 {
		return remaining
	}
	return 0
}
