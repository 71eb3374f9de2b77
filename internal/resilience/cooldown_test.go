package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CooldownBreaker, *time.Time) {
	b := NewCooldownBreaker(CooldownConfig{
		Threshold: threshold,
		Cooldown:  cooldown,
		MaxWait:   10 * time.Millisecond,
	})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return now }
	return b, &now
}

func TestCooldownBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordRateLimit("kroger", 0)
	b.RecordRateLimit("kroger", 0)
	if err := b.Allow("kroger"); err != nil {
		t.Fatalf("breaker must stay closed below threshold: %v", err)
	}

	b.RecordRateLimit("kroger", 0)
	err := b.Allow("kroger")
	if err == nil {
		t.Fatal("breaker should be open at threshold")
	}
	if !IsRateLimit(err) {
		t.Errorf("open breaker must return a rate-limit error, got %v", err)
	}
}

func TestCooldownBreaker_ClosesAfterWindow(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	b.RecordRateLimit("target", 0)
	b.RecordRateLimit("target", 0)
	if b.Allow("target") == nil {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(61 * time.Second)
	if err := b.Allow("target"); err != nil {
		t.Errorf("breaker should close after cooldown elapses: %v", err)
	}
}

func TestCooldownBreaker_RetryAfterExtendsWindow(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	b.RecordRateLimit("walmart", 5*time.Minute)
	if got := b.CooldownRemaining("walmart"); got != 5*time.Minute {
		t.Errorf("cooldown = %v, want Retry-After hint of 5m", got)
	}

	// A shorter follow-up signal must not shrink the window.
	b.RecordRateLimit("walmart", time.Second)
	if got := b.CooldownRemaining("walmart"); got != 5*time.Minute {
		t.Errorf("cooldown shrank to %v", got)
	}

	*now = now.Add(2 * time.Minute)
	if got := b.CooldownRemaining("walmart"); got != 3*time.Minute {
		t.Errorf("remaining = %v, want 3m", got)
	}
}

func TestCooldownBreaker_NonRateLimitResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordRateLimit("meijer", 0)
	b.RecordRateLimit("meijer", 0)
	b.RecordOutcome("meijer", nil) // success resets
	b.RecordRateLimit("meijer", 0)
	b.RecordRateLimit("meijer", 0)
	b.RecordOutcome("meijer", errors.New("parse failure")) // other errors reset too
	b.RecordRateLimit("meijer", 0)
	b.RecordRateLimit("meijer", 0)

	if err := b.Allow("meijer"); err != nil {
		t.Errorf("streak should have been reset twice, breaker open: %v", err)
	}
}

func TestCooldownBreaker_RecordOutcomeCountsRateLimits(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.RecordOutcome("aldi", NewStatusError(429, nil))
	b.RecordOutcome("aldi", NewRateLimitError("aldi", 0, nil))

	if b.Allow("aldi") == nil {
		t.Error("rate-limit outcomes routed through RecordOutcome should trip the breaker")
	}
}

func TestCooldownBreaker_SourcesIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.RecordRateLimit("99ranch", 0)
	if b.Allow("99ranch") == nil {
		t.Error("99ranch should be open")
	}
	if err := b.Allow("kroger"); err != nil {
		t.Errorf("kroger must be unaffected: %v", err)
	}
}

func TestCooldownBreaker_AllowWaitFailsFastOnLongCooldown(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordRateLimit("safeway", 0)

	err := b.AllowWait(context.Background(), "safeway")
	if err == nil {
		t.Fatal("expected fail-fast when cooldown exceeds MaxWait")
	}
	if !IsRateLimit(err) {
		t.Errorf("expected rate-limit error, got %v", err)
	}
}

func TestCooldownBreaker_PerSourceOverrides(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.ConfigureSource("walmart", CooldownConfig{Threshold: 1, Cooldown: 5 * time.Minute})

	b.RecordRateLimit("walmart", 0)
	if b.Allow("walmart") == nil {
		t.Fatal("override threshold of 1 should open immediately")
	}
	if got := b.CooldownRemaining("walmart"); got != 5*time.Minute {
		t.Errorf("expected overridden 5m cooldown, got %v", got)
	}

	b.RecordRateLimit("kroger", 0)
	if err := b.Allow("kroger"); err != nil {
		t.Errorf("unconfigured source keeps the default threshold: %v", err)
	}
}
