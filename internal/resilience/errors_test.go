package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(NewRateLimitError("kroger", 0, nil)) {
		t.Error("explicit RateLimitError should be rate limit")
	}
	if !IsRateLimit(NewStatusError(429, errors.New("too many requests"))) {
		t.Error("429 status should be rate limit")
	}
	if IsRateLimit(NewStatusError(500, nil)) {
		t.Error("500 should not be rate limit")
	}
	if IsRateLimit(nil) {
		t.Error("nil should not be rate limit")
	}
}

func TestIsRateLimit_Wrapped(t *testing.T) {
	err := eris.Wrap(NewRateLimitError("walmart", 30*time.Second, nil), "scrape: fetch page")
	if !IsRateLimit(err) {
		t.Error("wrapped RateLimitError should still classify")
	}
	if got := RetryAfterHint(err); got != 30*time.Second {
		t.Errorf("RetryAfterHint = %v, want 30s", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewStatusError(404, nil)) {
		t.Error("404 should be not-found")
	}
	if IsNotFound(NewStatusError(403, nil)) {
		t.Error("403 should not be not-found")
	}
	if IsNotFound(errors.New("no such product")) {
		t.Error("plain error should not be not-found")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", NewStatusError(429, nil), true},
		{"500", NewStatusError(500, nil), true},
		{"503", NewStatusError(503, nil), true},
		{"408", NewStatusError(408, nil), true},
		{"404", NewStatusError(404, nil), false},
		{"400", NewStatusError(400, nil), false},
		{"403", NewStatusError(403, nil), false},
		{"rate limit error", NewRateLimitError("target", 0, nil), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"plain", errors.New("unexpected payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
