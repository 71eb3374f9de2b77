package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// RateLimitError signals an upstream 429 (or an open cooldown). It carries an
// optional Retry-After hint and feeds the cooldown breaker.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration // zero when the upstream gave no hint
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("rate limited by %s", e.Source)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// NewRateLimitError wraps err as a rate-limit signal for the given source.
func NewRateLimitError(source string, retryAfter time.Duration, err error) *RateLimitError {
	return &RateLimitError{Source: source, RetryAfter: retryAfter, Err: err}
}

// StatusError carries an upstream HTTP status code for classification.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http %d: %s", e.Code, e.Err.Error())
	}
	return fmt.Sprintf("http %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError wraps err with an HTTP status code.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

// IsRateLimit reports whether err is (or wraps) a rate-limit signal, either an
// explicit RateLimitError or an HTTP 429 status.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code == 429
}

// RetryAfterHint extracts the upstream Retry-After hint from an error chain,
// or zero if none was given.
func RetryAfterHint(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// IsNotFound reports whether err carries an HTTP 404. A 404 is terminal and
// additionally signals the orchestrator to stop the current store.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}

// IsRetryable classifies an error for the retry executor:
// 429, 5xx and transport-level failures retry; 404 and other 4xx do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsRateLimit(err) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 408
	}

	return isTransportError(err)
}

// isTransportError matches network-level failures (timeouts, resets, DNS)
// that are safe to retry.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
