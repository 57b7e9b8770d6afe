package crawler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Defaults for the linear retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffUnit = 1500 * time.Millisecond
)

// LinearRetryPolicy retries transient failures, sleeping unit×attempt
// between attempts.
type LinearRetryPolicy struct {
	maxAttempts int
	unit        time.Duration
}

// NewLinearRetryPolicy builds a policy. Non-positive values select defaults;
// a negative unit disables sleeping.
func NewLinearRetryPolicy(maxAttempts int, unit time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if unit == 0 {
		unit = DefaultBackoffUnit
	}
	if unit < 0 {
		unit = 0
	}
	return &LinearRetryPolicy{maxAttempts: maxAttempts, unit: unit}
}

// MaxAttempts returns the total attempt budget.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error after the given (1-based) attempt
// warrants another attempt.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return RetryableStatus(statusErr.Code)
	}
	return IsTransient(err)
}

// Backoff returns the wait before the attempt following the given one.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.unit * time.Duration(attempt)
}

// RetryableStatus reports whether a response status implies the same request
// may succeed later.
func RetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// IsTransient reports whether a transport error is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "timeout", "unexpected eof", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
