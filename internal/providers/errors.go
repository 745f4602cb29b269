package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/narrator/internal/faults"
)

// RateLimitError is returned when the provider answers 429 Too Many Requests.
// It is always transient.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// FaultKind classifies the error as a synthesis failure.
func (e *RateLimitError) FaultKind() faults.Kind { return faults.KindSynthesis }

// Transient reports that a later attempt may succeed.
func (e *RateLimitError) Transient() bool { return true }

// APIError is a non-2xx provider response other than a plain rate limit.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s TTS error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s TTS error (status %d)", e.Provider, e.StatusCode)
}

// FaultKind classifies the error as a synthesis failure.
func (e *APIError) FaultKind() faults.Kind { return faults.KindSynthesis }

// Transient reports whether the status is worth retrying: timeouts, conflicts
// and server errors are; invalid requests, auth failures and exhausted quota
// are not.
func (e *APIError) Transient() bool {
	if isQuotaCode(e.Code) {
		return false
	}
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	}
	return false
}

func isQuotaCode(code string) bool {
	code = strings.ToLower(code)
	return strings.Contains(code, "quota") || code == "billing_hard_limit_reached"
}

// TransportError wraps a failure to reach the provider at all.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FaultKind classifies the error as a synthesis failure.
func (e *TransportError) FaultKind() faults.Kind { return faults.KindSynthesis }

// Transient reports true for timeouts and network errors. Cancellation is
// never transient.
func (e *TransportError) Transient() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr)
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
