package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/narrator/internal/faults"
)

// BreakerOpenError is returned while the breaker refuses new attempts.
type BreakerOpenError struct {
	Until    time.Time
	Failures int
	LastErr  error
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("provider circuit open until %s after %d consecutive permanent failures: %v",
		e.Until.Format(time.RFC3339), e.Failures, e.LastErr)
}

func (e *BreakerOpenError) Unwrap() error { return e.LastErr }

// FaultKind classifies the error as a synthesis failure.
func (e *BreakerOpenError) FaultKind() faults.Kind { return faults.KindSynthesis }

// Transient is false: the job fails rather than waiting out the cooldown.
func (e *BreakerOpenError) Transient() bool { return false }

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the run of consecutive permanent failures that opens the
	// breaker (default 5).
	Threshold int
	// Cooldown is how long the breaker stays open (default 1m).
	Cooldown time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Breaker stops calls to a provider that keeps rejecting requests outright.
// Transient failures neither count nor reset the run; a success resets it.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	lastErr   error
	trips     int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    logger.With("component", "breaker"),
		now:       cfg.Now,
	}
}

// Allow returns a *BreakerOpenError while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return nil
	}
	if b.now().Before(b.openUntil) {
		return &BreakerOpenError{Until: b.openUntil, Failures: b.failures, LastErr: b.lastErr}
	}
	// Half open: one more permanent failure reopens it.
	b.openUntil = time.Time{}
	b.failures = b.threshold - 1
	return nil
}

// Record updates the breaker with the outcome of an attempt.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.failures = 0
		b.lastErr = nil
	case faults.IsTransient(err), errors.Is(err, context.Canceled):
	default:
		var open *BreakerOpenError
		if errors.As(err, &open) {
			return
		}
		b.failures++
		b.lastErr = err
		if b.failures >= b.threshold && b.openUntil.IsZero() {
			b.openUntil = b.now().Add(b.cooldown)
			b.trips++
			b.logger.Warn("circuit opened",
				"failures", b.failures,
				"cooldown", b.cooldown,
				"error", err)
		}
	}
}

// BreakerStatus reports breaker state.
type BreakerStatus struct {
	Open      bool      `json:"open" yaml:"open"`
	OpenUntil time.Time `json:"open_until,omitempty" yaml:"open_until,omitempty"`
	Failures  int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	Trips     int       `json:"trips" yaml:"trips"`
}

// Status returns the current state.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		Open:      !b.openUntil.IsZero() && b.now().Before(b.openUntil),
		OpenUntil: b.openUntil,
		Failures:  b.failures,
		Trips:     b.trips,
	}
}
