package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces provider calls with a token bucket and honors
// server-requested pauses after a 429.
type RateLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
	consumed    int64
	waited      time.Duration
	last429     time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	TokensAvailable   float64       `json:"tokens_available" yaml:"tokens_available"`
	TotalConsumed     int64         `json:"total_consumed" yaml:"total_consumed"`
	TotalWaited       time.Duration `json:"total_waited" yaml:"total_waited"`
	PausedUntil       time.Time     `json:"paused_until,omitempty" yaml:"paused_until,omitempty"`
	Last429Time       time.Time     `json:"last_429_time,omitempty" yaml:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter. A non-positive rps disables pacing.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	r.mu.Lock()
	pause := time.Until(r.pausedUntil)
	r.mu.Unlock()
	if pause > 0 {
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.consumed++
	r.waited += time.Since(start)
	r.mu.Unlock()
	return nil
}

// Record429 pauses all callers for retryAfter.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429 = time.Now()
	if until := r.last429.Add(retryAfter); retryAfter > 0 && until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimiterStatus{
		RequestsPerSecond: float64(r.limiter.Limit()),
		Burst:             r.limiter.Burst(),
		TokensAvailable:   r.limiter.Tokens(),
		TotalConsumed:     r.consumed,
		TotalWaited:       r.waited,
		PausedUntil:       r.pausedUntil,
		Last429Time:       r.last429,
	}
}
