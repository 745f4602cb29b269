package synthesis

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/narrator/internal/faults"
	"github.com/jackzampolin/narrator/internal/providers"
)

// RetryPolicy retries transient failures with capped exponential backoff and
// jitter. Permanent failures return immediately.
type RetryPolicy struct {
	// MaxAttempts includes the first try (default 3).
	MaxAttempts int
	// BaseDelay is the wait after the first failure (default 1s).
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff (default 30s).
	MaxDelay time.Duration
	// Jitter adds up to this fraction of the backoff at random (0 disables).
	Jitter float64

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Backoff returns the jitter-free wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(failed int) time.Duration {
	p = p.withDefaults()
	if failed < 1 {
		failed = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(failed-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Attempt records one try.
type Attempt struct {
	Number int
	Err    error
	// Delay is the wait that followed this attempt; zero for the last one.
	Delay time.Duration
}

// Trace is the attempt history of one Do call.
type Trace struct {
	mu       sync.Mutex
	attempts []Attempt
}

// Attempts returns a copy of the recorded attempts.
func (t *Trace) Attempts() []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Attempt(nil), t.attempts...)
}

// Delays returns the waits between attempts.
func (t *Trace) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []time.Duration
	for _, a := range t.attempts {
		if a.Delay > 0 {
			out = append(out, a.Delay)
		}
	}
	return out
}

func (t *Trace) record(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, Attempt{Number: len(t.attempts) + 1, Err: err})
	return len(t.attempts)
}

func (t *Trace) setDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.attempts); n > 0 {
		t.attempts[n-1].Delay = d
	}
}

// Do runs fn until it succeeds, fails permanently, attempts run out, or ctx
// is done. A provider-supplied Retry-After longer than the backoff wins.
// The returned error is the last attempt's error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (*Trace, error) {
	p = p.withDefaults()
	trace := &Trace{}

	err := retry.Do(
		func() error {
			n := len(trace.Attempts()) + 1
			err := fn(ctx, n)
			trace.record(err)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(faults.IsTransient),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			d := p.delay(len(trace.Attempts()), err)
			trace.setDelay(d)
			if p.OnRetry != nil {
				p.OnRetry(len(trace.Attempts()), d, err)
			}
			return d
		}),
	)
	return trace, err
}

func (p RetryPolicy) delay(failed int, err error) time.Duration {
	d := p.Backoff(failed)
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * p.Rand())
	}
	if ra := providers.RetryAfter(err); ra > d {
		d = ra
	}
	return d
}
