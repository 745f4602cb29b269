// Package synthesis turns chunk text into audio through the shared cache,
// the global worker pool, a retry policy and a circuit breaker.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/narrator/internal/cache"
	"github.com/jackzampolin/narrator/internal/faults"
	"github.com/jackzampolin/narrator/internal/metrics"
	"github.com/jackzampolin/narrator/internal/providers"
)

// Request describes one chunk to synthesize.
type Request struct {
	JobID        string
	Text         string
	Voice        string
	Model        string
	Speed        float64
	Style        string
	Emotion      string
	Format       string
	Instructions string
}

// Key returns the cache key for r against provider.
func (r Request) Key(provider string) cache.Key {
	return cache.Key{
		Provider: provider,
		Text:     r.Text,
		Voice:    r.Voice,
		Model:    r.Model,
		Speed:    r.Speed,
		Style:    r.Style,
		Emotion:  r.Emotion,
		Format:   r.Format,

		Instructions: r.Instructions,
	}
}

// Source says where a result's audio came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceCache    Source = "cache"
	SourceShared   Source = "shared"
	SourceBypass   Source = "bypass"
)

// Result is synthesized audio for one Request.
type Result struct {
	Audio       []byte
	Fingerprint cache.Fingerprint
	Source      Source
	// Attempts is empty unless this call reached the provider.
	Attempts []Attempt
}

// Store is the subset of *cache.Cache the engine uses.
type Store interface {
	Lookup(ctx context.Context, fp cache.Fingerprint) ([]byte, bool, error)
	AcquireOrWait(ctx context.Context, fp cache.Fingerprint) (*cache.Token, []byte, error)
	Publish(ctx context.Context, tok *cache.Token, audio []byte) error
	Release(tok *cache.Token, err error)
}

// Config configures an Engine.
type Config struct {
	Provider providers.SpeechProvider
	Cache    Store
	Pool     *Pool
	Retry    RetryPolicy
	Breaker  *Breaker
	// Metrics receives one record per Synthesize call (default: a new recorder).
	Metrics *metrics.Recorder

	// AttemptTimeout bounds each provider call (default 2m). Expiry is a
	// transient failure.
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// Engine synthesizes chunks. It is safe for concurrent use across jobs.
type Engine struct {
	provider       providers.SpeechProvider
	cache          Store
	pool           *Pool
	retry          RetryPolicy
	breaker        *Breaker
	metrics        *metrics.Recorder
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(BreakerConfig{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRecorder(metrics.RecorderConfig{})
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:       cfg.Provider,
		cache:          cfg.Cache,
		pool:           cfg.Pool,
		retry:          cfg.Retry.withDefaults(),
		breaker:        cfg.Breaker,
		metrics:        cfg.Metrics,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         logger.With("component", "synthesis", "provider", cfg.Provider.Name()),
	}, nil
}

// Provider returns the speech provider.
func (e *Engine) Provider() providers.SpeechProvider { return e.provider }

// Breaker returns the engine's circuit breaker.
func (e *Engine) Breaker() *Breaker { return e.breaker }

// Metrics returns the usage recorder.
func (e *Engine) Metrics() *metrics.Recorder { return e.metrics }

// Synthesize returns audio for req, from the cache when possible. Concurrent
// requests with the same fingerprint share one provider call. Cache failures
// degrade to uncached synthesis.
func (e *Engine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.synthesize(ctx, req)
	e.record(req, res, err, time.Since(start))
	return res, err
}

func (e *Engine) synthesize(ctx context.Context, req Request) (*Result, error) {
	fp := req.Key(e.provider.Name()).Fingerprint()
	logger := e.logger.With("fingerprint", fp.Short(), "job_id", req.JobID)

	audio, hit, err := e.cache.Lookup(ctx, fp)
	switch {
	case err != nil:
		logger.Warn("cache lookup failed, synthesizing without cache", "error", err)
		return e.bypass(ctx, req, fp)
	case hit:
		logger.Debug("cache hit")
		return &Result{Audio: audio, Fingerprint: fp, Source: SourceCache}, nil
	}

	// A waiter whose owner failed tries to take ownership itself; give up
	// after as many rounds as the retry policy allows attempts.
	var flightErr error
	for round := 0; round < e.retry.MaxAttempts; round++ {
		tok, shared, err := e.cache.AcquireOrWait(ctx, fp)
		var fe *cache.FlightError
		switch {
		case errors.As(err, &fe):
			flightErr = err
			if !faults.IsTransient(fe.Err) && !ownerGaveUp(fe.Err) {
				return nil, err
			}
			logger.Debug("shared synthesis failed, retrying", "error", fe.Err)
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			logger.Warn("cache acquire failed, synthesizing without cache", "error", err)
			return e.bypass(ctx, req, fp)
		case tok == nil:
			logger.Debug("received shared synthesis result")
			return &Result{Audio: shared, Fingerprint: fp, Source: SourceShared}, nil
		}

		audio, trace, err := e.generate(ctx, req)
		if err != nil {
			e.cache.Release(tok, err)
			return &Result{Fingerprint: fp, Source: SourceProvider, Attempts: trace.Attempts()}, err
		}
		// Store even if the job was cancelled meanwhile; the audio stays valid.
		if err := e.cache.Publish(context.WithoutCancel(ctx), tok, audio); err != nil {
			logger.Warn("failed to store synthesized audio", "error", err)
		}
		return &Result{Audio: audio, Fingerprint: fp, Source: SourceProvider, Attempts: trace.Attempts()}, nil
	}
	return nil, flightErr
}

// ownerGaveUp reports whether a flight ended because its owner's request was
// cancelled or timed out. That says nothing about the waiter's own request.
func ownerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) bypass(ctx context.Context, req Request, fp cache.Fingerprint) (*Result, error) {
	audio, trace, err := e.generate(ctx, req)
	res := &Result{Audio: audio, Fingerprint: fp, Source: SourceBypass, Attempts: trace.Attempts()}
	if err != nil {
		res.Audio = nil
		return res, err
	}
	return res, nil
}

// generate calls the provider through the pool under the retry policy.
func (e *Engine) generate(ctx context.Context, req Request) ([]byte, *Trace, error) {
	preq := &providers.SpeechRequest{
		Text:         req.Text,
		Voice:        req.Voice,
		Model:        req.Model,
		Speed:        req.Speed,
		Format:       req.Format,
		Style:        req.Style,
		Emotion:      req.Emotion,
		Instructions: req.Instructions,
	}

	var audio []byte
	policy := e.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("synthesis attempt failed, retrying",
			"job_id", req.JobID,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err)
		if e.retry.OnRetry != nil {
			e.retry.OnRetry(attempt, delay, err)
		}
	}

	trace, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := e.breaker.Allow(); err != nil {
			return err
		}
		err := e.pool.Do(ctx, req.JobID, func(runCtx context.Context) error {
			callCtx, cancel := context.WithTimeout(runCtx, e.attemptTimeout)
			defer cancel()
			res, err := e.provider.Generate(callCtx, preq)
			if err != nil {
				return err
			}
			if len(res.Audio) == 0 {
				return &providers.APIError{Provider: e.provider.Name(), Message: "provider returned empty audio", StatusCode: 502}
			}
			audio = res.Audio
			return nil
		})
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		e.breaker.Record(err)
		var rl *providers.RateLimitError
		if errors.As(err, &rl) {
			e.pool.RateLimiter().Record429(rl.RetryAfter)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, trace, err
		}
		if faults.KindOf(err) == faults.KindUnknown {
			err = faults.Synthesis("generate speech", faults.IsTransient(err), err)
		}
		return nil, trace, err
	}
	return audio, trace, nil
}

// record adds a usage metric. Attempts rejected by the breaker or abandoned
// before reaching the provider are not billed.
func (e *Engine) record(req Request, res *Result, err error, elapsed time.Duration) {
	m := metrics.Metric{
		JobID:        req.JobID,
		Provider:     e.provider.Name(),
		Model:        req.Model,
		Voice:        req.Voice,
		Characters:   len([]rune(req.Text)),
		TotalSeconds: elapsed.Seconds(),
		Success:      err == nil,
	}
	if err != nil {
		m.ErrorType = string(faults.KindOf(err))
	}
	if res != nil {
		m.Source = string(res.Source)
		m.AudioBytes = len(res.Audio)
		for _, a := range res.Attempts {
			var open *BreakerOpenError
			if errors.As(a.Err, &open) || errors.Is(a.Err, context.Canceled) {
				continue
			}
			m.Attempts++
		}
	}
	e.metrics.Record(m)
}
