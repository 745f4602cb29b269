package svcctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/narrator/internal/cache"
	"github.com/jackzampolin/narrator/internal/chapters"
	"github.com/jackzampolin/narrator/internal/chunker"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/document"
	"github.com/jackzampolin/narrator/internal/home"
	"github.com/jackzampolin/narrator/internal/jobs"
	"github.com/jackzampolin/narrator/internal/metrics"
	"github.com/jackzampolin/narrator/internal/pipeline"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/synthesis"
)

// Options overrides parts of the service graph.
type Options struct {
	// Provider replaces the provider built from configuration.
	Provider providers.SpeechProvider
}

// New builds the service graph from configuration. Call Start to run the
// worker pool and job manager, and Close when done.
func New(ctx context.Context, cfg *config.Config, h *home.Dir, logger *slog.Logger, opts Options) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		p, err := providers.New(cfg.ProviderConfig())
		if err != nil {
			return nil, err
		}
		provider = p
	}

	c, err := cache.Open(ctx, cache.Config{
		Dir:      home.Resolve(cfg.Cache.Dir, h.CachePath()),
		MaxBytes: cfg.Cache.MaxBytes,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	pool := synthesis.NewPool(synthesis.PoolConfig{
		Workers:     cfg.Workers.PoolSize,
		QueueSize:   cfg.Workers.QueueSize,
		RateLimiter: providers.NewRateLimiter(cfg.TTS.RateLimit, cfg.TTS.Burst),
		Logger:      logger,
	})

	recorder := metrics.NewRecorder(metrics.RecorderConfig{})
	engine, err := synthesis.NewEngine(synthesis.Config{
		Provider: provider,
		Cache:    c,
		Pool:     pool,
		Retry:    cfg.RetryPolicy(),
		Breaker: synthesis.NewBreaker(synthesis.BreakerConfig{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  cfg.BreakerCooldown(),
			Logger:    logger,
		}),
		AttemptTimeout: cfg.AttemptTimeout(),
		Metrics:        recorder,
		Logger:         logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	ch, err := chunker.New(cfg.ChunkerConfig())
	if err != nil {
		c.Close()
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Processor: document.NewProcessor(document.ProcessorConfig{Logger: logger}),
		Segmenter: chapters.NewSegmenter(chapters.Config{
			TargetLength: cfg.Chapters.TargetLength,
			MaxChapters:  cfg.Chapters.MaxChapters,
			Logger:       logger,
		}),
		Chunker:     ch,
		Engine:      engine,
		Enhancement: cfg.Enhancement(),
		OutputDir:   home.Resolve(cfg.Output.Dir, h.OutputPath()),
		Window:      cfg.Workers.ChunkWindow,
		Logger:      logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	manager, err := jobs.NewManager(jobs.ManagerConfig{
		Runner:          p,
		Defaults:        cfg.JobDefaults(),
		MaxJobs:         cfg.Workers.MaxJobs,
		QueueSize:       cfg.Workers.JobQueueSize,
		WorkDir:         home.Resolve(cfg.Output.WorkDir, h.WorkPath()),
		StaleTTL:        cfg.StaleTTL(),
		Retention:       cfg.Retention(),
		SweepInterval:   cfg.SweepInterval(),
		RemoveArtifacts: cfg.Jobs.RemoveArtifacts,
		Logger:          logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	return &Services{
		Config:     cfg,
		Home:       h,
		Provider:   provider,
		Cache:      c,
		Pool:       pool,
		Engine:     engine,
		Metrics:    recorder,
		Pipeline:   p,
		JobManager: manager,
		Logger:     logger,
		runWG:      &sync.WaitGroup{},
	}, nil
}

// Start runs the worker pool and the job manager until ctx is cancelled.
func (s *Services) Start(ctx context.Context) {
	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		s.Pool.Start(ctx)
	}()
	s.JobManager.Start(ctx)
}

// ApplyConfig carries a reloaded configuration into new job defaults.
func (s *Services) ApplyConfig(cfg *config.Config) {
	if err := s.JobManager.SetDefaults(cfg.JobDefaults()); err != nil {
		s.Logger.Warn("reloaded job defaults rejected", "error", err)
		return
	}
	s.Logger.Info("job defaults reloaded", "voice", cfg.TTS.Voice, "model", cfg.TTS.Model)
}

// Status is a point-in-time view of the shared runners.
type Status struct {
	Jobs    jobs.ManagerStatus      `json:"jobs" yaml:"jobs"`
	Pool    synthesis.PoolStatus    `json:"pool" yaml:"pool"`
	Breaker synthesis.BreakerStatus `json:"breaker" yaml:"breaker"`
}

// Status reports job admission, pool and breaker state.
func (s *Services) Status() Status {
	return Status{
		Jobs:    s.JobManager.Status(),
		Pool:    s.Pool.Status(),
		Breaker: s.Engine.Breaker().Status(),
	}
}

// Close waits for the runners started by Start, which return once their
// context is cancelled, then closes the cache.
func (s *Services) Close() error {
	s.JobManager.Wait()
	s.runWG.Wait()
	return s.Cache.Close()
}
