package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/narrator/internal/audio"
	"github.com/jackzampolin/narrator/internal/chunker"
	"github.com/jackzampolin/narrator/internal/jobs"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/synthesis"
)

// Config holds narrator configuration.
// Stored at: ~/.narrator/config.yaml
//
// Durations are strings in time.ParseDuration syntax ("90s", "2m").
type Config struct {
	TTS      TTSCfg      `mapstructure:"tts" yaml:"tts"`
	Chunking ChunkingCfg `mapstructure:"chunking" yaml:"chunking"`
	Chapters ChaptersCfg `mapstructure:"chapters" yaml:"chapters"`
	Cache    CacheCfg    `mapstructure:"cache" yaml:"cache"`
	Output   OutputCfg   `mapstructure:"output" yaml:"output"`
	Workers  WorkersCfg  `mapstructure:"workers" yaml:"workers"`
	Retry    RetryCfg    `mapstructure:"retry" yaml:"retry"`
	Breaker  BreakerCfg  `mapstructure:"breaker" yaml:"breaker"`
	Jobs     JobsCfg     `mapstructure:"jobs" yaml:"jobs"`
	Audio    AudioCfg    `mapstructure:"audio" yaml:"audio"`
}

// TTSCfg selects and configures the speech provider and per-job defaults.
type TTSCfg struct {
	Provider     string  `mapstructure:"provider" yaml:"provider"` // "openai", "elevenlabs", "mock"
	APIKey       string  `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	BaseURL      string  `mapstructure:"base_url" yaml:"base_url"`
	Voice        string  `mapstructure:"voice" yaml:"voice"`
	Model        string  `mapstructure:"model" yaml:"model"`
	Speed        float64 `mapstructure:"speed" yaml:"speed"`
	Style        string  `mapstructure:"style" yaml:"style"`
	Instructions string  `mapstructure:"instructions" yaml:"instructions"`
	Format       string  `mapstructure:"format" yaml:"format"`
	Timeout      string  `mapstructure:"timeout" yaml:"timeout"`
	RateLimit    float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst        int     `mapstructure:"burst" yaml:"burst"`
}

// ChunkingCfg bounds chunk sizes in characters.
type ChunkingCfg struct {
	MinChunkSize int `mapstructure:"min_chunk_size" yaml:"min_chunk_size"`
	MaxChunkSize int `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`
	ChunkSize    int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// ChaptersCfg tunes headingless segmentation.
type ChaptersCfg struct {
	TargetLength int `mapstructure:"target_length" yaml:"target_length"`
	MaxChapters  int `mapstructure:"max_chapters" yaml:"max_chapters"`
}

// CacheCfg locates and bounds the synthesis cache.
type CacheCfg struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`             // empty = <home>/cache
	MaxBytes int64  `mapstructure:"max_bytes" yaml:"max_bytes"` // 0 = unbounded
}

// OutputCfg locates job deliverables.
type OutputCfg struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`           // empty = <home>/output
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"` // empty = <home>/work
}

// WorkersCfg sizes the shared synthesis pool and the job queue.
type WorkersCfg struct {
	PoolSize     int `mapstructure:"pool_size" yaml:"pool_size"`
	QueueSize    int `mapstructure:"queue_size" yaml:"queue_size"`
	MaxJobs      int `mapstructure:"max_jobs" yaml:"max_jobs"`
	JobQueueSize int `mapstructure:"job_queue_size" yaml:"job_queue_size"`
	ChunkWindow  int `mapstructure:"chunk_window" yaml:"chunk_window"`
}

// RetryCfg configures per-chunk retries.
type RetryCfg struct {
	MaxAttempts    int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay      string  `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay       string  `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter         float64 `mapstructure:"jitter" yaml:"jitter"`
	AttemptTimeout string  `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// BreakerCfg configures the provider circuit breaker.
type BreakerCfg struct {
	Threshold int    `mapstructure:"threshold" yaml:"threshold"`
	Cooldown  string `mapstructure:"cooldown" yaml:"cooldown"`
}

// JobsCfg configures job retention.
type JobsCfg struct {
	StaleTTL        string `mapstructure:"stale_ttl" yaml:"stale_ttl"`
	Retention       string `mapstructure:"retention" yaml:"retention"`
	SweepInterval   string `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	RemoveArtifacts bool   `mapstructure:"remove_artifacts" yaml:"remove_artifacts"`
}

// AudioCfg configures assembly enhancement.
type AudioCfg struct {
	Normalize  bool    `mapstructure:"normalize" yaml:"normalize"`
	Compress   bool    `mapstructure:"compress" yaml:"compress"`
	TargetPeak float64 `mapstructure:"target_peak" yaml:"target_peak"`
	FadeIn     string  `mapstructure:"fade_in" yaml:"fade_in"`
	FadeOut    string  `mapstructure:"fade_out" yaml:"fade_out"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TTS: TTSCfg{
			Provider:  providers.OpenAIName,
			APIKey:    "${OPENAI_API_KEY}",
			Voice:     "alloy",
			Model:     "tts-1",
			Speed:     1.0,
			Format:    "wav",
			Timeout:   "2m",
			RateLimit: 3,
			Burst:     3,
		},
		Chunking: ChunkingCfg{
			MinChunkSize: chunker.DefaultMinChunkSize,
			MaxChunkSize: chunker.DefaultMaxChunkSize,
			ChunkSize:    chunker.DefaultChunkSize,
		},
		Chapters: ChaptersCfg{
			TargetLength: 20000,
			MaxChapters:  30,
		},
		Workers: WorkersCfg{
			PoolSize:     4,
			QueueSize:    256,
			MaxJobs:      2,
			JobQueueSize: 16,
			ChunkWindow:  8,
		},
		Retry: RetryCfg{
			MaxAttempts:    3,
			BaseDelay:      "1s",
			MaxDelay:       "30s",
			Jitter:         0.1,
			AttemptTimeout: "2m",
		},
		Breaker: BreakerCfg{
			Threshold: 5,
			Cooldown:  "1m",
		},
		Jobs: JobsCfg{
			StaleTTL:      "30m",
			Retention:     "24h",
			SweepInterval: "1m",
		},
		Audio: AudioCfg{
			Normalize:  true,
			TargetPeak: 0.89,
		},
	}
}

// Validate checks ranges and duration syntax.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.TTS.Provider != "", "tts.provider is required")
	check(c.TTS.Speed >= 0.25 && c.TTS.Speed <= 4.0, "tts.speed %.2f out of range [0.25, 4.0]", c.TTS.Speed)
	check(c.TTS.RateLimit >= 0, "tts.rate_limit must not be negative")
	if _, err := audio.NewCodec(c.TTS.Format); err != nil {
		errs = append(errs, fmt.Errorf("tts.format: %w", err))
	}

	ch := c.Chunking
	check(ch.MinChunkSize > 0, "chunking.min_chunk_size must be positive")
	check(ch.MaxChunkSize >= ch.MinChunkSize, "chunking.max_chunk_size %d below min_chunk_size %d", ch.MaxChunkSize, ch.MinChunkSize)
	check(ch.ChunkSize == 0 || (ch.ChunkSize >= ch.MinChunkSize && ch.ChunkSize <= ch.MaxChunkSize),
		"chunking.chunk_size %d outside [%d, %d]", ch.ChunkSize, ch.MinChunkSize, ch.MaxChunkSize)

	check(c.Chapters.TargetLength >= 0, "chapters.target_length must not be negative")
	check(c.Cache.MaxBytes >= 0, "cache.max_bytes must not be negative")

	w := c.Workers
	check(w.PoolSize >= 1, "workers.pool_size must be at least 1")
	check(w.QueueSize >= 1, "workers.queue_size must be at least 1")
	check(w.MaxJobs >= 1, "workers.max_jobs must be at least 1")
	check(w.JobQueueSize >= 1, "workers.job_queue_size must be at least 1")

	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be at least 1")
	check(c.Retry.Jitter >= 0 && c.Retry.Jitter <= 1, "retry.jitter must be within [0, 1]")
	check(c.Breaker.Threshold >= 1, "breaker.threshold must be at least 1")
	check(c.Audio.TargetPeak >= 0 && c.Audio.TargetPeak <= 1, "audio.target_peak must be within [0, 1]")

	for name, value := range c.durations() {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) durations() map[string]string {
	return map[string]string{
		"tts.timeout":           c.TTS.Timeout,
		"retry.base_delay":      c.Retry.BaseDelay,
		"retry.max_delay":       c.Retry.MaxDelay,
		"retry.attempt_timeout": c.Retry.AttemptTimeout,
		"breaker.cooldown":      c.Breaker.Cooldown,
		"jobs.stale_ttl":        c.Jobs.StaleTTL,
		"jobs.retention":        c.Jobs.Retention,
		"jobs.sweep_interval":   c.Jobs.SweepInterval,
		"audio.fade_in":         c.Audio.FadeIn,
		"audio.fade_out":        c.Audio.FadeOut,
	}
}

// parseDuration treats an empty string as zero, leaving the default to the consumer.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// ProviderConfig returns the speech provider settings with ${ENV_VAR}
// references resolved.
func (c *Config) ProviderConfig() providers.Config {
	return providers.Config{
		Provider: c.TTS.Provider,
		APIKey:   ResolveEnvVars(c.TTS.APIKey),
		BaseURL:  c.TTS.BaseURL,
		Model:    c.TTS.Model,
		Voice:    c.TTS.Voice,
		Timeout:  mustDuration(c.TTS.Timeout),
	}
}

// RetryPolicy returns the per-chunk retry policy.
func (c *Config) RetryPolicy() synthesis.RetryPolicy {
	return synthesis.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   mustDuration(c.Retry.BaseDelay),
		MaxDelay:    mustDuration(c.Retry.MaxDelay),
		Jitter:      c.Retry.Jitter,
	}
}

// AttemptTimeout bounds one provider call.
func (c *Config) AttemptTimeout() time.Duration { return mustDuration(c.Retry.AttemptTimeout) }

// BreakerCooldown is how long the breaker stays open.
func (c *Config) BreakerCooldown() time.Duration { return mustDuration(c.Breaker.Cooldown) }

// ChunkerConfig returns the chunk size bounds.
func (c *Config) ChunkerConfig() chunker.Config {
	return chunker.Config{MinChunkSize: c.Chunking.MinChunkSize, MaxChunkSize: c.Chunking.MaxChunkSize}
}

// Enhancement returns the assembly enhancement defaults.
func (c *Config) Enhancement() audio.Enhancement {
	return audio.Enhancement{
		Normalize:  c.Audio.Normalize,
		Compress:   c.Audio.Compress,
		TargetPeak: c.Audio.TargetPeak,
		FadeIn:     mustDuration(c.Audio.FadeIn),
		FadeOut:    mustDuration(c.Audio.FadeOut),
	}
}

// JobDefaults returns the settings every submitted job starts from.
func (c *Config) JobDefaults() jobs.Settings {
	return jobs.Settings{
		Provider:     c.TTS.Provider,
		Voice:        c.TTS.Voice,
		Model:        c.TTS.Model,
		Speed:        c.TTS.Speed,
		Style:        c.TTS.Style,
		Instructions: c.TTS.Instructions,
		Format:       c.TTS.Format,
		MaxChunkSize: c.Chunking.ChunkSize,
		Normalize:    jobs.Bool(c.Audio.Normalize),
		Compress:     jobs.Bool(c.Audio.Compress),
	}
}

// StaleTTL, Retention and SweepInterval return the job retention durations.
func (c *Config) StaleTTL() time.Duration      { return mustDuration(c.Jobs.StaleTTL) }
func (c *Config) Retention() time.Duration     { return mustDuration(c.Jobs.Retention) }
func (c *Config) SweepInterval() time.Duration { return mustDuration(c.Jobs.SweepInterval) }
