// Package svcctx provides service context for dependency injection via context.
// This package is separate from the commands to avoid import cycles.
package svcctx

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackzampolin/narrator/internal/cache"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/home"
	"github.com/jackzampolin/narrator/internal/jobs"
	"github.com/jackzampolin/narrator/internal/metrics"
	"github.com/jackzampolin/narrator/internal/pipeline"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/synthesis"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Config     *config.Config
	Home       *home.Dir
	Provider   providers.SpeechProvider
	Cache      *cache.Cache
	Pool       *synthesis.Pool
	Engine     *synthesis.Engine
	Metrics    *metrics.Recorder
	Pipeline   *pipeline.Pipeline
	JobManager *jobs.Manager
	Logger     *slog.Logger

	runWG *sync.WaitGroup
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// CacheFrom extracts the synthesis cache from context.
func CacheFrom(ctx context.Context) *cache.Cache {
	if s := ServicesFrom(ctx); s != nil {
		return s.Cache
	}
	return nil
}

// ProviderFrom extracts the speech provider from context.
func ProviderFrom(ctx context.Context) providers.SpeechProvider {
	if s := ServicesFrom(ctx); s != nil {
		return s.Provider
	}
	return nil
}

// EngineFrom extracts the synthesis engine from context.
func EngineFrom(ctx context.Context) *synthesis.Engine {
	if s := ServicesFrom(ctx); s != nil {
		return s.Engine
	}
	return nil
}

// MetricsFrom extracts the usage recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
