package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackzampolin/narrator/internal/providers"
)

// ErrQueueFull is returned by Submit when the pool queue is at capacity.
var ErrQueueFull = errors.New("synthesis queue full")

// ErrPoolStopped is returned for work submitted after the pool stopped.
var ErrPoolStopped = errors.New("synthesis pool stopped")

// Task is one provider call. The context it receives is not cancelled when
// the submitter gives up, so a started call always runs to completion.
type Task func(ctx context.Context) error

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

type workItem struct {
	ctx   context.Context
	jobID string
	fn    Task
	state atomic.Int32
	done  chan error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of concurrent provider calls (default 4).
	Workers int
	// QueueSize bounds waiting work (default 256).
	QueueSize int
	// RateLimiter paces dispatch; nil disables pacing.
	RateLimiter *providers.RateLimiter
	Logger      *slog.Logger
}

// Pool is the process-wide synthesis worker pool shared by every job. Work is
// dispatched in arrival order, so one job's chunks cannot starve another's.
// A single dispatcher owns the rate limiter and hands work to N workers.
type Pool struct {
	workers     int
	queue       chan *workItem
	work        chan *workItem
	rateLimiter *providers.RateLimiter
	logger      *slog.Logger

	stopped  chan struct{}
	inFlight atomic.Int32
	executed atomic.Int64
}

// NewPool creates a pool. Call Start to begin processing.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = providers.NewRateLimiter(0, cfg.Workers)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers:     cfg.Workers,
		queue:       make(chan *workItem, cfg.QueueSize),
		work:        make(chan *workItem, cfg.Workers),
		rateLimiter: cfg.RateLimiter,
		logger:      logger.With("component", "synthesis_pool", "workers", cfg.Workers),
		stopped:     make(chan struct{}),
	}
}

// Start runs the dispatcher and workers. Blocks until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Debug("synthesis pool started")
	go p.dispatcher(ctx)
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, i)
	}
	<-ctx.Done()
	close(p.stopped)
	p.logger.Debug("synthesis pool stopping")
}

// RateLimiter returns the limiter shared by all workers.
func (p *Pool) RateLimiter() *providers.RateLimiter { return p.rateLimiter }

// dispatcher pulls work in FIFO order, waits for a rate limit token and
// hands the item to a worker.
func (p *Pool) dispatcher(ctx context.Context) {
	for {
		var item *workItem
		select {
		case <-ctx.Done():
			return
		case item = <-p.queue:
		}

		// Skip work whose submitter already gave up before spending a token.
		if item.ctx.Err() != nil {
			if item.state.CompareAndSwap(taskPending, taskAbandoned) {
				item.done <- item.ctx.Err()
			}
			continue
		}

		if err := p.rateLimiter.Wait(ctx); err != nil {
			if item.state.CompareAndSwap(taskPending, taskAbandoned) {
				item.done <- fmt.Errorf("rate limit wait cancelled: %w", err)
			}
			return
		}

		select {
		case p.work <- item:
		case <-ctx.Done():
			if item.state.CompareAndSwap(taskPending, taskAbandoned) {
				item.done <- ErrPoolStopped
			}
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.work:
			if !item.state.CompareAndSwap(taskPending, taskRunning) {
				continue
			}
			p.inFlight.Add(1)
			err := item.fn(context.WithoutCancel(item.ctx))
			p.inFlight.Add(-1)
			p.executed.Add(1)
			item.done <- err
		}
	}
}

func newItem(ctx context.Context, jobID string, fn Task) *workItem {
	return &workItem{ctx: ctx, jobID: jobID, fn: fn, done: make(chan error, 1)}
}

// Submit enqueues fn without blocking and returns a channel that receives
// its result. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(ctx context.Context, jobID string, fn Task) (<-chan error, error) {
	item := newItem(ctx, jobID, fn)
	select {
	case <-p.stopped:
		return nil, ErrPoolStopped
	default:
	}
	select {
	case p.queue <- item:
		return item.done, nil
	default:
		p.logger.Warn("synthesis queue full", "job_id", jobID, "queue_len", len(p.queue))
		return nil, fmt.Errorf("%w (%d waiting)", ErrQueueFull, cap(p.queue))
	}
}

// Do enqueues fn, waiting for queue space, and returns its result. If ctx
// ends before fn starts, fn never runs and ctx's error is returned. Once fn
// has started, Do waits for it to finish.
func (p *Pool) Do(ctx context.Context, jobID string, fn Task) error {
	item := newItem(ctx, jobID, fn)
	select {
	case p.queue <- item:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolStopped
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		if item.state.CompareAndSwap(taskPending, taskAbandoned) {
			return ctx.Err()
		}
		return <-item.done
	case <-p.stopped:
		if item.state.CompareAndSwap(taskPending, taskAbandoned) {
			return ErrPoolStopped
		}
		return <-item.done
	}
}

// PoolStatus reports pool state.
type PoolStatus struct {
	Workers     int                           `json:"workers" yaml:"workers"`
	InFlight    int                           `json:"in_flight" yaml:"in_flight"`
	QueueDepth  int                           `json:"queue_depth" yaml:"queue_depth"`
	QueueSize   int                           `json:"queue_size" yaml:"queue_size"`
	Executed    int64                         `json:"executed" yaml:"executed"`
	RateLimiter *providers.RateLimiterStatus `json:"rate_limiter,omitempty" yaml:"rate_limiter,omitempty"`
}

// Status returns current pool status.
func (p *Pool) Status() PoolStatus {
	rl := p.rateLimiter.Status()
	return PoolStatus{
		Workers:     p.workers,
		InFlight:    int(p.inFlight.Load()),
		QueueDepth:  len(p.queue),
		QueueSize:   cap(p.queue),
		Executed:    p.executed.Load(),
		RateLimiter: &rl,
	}
}
