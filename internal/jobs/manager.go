package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/narrator/internal/faults"
)

// Runner executes one job. It must check rep.CheckCancelled at chunk and
// chapter boundaries and return ErrCancelled when it stops early.
type Runner interface {
	Run(ctx context.Context, job *Job, rep *Reporter) (*Manifest, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *Job, rep *Reporter) (*Manifest, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job *Job, rep *Reporter) (*Manifest, error) {
	return f(ctx, job, rep)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  Store
	Runner Runner

	// Defaults fill unset per-job settings.
	Defaults Settings

	// MaxJobs is the number of jobs processed at once (default 2).
	MaxJobs int
	// QueueSize bounds jobs waiting to start; submissions beyond it are
	// rejected with a *CapacityError (default 16).
	QueueSize int

	// WorkDir holds per-job scratch directories (default $TMPDIR/narrator-work).
	WorkDir string

	// StaleTTL reclaims processing jobs with no progress for this long (default 30m).
	StaleTTL time.Duration
	// Retention reclaims finished jobs after this long (default 24h).
	Retention time.Duration
	// SweepInterval is the background sweep period (default 1m).
	SweepInterval time.Duration
	// RemoveArtifacts deletes a reclaimed job's scratch directory.
	RemoveArtifacts bool

	Logger *slog.Logger
	Now    func() time.Time
}

type handle struct {
	cancelled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (h *handle) requestCancel() {
	h.cancelled.Store(true)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *handle) setCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = cancel
	if h.cancelled.Load() {
		cancel()
	}
}

// Manager admits jobs into a bounded queue, runs a fixed number at a time,
// and tracks their status. Readers poll Snapshot; nothing is pushed.
type Manager struct {
	store    Store
	runner   Runner
	defaults Settings

	maxJobs         int
	queue           chan string
	workDir         string
	staleTTL        time.Duration
	retention       time.Duration
	sweepInterval   time.Duration
	removeArtifacts bool

	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	handles map[string]*handle

	defaultsMu sync.RWMutex

	running atomic.Int32
	wg      sync.WaitGroup
}

// NewManager creates a manager. Call Start to begin running jobs.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "narrator-work")
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = 30 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:           cfg.Store,
		runner:          cfg.Runner,
		defaults:        cfg.Defaults,
		maxJobs:         cfg.MaxJobs,
		queue:           make(chan string, cfg.QueueSize),
		workDir:         cfg.WorkDir,
		staleTTL:        cfg.StaleTTL,
		retention:       cfg.Retention,
		sweepInterval:   cfg.SweepInterval,
		removeArtifacts: cfg.RemoveArtifacts,
		logger:          logger.With("component", "jobs"),
		now:             cfg.Now,
		handles:         make(map[string]*handle),
	}, nil
}

// Start launches the job runners and the sweeper. They stop when ctx is
// cancelled; Wait blocks until they have.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job manager started", "max_jobs", m.maxJobs, "queue_size", cap(m.queue))
	for i := 0; i < m.maxJobs; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runLoop(ctx)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweepLoop(ctx)
	}()
}

// Wait blocks until every runner started by Start has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.execute(ctx, id)
		}
	}
}

// Submit validates settings, records a queued job and enqueues it. It
// returns a *CapacityError without recording anything when the queue is full.
func (m *Manager) Submit(ctx context.Context, input Input, settings Settings) (*Job, error) {
	settings = settings.Merge(m.Defaults())
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	job := &Job{
		ID:        uuid.NewString(),
		Input:     input,
		Settings:  settings,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	h := &handle{}
	m.mu.Lock()
	m.handles[job.ID] = h
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.forget(job.ID)
		if err := m.store.Delete(ctx, job.ID); err != nil {
			m.logger.Warn("failed to drop rejected job", "job_id", job.ID, "error", err)
		}
		m.logger.Warn("job rejected, queue full", "queue_size", cap(m.queue))
		return nil, &CapacityError{Queued: len(m.queue), Capacity: cap(m.queue)}
	}

	m.logger.Info("job queued", "job_id", job.ID, "input", input.Name, "format", input.Format)
	return job.Clone(), nil
}

// Defaults returns the settings submitted jobs are merged with.
func (m *Manager) Defaults() Settings {
	m.defaultsMu.RLock()
	defer m.defaultsMu.RUnlock()
	return m.defaults
}

// SetDefaults replaces the defaults for jobs submitted from now on.
// Queued and running jobs keep the settings they were admitted with.
func (m *Manager) SetDefaults(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.defaultsMu.Lock()
	m.defaults = s
	m.defaultsMu.Unlock()
	return nil
}

func (m *Manager) handle(id string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[id]
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, id)
}

// WorkDir returns the scratch directory of a job.
func (m *Manager) WorkDir(id string) string {
	return filepath.Join(m.workDir, id)
}

func (m *Manager) execute(ctx context.Context, id string) {
	h := m.handle(id)
	if h == nil {
		return
	}
	defer m.forget(id)

	job, err := m.store.Update(ctx, id, func(j *Job) error {
		if err := j.transition(StatusProcessing, m.now()); err != nil {
			return err
		}
		j.CurrentStep = StageExtract.String()
		return nil
	})
	if err != nil {
		// Cancelled while queued, or reclaimed.
		m.logger.Debug("skipping job", "job_id", id, "error", err)
		return
	}

	logger := m.logger.With("job_id", id)
	logger.Info("job started", "input", job.Input.Name)
	m.running.Add(1)
	defer m.running.Add(-1)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.setCancel(cancel)

	workDir := m.WorkDir(id)
	rep := &Reporter{
		id:        id,
		workDir:   workDir,
		store:     m.store,
		logger:    logger,
		now:       m.now,
		cancelled: &h.cancelled,
	}

	var manifest *Manifest
	if err = os.MkdirAll(workDir, 0o755); err != nil {
		err = fmt.Errorf("failed to create work dir: %w", err)
	} else {
		manifest, err = m.run(jobCtx, job, rep)
	}

	final, uerr := m.store.Update(context.WithoutCancel(ctx), id, func(j *Job) error {
		now := m.now()
		switch {
		case h.cancelled.Load() || errors.Is(err, ErrCancelled):
			j.Output = nil
			j.Error = ""
			j.ErrorKind = ""
			j.CurrentStep = "cancelled"
			return j.transition(StatusCancelled, now)
		case err != nil:
			j.Error = err.Error()
			j.ErrorKind = string(faults.KindOf(err))
			j.CurrentStep = "failed"
			return j.transition(StatusFailed, now)
		default:
			j.Output = manifest
			j.Progress = 100
			j.CurrentStep = "completed"
			return j.transition(StatusCompleted, now)
		}
	})
	if uerr != nil {
		logger.Warn("failed to record job result", "error", uerr)
		return
	}

	switch final.Status {
	case StatusCompleted:
		logger.Info("job completed", "files", len(manifest.Files), "duration", manifest.Duration)
	case StatusCancelled:
		logger.Info("job cancelled", "progress", final.Progress)
	default:
		logger.Error("job failed", "error", final.Error, "kind", final.ErrorKind)
	}
}

func (m *Manager) run(ctx context.Context, job *Job, rep *Reporter) (manifest *Manifest, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	manifest, err = m.runner.Run(ctx, job, rep)
	if err == nil && manifest == nil {
		err = errors.New("runner returned no output")
	}
	return manifest, err
}

// Cancel requests cancellation. A queued job is cancelled at once; a
// processing job stops at its next chunk or chapter boundary.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.store.Update(ctx, id, func(j *Job) error {
		switch j.Status {
		case StatusQueued:
			j.CurrentStep = "cancelled"
			return j.transition(StatusCancelled, m.now())
		case StatusProcessing:
			return nil
		default:
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, j.Status)
		}
	})
	if err != nil {
		return err
	}
	if h := m.handle(id); h != nil {
		h.requestCancel()
	}
	m.logger.Info("job cancellation requested", "job_id", id, "status", job.Status)
	return nil
}

// Get returns a copy of the job record.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// Snapshot returns the current status view of a job.
func (m *Manager) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// List returns all job records, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	return m.store.List(ctx)
}

// ManagerStatus reports admission state.
type ManagerStatus struct {
	Running   int `json:"running" yaml:"running"`
	Queued    int `json:"queued" yaml:"queued"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	MaxJobs   int `json:"max_jobs" yaml:"max_jobs"`
}

// Status returns current admission state.
func (m *Manager) Status() ManagerStatus {
	return ManagerStatus{
		Running:   int(m.running.Load()),
		Queued:    len(m.queue),
		QueueSize: cap(m.queue),
		MaxJobs:   m.maxJobs,
	}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Stale   int `json:"stale" yaml:"stale"`
	Expired int `json:"expired" yaml:"expired"`
}

// Sweep reclaims processing jobs without progress past the stale TTL and
// finished jobs past the retention window. Stale jobs are cancelled first so
// their runners stop at the next boundary.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	jobs, err := m.store.List(ctx)
	if err != nil {
		return report, err
	}
	now := m.now()
	for _, j := range jobs {
		switch {
		case j.Status == StatusProcessing && now.Sub(j.UpdatedAt) > m.staleTTL:
			if h := m.handle(j.ID); h != nil {
				h.requestCancel()
			}
			report.Stale++
			m.logger.Warn("reclaiming stale job", "job_id", j.ID, "idle", now.Sub(j.UpdatedAt))
		case j.Status.Terminal() && j.EndedAt != nil && now.Sub(*j.EndedAt) > m.retention:
			report.Expired++
			m.logger.Debug("reclaiming finished job", "job_id", j.ID, "status", j.Status)
		default:
			continue
		}
		if err := m.store.Delete(ctx, j.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return report, err
		}
		if m.removeArtifacts {
			if err := os.RemoveAll(m.WorkDir(j.ID)); err != nil {
				m.logger.Warn("failed to remove job artifacts", "job_id", j.ID, "error", err)
			}
		}
	}
	return report, nil
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Warn("job sweep failed", "error", err)
				continue
			}
			if report.Stale+report.Expired > 0 {
				m.logger.Info("job sweep", "stale", report.Stale, "expired", report.Expired)
			}
		}
	}
}
