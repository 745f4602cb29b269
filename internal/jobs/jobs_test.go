package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/narrator/internal/faults"
)

func testSettings() Settings {
	return Settings{Voice: "alloy", Model: "tts-1", Speed: 1.0, Format: "wav"}
}

func newTestManager(t *testing.T, runner Runner, mutate func(*ManagerConfig)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Runner:  runner,
		WorkDir: t.TempDir(),
		MaxJobs: 1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func start(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		m.Wait()
	})
}

func waitTerminal(t *testing.T, m *Manager, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := m.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCancelled, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStageProgress(t *testing.T) {
	assert.Equal(t, 0, StageProgress(StageExtract, 0, 1))
	assert.Equal(t, 10, StageProgress(StageExtract, 1, 1))
	assert.Equal(t, 15, StageProgress(StageChunk, 1, 1))
	assert.Equal(t, 52, StageProgress(StageSynthesize, 1, 2))
	assert.Equal(t, 90, StageProgress(StageSynthesize, 4, 4))
	assert.Equal(t, 99, StageProgress(StageAssemble, 1, 1))

	last := 0
	for _, step := range []struct {
		stage       Stage
		done, total int
	}{
		{StageExtract, 1, 1}, {StageChunk, 1, 1},
		{StageSynthesize, 1, 3}, {StageSynthesize, 2, 3}, {StageSynthesize, 3, 3},
		{StageAssemble, 0, 1}, {StageAssemble, 1, 1},
	} {
		p := StageProgress(step.stage, step.done, step.total)
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, testSettings().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"speed too high", func(s *Settings) { s.Speed = 5 }},
		{"speed too low", func(s *Settings) { s.Speed = 0.1 }},
		{"unknown style", func(s *Settings) { s.Style = "whisper" }},
		{"bad voice", func(s *Settings) { s.Voice = "a voice with spaces" }},
		{"unknown format", func(s *Settings) { s.Format = "midi" }},
		{"empty voice", func(s *Settings) { s.Voice = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			err := s.Validate()
			var se *SettingsError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, faults.KindInput, faults.KindOf(err))
		})
	}
}

func TestSettingsPresetAndMerge(t *testing.T) {
	s, err := Settings{}.ApplyPreset("cheerful")
	require.NoError(t, err)
	s = s.Merge(testSettings())
	assert.Equal(t, "cheerful", s.Style)
	assert.Equal(t, "happy", s.Emotion)
	assert.Equal(t, 1.15, s.Speed)
	assert.Equal(t, "alloy", s.Voice)
	assert.True(t, s.CompressEnabled())
	require.NoError(t, s.Validate())

	_, err = Settings{}.ApplyPreset("nope")
	require.Error(t, err)
}

func TestMergeKeepsExplicitFalse(t *testing.T) {
	defaults := testSettings()
	defaults.Normalize = Bool(true)
	defaults.Compress = Bool(true)

	s := Settings{Normalize: Bool(false)}.Merge(defaults)
	assert.False(t, s.NormalizeEnabled(), "explicit false is kept")
	assert.True(t, s.CompressEnabled(), "unset inherits the default")

	unset := Settings{}.Merge(Settings{})
	assert.Nil(t, unset.Normalize)
	assert.False(t, unset.NormalizeEnabled())
}

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Job{ID: "a", Status: StatusProcessing}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "a", func(j *Job) error {
				j.Progress++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	job, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)

	_, err = store.Update(ctx, "a", func(j *Job) error { return errors.New("abort") })
	require.Error(t, err)
	job, _ = store.Get(ctx, "a")
	assert.Equal(t, 50, job.Progress, "a failed update leaves the record unchanged")

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerCompletesJob(t *testing.T) {
	var seen []int
	var mu sync.Mutex
	runner := RunnerFunc(func(ctx context.Context, job *Job, rep *Reporter) (*Manifest, error) {
		for i := 1; i <= 4; i++ {
			rep.Advance(ctx, StageSynthesize, i, 4, "")
			j, _ := rep.store.Get(ctx, job.ID)
			mu.Lock()
			seen = append(seen, j.Progress)
			mu.Unlock()
		}
		rep.Advance(ctx, StageChunk, 0, 1, "") // earlier stage: progress must not drop
		return &Manifest{Files: []OutputFile{{Name: "complete_audiobook.wav", Size: 10}}}, nil
	})
	m := newTestManager(t, runner, nil)
	start(t, m)

	job, err := m.Submit(context.Background(), Input{Name: "book.txt"}, testSettings())
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.Error)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.EndedAt)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}

	snap, err := m.Snapshot(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, snap.OutputFiles, 1)
}

func TestManagerFailedJobCarriesError(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		return nil, faults.Assembly("assemble chapter 1", errors.New("chunk audio missing"))
	})
	m := newTestManager(t, runner, nil)
	start(t, m)

	job, err := m.Submit(context.Background(), Input{}, testSettings())
	require.NoError(t, err)
	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Equal(t, string(faults.KindAssembly), final.ErrorKind)
	assert.Nil(t, final.Output)
}

func TestManagerRecoversPanics(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		panic("boom")
	})
	m := newTestManager(t, runner, nil)
	start(t, m)

	job, err := m.Submit(context.Background(), Input{}, testSettings())
	require.NoError(t, err)
	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "boom")
}

func TestManagerRejectsInvalidSettings(t *testing.T) {
	m := newTestManager(t, RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		return &Manifest{}, nil
	}), nil)
	s := testSettings()
	s.Speed = 9
	_, err := m.Submit(context.Background(), Input{}, s)
	assert.Equal(t, faults.KindInput, faults.KindOf(err))

	jobs, _ := m.List(context.Background())
	assert.Empty(t, jobs)
}

func TestManagerSetDefaults(t *testing.T) {
	m := newTestManager(t, RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		return &Manifest{}, nil
	}), func(c *ManagerConfig) { c.Defaults = testSettings() })

	bad := testSettings()
	bad.Format = "midi"
	require.Error(t, m.SetDefaults(bad))
	assert.Equal(t, "wav", m.Defaults().Format)

	next := testSettings()
	next.Voice = "nova"
	require.NoError(t, m.SetDefaults(next))

	job, err := m.Submit(context.Background(), Input{}, Settings{})
	require.NoError(t, err)
	assert.Equal(t, "nova", job.Settings.Voice)
}

func TestManagerCapacity(t *testing.T) {
	m := newTestManager(t, RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		return &Manifest{}, nil
	}), func(c *ManagerConfig) { c.QueueSize = 2 })
	// Not started: the queue only fills.

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := m.Submit(ctx, Input{}, testSettings())
		require.NoError(t, err)
	}
	_, err := m.Submit(ctx, Input{}, testSettings())
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, faults.IsTransient(err))
	assert.Equal(t, faults.KindCapacity, faults.KindOf(err))

	jobs, _ := m.List(ctx)
	assert.Len(t, jobs, 2, "rejected submissions leave no record")
}

func TestManagerCancelQueued(t *testing.T) {
	ran := make(chan struct{}, 1)
	m := newTestManager(t, RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		ran <- struct{}{}
		return &Manifest{}, nil
	}), nil)

	ctx := context.Background()
	job, err := m.Submit(ctx, Input{}, testSettings())
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, job.ID))

	start(t, m)
	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Empty(t, final.Error)

	// A second job still runs, proving the cancelled one was skipped.
	next, err := m.Submit(ctx, Input{}, testSettings())
	require.NoError(t, err)
	waitTerminal(t, m, next.ID)
	assert.Len(t, ran, 1)

	require.ErrorIs(t, m.Cancel(ctx, job.ID), ErrInvalidTransition)
}

func TestManagerCancelProcessing(t *testing.T) {
	started := make(chan struct{})
	m := newTestManager(t, RunnerFunc(func(ctx context.Context, job *Job, rep *Reporter) (*Manifest, error) {
		close(started)
		for i := 0; i < 1000; i++ {
			if err := rep.CheckCancelled(); err != nil {
				return nil, err
			}
			rep.Advance(ctx, StageSynthesize, i, 1000, "")
			time.Sleep(2 * time.Millisecond)
		}
		return &Manifest{}, nil
	}), nil)
	start(t, m)

	ctx := context.Background()
	job, err := m.Submit(ctx, Input{}, testSettings())
	require.NoError(t, err)
	<-started
	require.NoError(t, m.Cancel(ctx, job.ID))

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Nil(t, final.Output)
	assert.Empty(t, final.Error)
	assert.Less(t, final.Progress, 100)
}

func TestManagerSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	m := newTestManager(t, RunnerFunc(func(context.Context, *Job, *Reporter) (*Manifest, error) {
		return &Manifest{}, nil
	}), func(c *ManagerConfig) {
		c.Store = store
		c.Now = clock
		c.StaleTTL = 10 * time.Minute
		c.Retention = time.Hour
	})

	ctx := context.Background()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)
	require.NoError(t, store.Create(ctx, &Job{ID: "stale", Status: StatusProcessing, UpdatedAt: now.Add(-20 * time.Minute)}))
	require.NoError(t, store.Create(ctx, &Job{ID: "busy", Status: StatusProcessing, UpdatedAt: recent}))
	require.NoError(t, store.Create(ctx, &Job{ID: "expired", Status: StatusCompleted, EndedAt: &old}))
	require.NoError(t, store.Create(ctx, &Job{ID: "fresh", Status: StatusFailed, EndedAt: &recent}))
	require.NoError(t, store.Create(ctx, &Job{ID: "waiting", Status: StatusQueued, CreatedAt: old}))

	report, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Stale: 1, Expired: 1}, report)

	jobs, _ := m.List(ctx)
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"busy", "fresh", "waiting"}, ids)
}
