package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stage is a pipeline stage that contributes to job progress.
type Stage int

const (
	StageExtract Stage = iota
	StageChunk
	StageSynthesize
	StageAssemble
)

var stageWeights = [...]int{
	StageExtract:    10,
	StageChunk:      5,
	StageSynthesize: 75,
	StageAssemble:   10,
}

var stageNames = [...]string{
	StageExtract:    "extracting text",
	StageChunk:      "chunking",
	StageSynthesize: "synthesizing",
	StageAssemble:   "assembling audio",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageProgress returns overall progress after done of total units of stage.
// Earlier stages count as complete. The result stays below 100 until the job
// completes.
func StageProgress(stage Stage, done, total int) int {
	if stage < 0 || int(stage) >= len(stageWeights) {
		return 0
	}
	base := 0
	for s := Stage(0); s < stage; s++ {
		base += stageWeights[s]
	}
	frac := 1.0
	if total > 0 {
		frac = float64(min(max(done, 0), total)) / float64(total)
	}
	return min(base+int(frac*float64(stageWeights[stage])), 99)
}

// Reporter is handed to a running job. It records progress and exposes the
// cooperative cancellation flag.
type Reporter struct {
	id        string
	workDir   string
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	cancelled *atomic.Bool
}

// JobID returns the job being reported on.
func (r *Reporter) JobID() string { return r.id }

// WorkDir is the job's scratch directory for intermediate artifacts.
func (r *Reporter) WorkDir() string { return r.workDir }

// Logger returns a logger scoped to the job.
func (r *Reporter) Logger() *slog.Logger { return r.logger }

// Cancelled reports whether cancellation was requested.
func (r *Reporter) Cancelled() bool { return r.cancelled.Load() }

// CheckCancelled returns ErrCancelled once cancellation was requested.
func (r *Reporter) CheckCancelled() error {
	if r.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Advance records that done of total units of stage are finished and sets
// the current step label. Progress never decreases.
func (r *Reporter) Advance(ctx context.Context, stage Stage, done, total int, step string) {
	p := StageProgress(stage, done, total)
	if step == "" {
		step = stage.String()
	}
	_, err := r.store.Update(ctx, r.id, func(j *Job) error {
		if j.Status != StatusProcessing {
			return nil
		}
		if p > j.Progress {
			j.Progress = p
		}
		j.CurrentStep = step
		j.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		r.logger.Debug("progress update dropped", "error", err)
	}
}
