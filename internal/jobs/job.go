// Package jobs owns conversion job records: the status state machine,
// progress accounting, cancellation, bounded admission and the stale-job sweep.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/narrator/internal/faults"
	"github.com/jackzampolin/narrator/internal/metrics"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed. A queued job may be
// cancelled before it starts; nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for transitions the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrCancelled is returned by a job runner that stopped at a cancellation check.
var ErrCancelled = errors.New("job cancelled")

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// CapacityError rejects a submission because the job queue is full. The
// caller may retry later.
type CapacityError struct {
	Queued   int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("job queue at capacity (%d/%d), retry later", e.Queued, e.Capacity)
}

// FaultKind classifies the error as a capacity rejection.
func (e *CapacityError) FaultKind() faults.Kind { return faults.KindCapacity }

// Transient is true: capacity frees up as jobs finish.
func (e *CapacityError) Transient() bool { return true }

// Input identifies the document a job converts.
type Input struct {
	Path   string `json:"path" yaml:"path"`
	Name   string `json:"name" yaml:"name"`
	Format string `json:"format" yaml:"format"`
}

// OutputFile is one entry of the output manifest.
type OutputFile struct {
	Name         string        `json:"name" yaml:"name"`
	Size         int64         `json:"size" yaml:"size"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	URL          string        `json:"url" yaml:"url"`
	ChapterIndex int           `json:"chapter_index" yaml:"chapter_index"`
}

// Manifest lists everything a completed job produced.
type Manifest struct {
	Dir       string        `json:"dir" yaml:"dir"`
	Files     []OutputFile  `json:"files" yaml:"files"`
	Bookmarks string        `json:"bookmarks,omitempty" yaml:"bookmarks,omitempty"`
	Chapters  int           `json:"chapters" yaml:"chapters"`
	Chunks    int           `json:"chunks" yaml:"chunks"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	CacheHits int           `json:"cache_hits" yaml:"cache_hits"`
	// Usage summarizes provider usage and estimated cost for the job.
	Usage *metrics.Summary `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Job is a conversion job record.
type Job struct {
	ID          string    `json:"id" yaml:"id"`
	Input       Input     `json:"input" yaml:"input"`
	Settings    Settings  `json:"settings" yaml:"settings"`
	Status      Status    `json:"status" yaml:"status"`
	Progress    int       `json:"progress" yaml:"progress"`
	CurrentStep string    `json:"current_step,omitempty" yaml:"current_step,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	// UpdatedAt is the last time the job made progress.
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	Output    *Manifest  `json:"output,omitempty" yaml:"output,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	if j.Output != nil {
		m := *j.Output
		m.Files = append([]OutputFile(nil), j.Output.Files...)
		c.Output = &m
	}
	return &c
}

// transition moves j to status to at now, enforcing the state machine.
func (j *Job) transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == StatusProcessing:
		j.StartedAt = &now
	case to.Terminal():
		j.EndedAt = &now
	}
	return nil
}

// Snapshot is the read-only status view for polling collaborators.
type Snapshot struct {
	ID          string       `json:"id" yaml:"id"`
	Status      Status       `json:"status" yaml:"status"`
	Progress    int          `json:"progress" yaml:"progress"`
	CurrentStep string       `json:"current_step,omitempty" yaml:"current_step,omitempty"`
	OutputFiles []OutputFile `json:"output_files,omitempty" yaml:"output_files,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Snapshot returns the status view of j.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Error:       j.Error,
		ErrorKind:   j.ErrorKind,
	}
	if j.Output != nil {
		s.OutputFiles = append([]OutputFile(nil), j.Output.Files...)
	}
	return s
}
