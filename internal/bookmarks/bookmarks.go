// Package bookmarks derives chapter navigation markers from an assembled
// audiobook timeline.
package bookmarks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/narrator/internal/audio"
)

// Bookmark marks the start of a chapter within the complete audiobook.
type Bookmark struct {
	ChapterIndex int           `json:"chapter_index" yaml:"chapter_index"`
	Title        string        `json:"title" yaml:"title"`
	Offset       time.Duration `json:"-" yaml:"offset"`
	Duration     time.Duration `json:"-" yaml:"duration"`

	StartSeconds    float64 `json:"start_seconds" yaml:"-"`
	DurationSeconds float64 `json:"duration_seconds" yaml:"-"`
}

// Label is the human-readable marker text.
func (b Bookmark) Label() string {
	if b.Title == "" {
		return fmt.Sprintf("Chapter %d", b.ChapterIndex+1)
	}
	return b.Title
}

// Build emits one bookmark per chapter file, in order. Offsets are the running
// sum of preceding chapter durations, so the same timeline always yields the
// same bookmarks.
func Build(chapters []audio.OutputFile) []Bookmark {
	marks := make([]Bookmark, 0, len(chapters))
	var at time.Duration
	for _, ch := range chapters {
		b := Bookmark{
			ChapterIndex:    ch.ChapterIndex,
			Title:           ch.Title,
			Offset:          at,
			Duration:        ch.Duration,
			StartSeconds:    at.Seconds(),
			DurationSeconds: ch.Duration.Seconds(),
		}
		b.Title = b.Label()
		marks = append(marks, b)
		at += ch.Duration
	}
	return marks
}

// File is the persisted bookmark document.
type File struct {
	AudiobookID  string     `json:"audiobook_id"`
	CreatedAt    time.Time  `json:"created_at"`
	TotalSeconds float64    `json:"total_seconds"`
	Chapters     []Bookmark `json:"chapters"`
}

// FileName returns the bookmark file name for a job.
func FileName(jobID string) string {
	return jobID + "_bookmarks.json"
}

// Write stores marks as <jobID>_bookmarks.json in dir and returns the path.
// Rewriting identical input produces an identical file.
func Write(dir, jobID string, createdAt time.Time, marks []Bookmark) (string, error) {
	doc := File{
		AudiobookID: jobID,
		CreatedAt:   createdAt.UTC(),
		Chapters:    marks,
	}
	if n := len(marks); n > 0 {
		doc.TotalSeconds = (marks[n-1].Offset + marks[n-1].Duration).Seconds()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal bookmarks: %w", err)
	}
	path := filepath.Join(dir, FileName(jobID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write bookmarks: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write bookmarks: %w", err)
	}
	return path, nil
}

// Read loads a bookmark file written by Write.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bookmarks %s: %w", path, err)
	}
	for i := range doc.Chapters {
		b := &doc.Chapters[i]
		b.Offset = time.Duration(b.StartSeconds * float64(time.Second))
		b.Duration = time.Duration(b.DurationSeconds * float64(time.Second))
	}
	return &doc, nil
}
