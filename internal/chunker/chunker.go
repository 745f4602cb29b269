// Package chunker splits chapter text into bounded synthesis units at sentence
// and paragraph boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default size bounds in characters.
const (
	DefaultMinChunkSize = 1000
	DefaultMaxChunkSize = 5000
	DefaultChunkSize    = 4000
)

// Chunk is one synthesis unit. Position is its index within the chapter.
type Chunk struct {
	ChapterIndex int
	Position     int
	Text         string
}

// Len returns the chunk size in characters.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Config bounds the per-job max chunk size.
type Config struct {
	MinChunkSize int
	MaxChunkSize int
}

// Chunker splits text into chunks no longer than a clamped size limit.
type Chunker struct {
	min int
	max int
	// inputLimit is the most characters the provider accepts in one request
	// (0 = unlimited). Nothing longer is ever emitted.
	inputLimit int
}

// New creates a chunker. Zero bounds take the defaults.
func New(cfg Config) (*Chunker, error) {
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.MinChunkSize > cfg.MaxChunkSize {
		return nil, fmt.Errorf("min chunk size %d exceeds max chunk size %d", cfg.MinChunkSize, cfg.MaxChunkSize)
	}
	return &Chunker{min: cfg.MinChunkSize, max: cfg.MaxChunkSize}, nil
}

// WithInputLimit returns a copy of c that never emits a chunk longer than
// limit characters. Sentences above the limit are split at clause or word
// boundaries instead of being sent whole. A non-positive limit is unlimited.
func (c *Chunker) WithInputLimit(limit int) *Chunker {
	cp := *c
	cp.inputLimit = max(limit, 0)
	return &cp
}

// InputLimit returns the provider input ceiling (0 = unlimited).
func (c *Chunker) InputLimit() int { return c.inputLimit }

// Clamp bounds a requested size to the configured range and the input limit.
func (c *Chunker) Clamp(size int) int {
	switch {
	case size <= 0:
		size = min(DefaultChunkSize, c.max)
	case size < c.min:
		size = c.min
	case size > c.max:
		size = c.max
	}
	if c.inputLimit > 0 && size > c.inputLimit {
		size = c.inputLimit
	}
	return size
}

// Split divides one chapter's text into ordered chunks of at most size
// characters (after clamping). A single sentence longer than the limit is
// emitted whole unless it exceeds the input limit. Chunks are contiguous
// slices of text with only the whitespace at each cut removed.
func (c *Chunker) Split(chapterIndex int, text string, size int) []Chunk {
	limit := c.Clamp(size)
	cuts := boundaries(text)

	var out []Chunk
	emit := func(s string) {
		for _, part := range splitLong(s, c.inputLimit) {
			out = append(out, Chunk{ChapterIndex: chapterIndex, Position: len(out), Text: part})
		}
	}

	start := skipSpace(text, 0)
	next := 0
	for start < len(text) {
		if runeLen(text[start:]) <= limit {
			emit(text[start:])
			break
		}

		for next < len(cuts) && cuts[next].Offset <= start {
			next++
		}

		best, bestPara := -1, -1
		for i := next; i < len(cuts); i++ {
			if runeLen(text[start:cuts[i].Offset]) > limit {
				break
			}
			best = cuts[i].Offset
			if cuts[i].Paragraph {
				bestPara = best
			}
		}

		switch {
		case best < 0 && next < len(cuts):
			// Oversized sentence: take it whole.
			best = cuts[next].Offset
		case best < 0:
			best = len(text)
		case bestPara > start && runeLen(text[start:bestPara]) >= limit/2:
			best = bestPara
		}

		emit(text[start:best])
		start = skipSpace(text, best)
	}
	return out
}

func skipSpace(text string, i int) int {
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	return i
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// splitLong trims s and breaks it into pieces of at most limit characters,
// preferring the last clause boundary in the back half of each window, then
// the last space, then a hard cut. A non-positive limit keeps s whole.
func splitLong(s string, limit int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(runes) {
		if len(runes)-start <= limit {
			if part := strings.TrimSpace(string(runes[start:])); part != "" {
				out = append(out, part)
			}
			break
		}
		end := start + limit
		cut := lastIndexFunc(runes, start+limit/2, end, isClauseRune)
		if cut < 0 {
			cut = lastIndexFunc(runes, start+1, end, unicode.IsSpace)
		}
		if cut < 0 {
			cut = end - 1
		}
		if part := strings.TrimSpace(string(runes[start : cut+1])); part != "" {
			out = append(out, part)
		}
		start = cut + 1
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
	}
	return out
}

// lastIndexFunc returns the last index in [from, to) whose rune satisfies f.
func lastIndexFunc(runes []rune, from, to int, f func(rune) bool) int {
	for i := to - 1; i >= from && i >= 0; i-- {
		if f(runes[i]) {
			return i
		}
	}
	return -1
}

func isClauseRune(r rune) bool {
	switch r {
	case ',', ';', ':', '\u2014', '\u2013', ')':
		return true
	}
	return false
}
