// Package chapters partitions an extracted document into ordered chapters.
package chapters

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/narrator/internal/document"
)

// Defaults for fixed-length segmentation.
const (
	DefaultTargetLength = 20000
	DefaultMaxChapters  = 30

	// ShortDocumentLength is the size below which a document is never split.
	ShortDocumentLength = 100

	// CompleteDocumentTitle titles the single chapter of an unsplit document.
	CompleteDocumentTitle = "Complete Document"
)

// Chapter is a contiguous segment of document text. Chapters are immutable
// once produced; Index is 0-based and contiguous.
type Chapter struct {
	Index int
	Title string
	Text  string
}

// Config configures a Segmenter.
type Config struct {
	// TargetLength is the approximate chapter size in characters used when the
	// document has no headings.
	TargetLength int

	// MaxChapters caps fixed-length segmentation; the last chapter absorbs the rest.
	MaxChapters int

	Logger *slog.Logger
}

// Segmenter splits documents at heading boundaries or, failing that, at
// paragraph boundaries near a target length.
type Segmenter struct {
	targetLength int
	maxChapters  int
	logger       *slog.Logger
}

// NewSegmenter creates a segmenter with defaults applied.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.TargetLength <= 0 {
		cfg.TargetLength = DefaultTargetLength
	}
	if cfg.MaxChapters <= 0 {
		cfg.MaxChapters = DefaultMaxChapters
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		targetLength: cfg.TargetLength,
		maxChapters:  cfg.MaxChapters,
		logger:       logger.With("component", "chapters"),
	}
}

// unit is one paragraph or heading in reading order.
type unit struct {
	text    string
	heading bool
	level   int
}

// Segment partitions doc into at least one chapter. Joining every chapter's
// Text with document.ParagraphSeparator reproduces doc.Text() exactly.
func (s *Segmenter) Segment(doc *document.Document) []Chapter {
	units := collectUnits(doc)
	full := doc.Text()

	if len(strings.TrimSpace(full)) < ShortDocumentLength || len(units) <= 1 {
		s.logger.Debug("single chapter document", "chars", len(full))
		return []Chapter{{Index: 0, Title: CompleteDocumentTitle, Text: full}}
	}

	var out []Chapter
	if level := splitLevel(units); level > 0 {
		out = s.byHeadings(units, level, doc.Title)
		s.logger.Debug("segmented by headings", "level", level, "chapters", len(out))
	}
	if len(out) <= 1 {
		out = s.byLength(units)
		s.logger.Debug("segmented by length", "target", s.targetLength, "chapters", len(out))
	}
	if len(out) == 1 {
		out[0].Title = CompleteDocumentTitle
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

func collectUnits(doc *document.Document) []unit {
	explicit := doc.HasHeadings()
	units := make([]unit, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if b.Kind == document.BlockPageBreak || b.Text == "" {
			continue
		}
		u := unit{text: b.Text}
		switch {
		case explicit && b.Kind == document.BlockHeading:
			u.heading, u.level = true, b.Level
		case !explicit && document.LooksLikeHeading(b.Text):
			u.heading, u.level = true, 1
		}
		units = append(units, u)
	}
	return units
}

// splitLevel picks the shallowest heading level that occurs more than once,
// or the shallowest level present. Zero means no headings.
func splitLevel(units []unit) int {
	counts := map[int]int{}
	shallowest := 0
	for _, u := range units {
		if !u.heading {
			continue
		}
		counts[u.level]++
		if shallowest == 0 || u.level < shallowest {
			shallowest = u.level
		}
	}
	for level := shallowest; level > 0 && level <= 9; level++ {
		if counts[level] > 1 {
			return level
		}
	}
	return shallowest
}

// byHeadings starts a new chapter at every heading of the split level. The
// heading stays as the first paragraph of its chapter. Consecutive headings
// with nothing between them are merged into one chapter.
func (s *Segmenter) byHeadings(units []unit, level int, docTitle string) []Chapter {
	var (
		out     []Chapter
		title   string
		paras   []string
		onlyHdr bool
	)
	emit := func() {
		if len(paras) == 0 {
			return
		}
		if title == "" {
			title = docTitle
			if title == "" {
				title = "Introduction"
			}
		}
		out = append(out, Chapter{Title: title, Text: strings.Join(paras, document.ParagraphSeparator)})
		paras = nil
	}

	for _, u := range units {
		if u.heading && u.level <= level {
			if onlyHdr {
				title = title + " - " + u.text
				paras = append(paras, u.text)
				continue
			}
			emit()
			title = u.text
			paras = []string{u.text}
			onlyHdr = true
			continue
		}
		paras = append(paras, u.text)
		onlyHdr = false
	}
	emit()
	return out
}

// byLength groups paragraphs into chapters of roughly targetLength characters.
// A paragraph is never split across chapters.
func (s *Segmenter) byLength(units []unit) []Chapter {
	var (
		out   []Chapter
		paras []string
		size  int
	)
	emit := func() {
		if len(paras) == 0 {
			return
		}
		out = append(out, Chapter{
			Title: fmt.Sprintf("Part %d: %s", len(out)+1, excerpt(paras[0])),
			Text:  strings.Join(paras, document.ParagraphSeparator),
		})
		paras, size = nil, 0
	}

	for _, u := range units {
		paras = append(paras, u.text)
		size += len(u.text) + len(document.ParagraphSeparator)
		if size >= s.targetLength && len(out) < s.maxChapters-1 {
			emit()
		}
	}
	emit()
	return out
}

// excerpt returns the first words of a paragraph, at most 30 characters.
func excerpt(text string) string {
	const limit = 30
	line := []rune(text)
	if len(line) <= limit {
		return text
	}
	head := string(line[:limit])
	if cut := strings.LastIndex(head, " "); cut > 0 {
		head = head[:cut]
	}
	return strings.TrimSpace(head) + "..."
}
