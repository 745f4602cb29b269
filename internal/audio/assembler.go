package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/narrator/internal/faults"
)

// CompleteIndex marks the OutputFile that holds every chapter.
const CompleteIndex = -1

// CompleteName is the base name of the whole-book file.
const CompleteName = "complete_audiobook"

// AssemblyError reports missing or undecodable chunk audio, or a failure
// writing output. It is fatal for the owning job.
type AssemblyError struct {
	Chapter int
	Path    string
	Err     error
}

func (e *AssemblyError) Error() string {
	if e.Chapter == CompleteIndex {
		return fmt.Sprintf("assemble complete audiobook: %v", e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("assemble chapter %d: %s: %v", e.Chapter, filepath.Base(e.Path), e.Err)
	}
	return fmt.Sprintf("assemble chapter %d: %v", e.Chapter, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// FaultKind classifies the error as an assembly failure.
func (e *AssemblyError) FaultKind() faults.Kind { return faults.KindAssembly }

// ChapterAudio lists one chapter's chunk files in chunk order.
type ChapterAudio struct {
	Index  int
	Title  string
	Chunks []string
}

// OutputFile describes one produced file.
type OutputFile struct {
	Name         string        `json:"name" yaml:"name"`
	Path         string        `json:"path" yaml:"path"`
	Size         int64         `json:"size" yaml:"size"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	ChapterIndex int           `json:"chapter_index" yaml:"chapter_index"`
	Title        string        `json:"title,omitempty" yaml:"title,omitempty"`
}

// Assembly is the result of assembling a job.
type Assembly struct {
	Chapters []OutputFile
	Complete OutputFile

	// ChunkDurations[i][j] is the duration of chunk j of chapter i.
	ChunkDurations [][]time.Duration
}

// Offsets returns each chapter's start offset within the complete file.
func (a *Assembly) Offsets() []time.Duration {
	offsets := make([]time.Duration, len(a.Chapters))
	var at time.Duration
	for i, ch := range a.Chapters {
		offsets[i] = at
		at += ch.Duration
	}
	return offsets
}

// Files returns every distinct produced file, chapters first.
func (a *Assembly) Files() []OutputFile {
	files := make([]OutputFile, 0, len(a.Chapters)+1)
	seen := make(map[string]bool)
	for _, f := range append(append([]OutputFile(nil), a.Chapters...), a.Complete) {
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		files = append(files, f)
	}
	return files
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	Codec       Codec
	Enhancement Enhancement
	// MeasureConcurrency bounds parallel chunk validation (default 4).
	MeasureConcurrency int
	Logger           *slog.Logger
}

// Assembler writes chapter files and the complete audiobook.
type Assembler struct {
	codec  Codec
	enh    Enhancement
	measurers int
	logger *slog.Logger
}

// NewAssembler creates an assembler. The WAV codec is the default.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.Codec == nil {
		cfg.Codec = WAVCodec{}
	}
	if cfg.MeasureConcurrency <= 0 {
		cfg.MeasureConcurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		codec:  cfg.Codec,
		enh:    cfg.Enhancement,
		measurers: cfg.MeasureConcurrency,
		logger: logger.With("component", "assembler"),
	}
}

// Codec returns the configured codec.
func (a *Assembler) Codec() Codec { return a.codec }

// ChapterFileName returns the output name for a chapter.
func (a *Assembler) ChapterFileName(index int) string {
	return fmt.Sprintf("chapter_%03d.%s", index+1, a.codec.Extension())
}

// Assemble joins each chapter's chunks in order into outDir, then joins the
// chapter files into the complete audiobook. Every chunk is validated first;
// any missing or corrupt chunk fails the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, outDir string, chapters []ChapterAudio) (*Assembly, error) {
	if len(chapters) == 0 {
		return nil, &AssemblyError{Chapter: CompleteIndex, Err: errors.New("no chapters to assemble")}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &AssemblyError{Chapter: CompleteIndex, Err: err}
	}

	result := &Assembly{ChunkDurations: make([][]time.Duration, len(chapters))}
	for i, ch := range chapters {
		durations, err := a.measureChunks(ctx, ch)
		if err != nil {
			return nil, err
		}
		result.ChunkDurations[i] = durations
	}

	complete := filepath.Join(outDir, CompleteName+"."+a.codec.Extension())
	single := len(chapters) == 1

	chapterPaths := make([]string, 0, len(chapters))
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(outDir, a.ChapterFileName(i))
		if single {
			// A lone chapter is the whole book; write it once.
			out = complete
		}
		if err := a.codec.Concat(ctx, ch.Chunks, out, a.enh); err != nil {
			return nil, &AssemblyError{Chapter: ch.Index, Err: err}
		}
		file, err := a.describe(ctx, out, ch.Index)
		if err != nil {
			return nil, err
		}
		file.Title = ch.Title
		result.Chapters = append(result.Chapters, file)
		chapterPaths = append(chapterPaths, out)

		a.logger.Debug("chapter assembled",
			"chapter", ch.Index,
			"chunks", len(ch.Chunks),
			"duration", file.Duration,
			"bytes", file.Size)
	}

	if single {
		result.Complete = result.Chapters[0]
		result.Complete.ChapterIndex = CompleteIndex
	} else {
		// Chapter files are already enhanced; the complete file is a plain join.
		if err := a.codec.Concat(ctx, chapterPaths, complete, Enhancement{}); err != nil {
			return nil, &AssemblyError{Chapter: CompleteIndex, Err: err}
		}
		file, err := a.describe(ctx, complete, CompleteIndex)
		if err != nil {
			return nil, err
		}
		result.Complete = file
	}
	result.Complete.Title = "Complete Audiobook"

	a.logger.Info("audiobook assembled",
		"chapters", len(result.Chapters),
		"duration", result.Complete.Duration,
		"bytes", result.Complete.Size)
	return result, nil
}

// measureChunks checks every chunk exists and decodes, returning durations in order.
func (a *Assembler) measureChunks(ctx context.Context, ch ChapterAudio) ([]time.Duration, error) {
	if len(ch.Chunks) == 0 {
		return nil, &AssemblyError{Chapter: ch.Index, Err: errors.New("chapter has no chunk audio")}
	}

	durations := make([]time.Duration, len(ch.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.measurers)
	for i, path := range ch.Chunks {
		g.Go(func() error {
			info, err := os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				return &AssemblyError{Chapter: ch.Index, Path: path, Err: errors.New("chunk audio missing")}
			}
			if err != nil {
				return &AssemblyError{Chapter: ch.Index, Path: path, Err: err}
			}
			if info.Size() == 0 {
				return &AssemblyError{Chapter: ch.Index, Path: path, Err: errors.New("chunk audio is empty")}
			}
			d, err := a.codec.Duration(gctx, path)
			if err != nil {
				return &AssemblyError{Chapter: ch.Index, Path: path, Err: fmt.Errorf("chunk audio corrupt: %w", err)}
			}
			durations[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return durations, nil
}

func (a *Assembler) describe(ctx context.Context, path string, chapter int) (OutputFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return OutputFile{}, &AssemblyError{Chapter: chapter, Path: path, Err: err}
	}
	d, err := a.codec.Duration(ctx, path)
	if err != nil {
		return OutputFile{}, &AssemblyError{Chapter: chapter, Path: path, Err: err}
	}
	return OutputFile{
		Name:         filepath.Base(path),
		Path:         path,
		Size:         info.Size(),
		Duration:     d,
		ChapterIndex: chapter,
	}, nil
}
