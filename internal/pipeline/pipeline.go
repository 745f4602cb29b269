// Package pipeline runs one conversion job end to end: extraction, chapter
// segmentation, chunking, cached synthesis, assembly and bookmarks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/narrator/internal/audio"
	"github.com/jackzampolin/narrator/internal/bookmarks"
	"github.com/jackzampolin/narrator/internal/chapters"
	"github.com/jackzampolin/narrator/internal/chunker"
	"github.com/jackzampolin/narrator/internal/document"
	"github.com/jackzampolin/narrator/internal/faults"
	"github.com/jackzampolin/narrator/internal/jobs"
	"github.com/jackzampolin/narrator/internal/metrics"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/synthesis"
)

// Config wires the pipeline's collaborators.
type Config struct {
	Processor *document.Processor
	Segmenter *chapters.Segmenter
	Chunker   *chunker.Chunker
	Engine    *synthesis.Engine

	// Codec picks the audio codec for a job's output format (default audio.NewCodec).
	Codec func(format string) (audio.Codec, error)
	// Enhancement supplies peak and compressor parameters; per-job settings
	// decide whether normalization and compression run.
	Enhancement audio.Enhancement

	// OutputDir receives one directory of deliverables per job.
	OutputDir string
	// Window bounds how many of one job's chunks are in flight (default 8).
	Window int

	Logger *slog.Logger
}

// Pipeline implements jobs.Runner.
type Pipeline struct {
	processor   *document.Processor
	segmenter   *chapters.Segmenter
	chunker     *chunker.Chunker
	engine      *synthesis.Engine
	codec       func(string) (audio.Codec, error)
	enhancement audio.Enhancement
	outputDir   string
	window      int
	logger      *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("synthesis engine is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Processor == nil {
		cfg.Processor = document.NewProcessor(document.ProcessorConfig{Logger: logger})
	}
	if cfg.Segmenter == nil {
		cfg.Segmenter = chapters.NewSegmenter(chapters.Config{Logger: logger})
	}
	if cfg.Chunker == nil {
		c, err := chunker.New(chunker.Config{})
		if err != nil {
			return nil, err
		}
		cfg.Chunker = c
	}
	if cfg.Codec == nil {
		cfg.Codec = audio.NewCodec
	}
	if cfg.Window <= 0 {
		cfg.Window = 8
	}
	return &Pipeline{
		processor:   cfg.Processor,
		segmenter:   cfg.Segmenter,
		chunker:     cfg.Chunker,
		engine:      cfg.Engine,
		codec:       cfg.Codec,
		enhancement: cfg.Enhancement,
		outputDir:   cfg.OutputDir,
		window:      cfg.Window,
		logger:      logger.With("component", "pipeline"),
	}, nil
}

// OutputDir returns the job's deliverables directory.
func (p *Pipeline) OutputDir(jobID string) string {
	return filepath.Join(p.outputDir, jobID)
}

// plannedChunk is one chunk with the file its audio is written to.
type plannedChunk struct {
	chunker.Chunk
	path string
}

// Run converts job's input. Cancellation is checked before every chunk and
// at every chapter boundary; a started provider call is never aborted.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job, rep *jobs.Reporter) (*jobs.Manifest, error) {
	logger := p.logger.With("job_id", job.ID)
	settings := job.Settings

	if name := p.engine.Provider().Name(); settings.Provider != "" && settings.Provider != name {
		return nil, faults.Input("select provider", fmt.Errorf("provider %q is not configured (using %q)", settings.Provider, name))
	}
	codec, err := p.codec(settings.Format)
	if err != nil {
		return nil, faults.Input("select audio codec", err)
	}
	if err := codec.CheckAvailable(); err != nil {
		return nil, faults.Input("select audio codec", err)
	}

	// Extraction.
	rep.Advance(ctx, jobs.StageExtract, 0, 1, "")
	data, err := os.ReadFile(job.Input.Path)
	if err != nil {
		return nil, faults.Input("read input", err)
	}
	format := job.Input.Format
	if format == "" {
		format = filepath.Ext(job.Input.Path)
	}
	doc, err := p.processor.Process(ctx, data, format)
	if err != nil {
		return nil, err
	}
	rep.Advance(ctx, jobs.StageExtract, 1, 1, "")
	if err := rep.CheckCancelled(); err != nil {
		return nil, err
	}

	// Segmentation and chunking.
	chs := p.segmenter.Segment(doc)
	ck := p.chunker.WithInputLimit(providers.InputLimit(p.engine.Provider(), settings.Model))
	size := ck.Clamp(settings.MaxChunkSize)
	chunkDir := filepath.Join(rep.WorkDir(), "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	plan := make([][]plannedChunk, len(chs))
	total := 0
	for i, ch := range chs {
		for _, c := range ck.Split(ch.Index, ch.Text, size) {
			name := fmt.Sprintf("c%03d_%04d.%s", c.ChapterIndex, c.Position, codec.ProviderFormat())
			plan[i] = append(plan[i], plannedChunk{Chunk: c, path: filepath.Join(chunkDir, name)})
			total++
		}
	}
	if total == 0 {
		return nil, faults.Input("chunk document", errors.New("document contains no narratable text"))
	}
	rep.Advance(ctx, jobs.StageChunk, 1, 1, fmt.Sprintf("%d chapters, %d chunks", len(chs), total))
	logger.Info("document planned", "chapters", len(chs), "chunks", total, "chunk_size", size, "input_limit", ck.InputLimit())

	// Synthesis. Chunks are submitted in document order so the shared pool
	// sees them FIFO; results land in per-chunk files, so completion order
	// does not matter.
	var done, hits atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.window)
submit:
	for i := range plan {
		if rep.Cancelled() {
			break
		}
		for _, pc := range plan[i] {
			if rep.Cancelled() || gctx.Err() != nil {
				break submit
			}
			g.Go(func() error {
				if err := rep.CheckCancelled(); err != nil {
					return err
				}
				res, err := p.engine.Synthesize(gctx, synthesis.Request{
					JobID:        job.ID,
					Text:         pc.Text,
					Voice:        settings.Voice,
					Model:        settings.Model,
					Speed:        settings.Speed,
					Style:        settings.Style,
					Emotion:      settings.Emotion,
					Format:       codec.ProviderFormat(),
					Instructions: settings.Instructions,
				})
				if err != nil {
					return fmt.Errorf("chapter %d chunk %d: %w", pc.ChapterIndex, pc.Position, err)
				}
				if res.Source == synthesis.SourceCache || res.Source == synthesis.SourceShared {
					hits.Add(1)
				}
				if err := os.WriteFile(pc.path, res.Audio, 0o644); err != nil {
					return fmt.Errorf("write chunk audio: %w", err)
				}
				n := int(done.Add(1))
				rep.Advance(ctx, jobs.StageSynthesize, n, total, fmt.Sprintf("synthesizing chunk %d of %d", n, total))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := rep.CheckCancelled(); err != nil {
		return nil, err
	}

	// Assembly.
	rep.Advance(ctx, jobs.StageAssemble, 0, 1, "")
	inputs := make([]audio.ChapterAudio, len(chs))
	for i, ch := range chs {
		inputs[i] = audio.ChapterAudio{Index: ch.Index, Title: ch.Title}
		for _, pc := range plan[i] {
			inputs[i].Chunks = append(inputs[i].Chunks, pc.path)
		}
	}
	enh := p.enhancement
	enh.Normalize = settings.NormalizeEnabled()
	enh.Compress = settings.CompressEnabled()
	assembler := audio.NewAssembler(audio.AssemblerConfig{Codec: codec, Enhancement: enh, Logger: logger})

	outDir := p.OutputDir(job.ID)
	result, err := assembler.Assemble(ctx, outDir, inputs)
	if err != nil {
		if rep.Cancelled() {
			return nil, jobs.ErrCancelled
		}
		return nil, err
	}
	if err := rep.CheckCancelled(); err != nil {
		return nil, err
	}

	marks := bookmarks.Build(result.Chapters)
	bmPath, err := bookmarks.Write(outDir, job.ID, job.CreatedAt, marks)
	if err != nil {
		return nil, faults.Assembly("write bookmarks", err)
	}
	rep.Advance(ctx, jobs.StageAssemble, 1, 1, "")

	m := p.manifest(job.ID, outDir, result, bmPath, len(chs), total, int(hits.Load()))
	m.Usage = p.engine.Metrics().Summarize(metrics.Filter{JobID: job.ID})
	logger.Info("job usage",
		"provider_calls", m.Usage.ProviderCalls,
		"cache_hits", m.Usage.CacheHits,
		"billed_characters", m.Usage.BilledCharacters,
		"estimated_cost_usd", m.Usage.TotalCostUSD)
	return m, nil
}

func (p *Pipeline) manifest(jobID, outDir string, result *audio.Assembly, bmPath string, chapterCount, chunkCount, hits int) *jobs.Manifest {
	m := &jobs.Manifest{
		Dir:       outDir,
		Bookmarks: bmPath,
		Chapters:  chapterCount,
		Chunks:    chunkCount,
		Duration:  result.Complete.Duration,
		CacheHits: hits,
	}
	for _, f := range result.Files() {
		m.Files = append(m.Files, jobs.OutputFile{
			Name:         f.Name,
			Size:         f.Size,
			Duration:     f.Duration,
			URL:          filepath.ToSlash(filepath.Join(jobID, f.Name)),
			ChapterIndex: f.ChapterIndex,
		})
	}
	return m
}

var _ jobs.Runner = (*Pipeline)(nil)
