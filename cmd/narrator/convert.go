package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/audio"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/jobs"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/svcctx"
	"github.com/jackzampolin/narrator/internal/voices"
)

var (
	convertPreset      string
	convertVoice       string
	convertModel       string
	convertSpeed       float64
	convertStyle       string
	convertEmotion     string
	convertFormat      string
	convertChunkSize   int
	convertNormalize   bool
	convertCompress    bool
	convertCheck       bool
	convertPoll        time.Duration
	convertWatchConfig bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a document into an audiobook",
	Long: `Convert submits a document as a job, reports progress until it
finishes, and prints the resulting output files.

Supported inputs: .txt, .md, .pdf, .docx

Interrupting (Ctrl+C) cancels the job. Chunks already being synthesized
finish and stay cached, so a rerun resumes cheaply.

Examples:
  narrator convert book.pdf
  narrator convert notes.md --voice nova --format mp3
  narrator convert story.txt --preset dramatic -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	addConvertFlags(convertCmd)
}

func addConvertFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&convertPreset, "preset", "", fmt.Sprintf("style preset %v", jobs.PresetNames()))
	f.StringVar(&convertVoice, "voice", "", "voice (default from config)")
	f.StringVar(&convertModel, "model", "", "model (default from config)")
	f.Float64Var(&convertSpeed, "speed", 0, "speaking speed 0.25-4.0")
	f.StringVar(&convertStyle, "style", "", "narration style")
	f.StringVar(&convertEmotion, "emotion", "", "emotion hint")
	f.StringVar(&convertFormat, "format", "", "audio format: wav, mp3, opus, aac or flac")
	f.IntVar(&convertChunkSize, "chunk-size", 0, "target chunk size in characters")
	f.BoolVar(&convertNormalize, "normalize", false, "normalize chapter loudness (default from config)")
	f.BoolVar(&convertCompress, "compress", false, "apply dynamic range compression (default from config)")
	f.BoolVar(&convertCheck, "check", false, "verify provider credentials and ffmpeg before submitting")
	f.DurationVar(&convertPoll, "poll", 500*time.Millisecond, "status poll interval")
	f.BoolVar(&convertWatchConfig, "watch-config", false, "reload job defaults when the config file changes")
}

// convertSettings builds job settings from the preset, then the flags the
// user set explicitly. Unset fields are left for the config defaults.
func convertSettings(cmd *cobra.Command) (jobs.Settings, error) {
	var s jobs.Settings
	if convertPreset != "" {
		var err error
		if s, err = s.ApplyPreset(convertPreset); err != nil {
			return s, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("voice") {
		s.Voice = convertVoice
	}
	if changed("model") {
		s.Model = convertModel
	}
	if changed("speed") {
		s.Speed = convertSpeed
	}
	if changed("style") {
		s.Style = convertStyle
	}
	if changed("emotion") {
		s.Emotion = convertEmotion
	}
	if changed("format") {
		s.Format = convertFormat
	}
	if changed("chunk-size") {
		s.MaxChunkSize = convertChunkSize
	}
	if changed("normalize") {
		s.Normalize = jobs.Bool(convertNormalize)
	}
	if changed("compress") {
		s.Compress = jobs.Bool(convertCompress)
	}
	return s, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	settings, err := convertSettings(cmd)
	if err != nil {
		return err
	}

	// Services outlive the command context so an interrupt can cancel the
	// job cooperatively before the runners stop.
	runCtx, stop := context.WithCancel(context.WithoutCancel(cmd.Context()))
	defer stop()

	s, cfgMgr, err := buildServices(runCtx)
	if err != nil {
		return err
	}
	defer s.Close()
	defer stop()

	if convertCheck {
		if err := checkProvider(cmd.Context(), s.Provider); err != nil {
			return err
		}
		if err := checkCodec(settings.Merge(s.Config.JobDefaults()).Format); err != nil {
			return err
		}
	}
	if convertWatchConfig && cfgMgr.ConfigFile() != "" {
		cfgMgr.OnChange(func(cfg *config.Config) { s.ApplyConfig(cfg) })
		cfgMgr.WatchConfig()
	}

	if settings.Voice == "" {
		if c, err := voices.Load(s.Home.VoicesPath()); err != nil {
			s.Logger.Warn("voice catalog unreadable", "error", err)
		} else if v := c.Default(s.Provider.Name()); v != nil {
			settings.Voice = v.VoiceID
		}
	}

	s.Start(runCtx)
	ctx := svcctx.WithServices(runCtx, s)

	job, err := s.JobManager.Submit(ctx, jobs.Input{
		Path:   path,
		Name:   filepath.Base(path),
		Format: filepath.Ext(path),
	}, settings)
	if err != nil {
		return err
	}
	s.Logger.Info("conversion started", "job_id", job.ID, "input", job.Input.Name)

	final, err := waitForJob(cmd.Context(), ctx, job.ID)
	if err != nil {
		return err
	}
	if err := api.Output(final); err != nil {
		return err
	}
	switch final.Status {
	case jobs.StatusFailed:
		return fmt.Errorf("conversion failed (%s): %s", final.ErrorKind, final.Error)
	case jobs.StatusCancelled:
		return errors.New("conversion cancelled")
	}
	return nil
}

// waitForJob polls the job until it is terminal. When interrupt is done
// first, the job is cancelled and polling continues until it settles.
func waitForJob(interrupt, ctx context.Context, id string) (*jobs.Job, error) {
	manager := svcctx.JobManagerFrom(ctx)
	logger := svcctx.LoggerFrom(ctx)

	ticker := time.NewTicker(convertPoll)
	defer ticker.Stop()

	var last jobs.Snapshot
	cancelled := false
	for {
		select {
		case <-interrupt.Done():
			if !cancelled {
				cancelled = true
				logger.Warn("interrupted, cancelling job", "job_id", id)
				if err := manager.Cancel(ctx, id); err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
					return nil, err
				}
			}
		case <-ticker.C:
		}

		snap, err := manager.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap.Progress != last.Progress || snap.CurrentStep != last.CurrentStep || snap.Status != last.Status {
			logger.Info("progress", "status", snap.Status, "percent", snap.Progress, "step", snap.CurrentStep)
			if s := svcctx.ServicesFrom(ctx); s != nil {
				st := s.Status()
				logger.Debug("workers",
					"in_flight", st.Pool.InFlight,
					"queued", st.Pool.QueueDepth,
					"jobs_running", st.Jobs.Running,
					"breaker_open", st.Breaker.Open,
					"breaker_failures", st.Breaker.Failures)
			}
			last = snap
		}
		if snap.Status.Terminal() {
			return manager.Get(ctx, id)
		}
		if cancelled {
			// Interrupt stays closed; avoid spinning on it.
			<-ticker.C
		}
	}
}

func checkProvider(ctx context.Context, p providers.SpeechProvider) error {
	hc, ok := p.(providers.HealthChecker)
	if !ok {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := hc.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("provider %s health check failed: %w", p.Name(), err)
	}
	return nil
}

func checkCodec(format string) error {
	codec, err := audio.NewCodec(format)
	if err != nil {
		return err
	}
	if err := codec.CheckAvailable(); err != nil {
		return fmt.Errorf("%s output unavailable: %w", codec.Extension(), err)
	}
	return nil
}
