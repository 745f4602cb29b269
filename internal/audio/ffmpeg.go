package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FFmpegConfig locates the ffmpeg binaries.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	// Format is the provider and output container (default mp3).
	Format string
}

// FFmpegCodec joins compressed audio with ffmpeg's concat demuxer and
// measures it with ffprobe.
type FFmpegCodec struct {
	ffmpeg  string
	ffprobe string
	format  string
}

// NewFFmpegCodec creates a codec using binaries from PATH by default.
func NewFFmpegCodec(cfg FFmpegConfig) *FFmpegCodec {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &FFmpegCodec{ffmpeg: cfg.FFmpegPath, ffprobe: cfg.FFprobePath, format: cfg.Format}
}

// Name returns the codec identifier.
func (c *FFmpegCodec) Name() string { return "ffmpeg" }

// Extension returns the output file extension.
func (c *FFmpegCodec) Extension() string { return c.format }

// ProviderFormat returns the audio format to request from the provider.
func (c *FFmpegCodec) ProviderFormat() string { return c.format }

// CheckAvailable verifies ffmpeg and ffprobe are on PATH.
func (c *FFmpegCodec) CheckAvailable() error {
	if _, err := exec.LookPath(c.ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath(c.ffprobe); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// Concat uses ffmpeg's concat demuxer. Streams are copied unless enhancement
// requires re-encoding through the acompressor, loudnorm and afade filters.
func (c *FFmpegCodec) Concat(ctx context.Context, inputs []string, output string, enh Enhancement) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}

	// afade needs the fade-out start time, so measure the joined length.
	var total time.Duration
	if enh.FadeOut > 0 {
		for _, f := range inputs {
			d, err := c.Duration(ctx, f)
			if err != nil {
				return err
			}
			total += d
		}
	}

	listPath := output + ".txt"
	var lines []string
	for _, f := range inputs {
		// The concat demuxer requires escaped single quotes.
		escapedPath := strings.ReplaceAll(f, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escapedPath))
	}
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	// -f concat: use concat demuxer
	// -safe 0: allow absolute paths
	// -y: overwrite output
	args := []string{"-f", "concat", "-safe", "0", "-i", listPath}
	if filters := ffmpegFilters(enh, total); filters != "" {
		args = append(args, "-af", filters)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-y", output)

	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(out))
	}
	return nil
}

func ffmpegFilters(enh Enhancement, total time.Duration) string {
	var filters []string
	if enh.Compress {
		filters = append(filters, fmt.Sprintf("acompressor=threshold=%.3f:ratio=%.1f", enh.threshold(), enh.ratio()))
	}
	if enh.Normalize {
		filters = append(filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	}
	if enh.FadeIn > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%.3f", enh.FadeIn.Seconds()))
	}
	if fade := min(enh.FadeOut, total); fade > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", (total-fade).Seconds(), fade.Seconds()))
	}
	return strings.Join(filters, ",")
}

// Duration uses ffprobe to read the container duration.
func (c *FFmpegCodec) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, c.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
