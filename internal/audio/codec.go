// Package audio concatenates synthesized chunk audio into chapter files and a
// complete audiobook, and measures the results.
package audio

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Codec joins and measures audio files of one container format.
type Codec interface {
	Name() string
	Extension() string

	// ProviderFormat is the format requested from the speech provider so
	// chunk audio can be joined without transcoding.
	ProviderFormat() string

	Duration(ctx context.Context, path string) (time.Duration, error)
	Concat(ctx context.Context, inputs []string, output string, enh Enhancement) error

	// CheckAvailable reports missing external tools before any work starts.
	CheckAvailable() error
}

// Enhancement configures post-processing applied after concatenation.
type Enhancement struct {
	Normalize bool
	Compress  bool

	// TargetPeak is the normalized peak as a fraction of full scale (default 0.89, about -1 dBFS).
	TargetPeak float64
	// Threshold is the compressor knee as a fraction of full scale (default 0.5).
	Threshold float64
	// Ratio is the compression ratio above the knee (default 4).
	Ratio float64

	// FadeIn and FadeOut ramp the start and end of each output file.
	FadeIn  time.Duration
	FadeOut time.Duration
}

// Enabled reports whether any processing is requested.
func (e Enhancement) Enabled() bool {
	return e.Normalize || e.Compress || e.FadeIn > 0 || e.FadeOut > 0
}

func (e Enhancement) targetPeak() float64 {
	if e.TargetPeak <= 0 || e.TargetPeak > 1 {
		return 0.89
	}
	return e.TargetPeak
}

func (e Enhancement) threshold() float64 {
	if e.Threshold <= 0 || e.Threshold >= 1 {
		return 0.5
	}
	return e.Threshold
}

func (e Enhancement) ratio() float64 {
	if e.Ratio < 1 {
		return 4
	}
	return e.Ratio
}

// NewCodec returns the codec for a format name. WAV is joined in process;
// compressed formats go through ffmpeg.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wav":
		return WAVCodec{}, nil
	case "ffmpeg", "mp3":
		return NewFFmpegCodec(FFmpegConfig{}), nil
	case "opus", "aac", "flac":
		return NewFFmpegCodec(FFmpegConfig{Format: strings.ToLower(strings.TrimSpace(name))}), nil
	}
	return nil, fmt.Errorf("unknown audio codec %q (available: wav, mp3, opus, aac, flac)", name)
}
