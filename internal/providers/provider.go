// Package providers implements clients for external text-to-speech services.
package providers

import (
	"context"
	"time"
)

// SpeechRequest is one synchronous synthesis request.
type SpeechRequest struct {
	Text   string
	Voice  string
	Model  string
	Speed  float64
	Format string // Container format: mp3, wav, opus, aac, flac

	// Style and Emotion are combined into narration instructions for models
	// that accept them.
	Style   string
	Emotion string

	// Instructions overrides the instructions derived from Style and Emotion.
	Instructions string
}

// SpeechResult is the audio returned for a SpeechRequest.
type SpeechResult struct {
	Audio         []byte
	Format        string
	SampleRate    int
	CharCount     int
	CostUSD       float64
	ExecutionTime time.Duration
	RequestID     string
}

// SpeechProvider converts text to audio. Errors are *RateLimitError,
// *APIError, or transport errors classified by faults.IsTransient.
type SpeechProvider interface {
	// Name returns the provider identifier.
	Name() string

	// Generate synthesizes one request.
	Generate(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
}

// HealthChecker is implemented by providers that can verify credentials.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Voice describes one selectable voice.
type Voice struct {
	VoiceID     string `json:"voice_id" yaml:"voice_id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// InputLimiter is implemented by providers that cap characters per request.
// An empty model means the provider's default model.
type InputLimiter interface {
	MaxInputChars(model string) int
}

// InputLimit returns p's per-request character cap for model, or 0 when it
// has none.
func InputLimit(p SpeechProvider, model string) int {
	if l, ok := p.(InputLimiter); ok {
		return l.MaxInputChars(model)
	}
	return 0
}

// VoicesLister is implemented by providers that can enumerate voices.
type VoicesLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// NarrationInstructions builds provider instructions from a style and emotion.
func NarrationInstructions(style, emotion string) string {
	switch {
	case style != "" && emotion != "":
		return "Narrate in a " + style + " style with a " + emotion + " tone."
	case style != "":
		return "Narrate in a " + style + " style."
	case emotion != "":
		return "Narrate with a " + emotion + " tone."
	}
	return ""
}
