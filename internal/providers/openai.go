package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = openai.SpeechModelTTS1HD
	openAIDefaultVoice = "onyx"

	// OpenAIMaxInputChars is the speech endpoint's input limit.
	OpenAIMaxInputChars = 4096
)

// OpenAIVoices are the built-in speech voices.
var OpenAIVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "nova",
	"onyx", "sage", "shimmer", "verse", "marin", "cedar",
}

// OpenAIModels are the supported speech models.
var OpenAIModels = []string{"tts-1", "tts-1-hd", "gpt-4o-mini-tts"}

// OpenAIConfig holds configuration for the OpenAI speech client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // "tts-1-hd" (default), "tts-1", "gpt-4o-mini-tts"
	Voice      string        // "onyx" (default)
	Timeout    time.Duration // Per-request HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements SpeechProvider using the official OpenAI SDK.
// SDK-level retries are disabled; retries belong to the synthesis engine.
type OpenAIClient struct {
	model  string
	voice  string
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI speech client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = openAIDefaultVoice
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:  cfg.Model,
		voice:  cfg.Voice,
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// HealthCheck verifies the OpenAI API is reachable and the API key is valid.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return fmt.Errorf("openai models list returned nil response")
	}
	return nil
}

// Generate converts text to audio using the OpenAI speech endpoint.
func (c *OpenAIClient) Generate(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	start := time.Now()

	if req == nil {
		return nil, &APIError{Provider: OpenAIName, StatusCode: http.StatusBadRequest, Message: "request is required"}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &APIError{Provider: OpenAIName, StatusCode: http.StatusBadRequest, Message: "text is required"}
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = c.voice
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	format := normalizeOpenAIFormat(req.Format)
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: format,
		Speed:          openai.Float(speed),
	}

	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = NarrationInstructions(req.Style, req.Emotion)
	}
	if instructions != "" && supportsInstructions(model) {
		params.Instructions = openai.String(instructions)
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	defer resp.Body.Close()

	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: OpenAIName, Err: fmt.Errorf("reading audio response: %w", err)}
	}

	return &SpeechResult{
		Audio:         audioBytes,
		Format:        openAIResultFormat(format),
		SampleRate:    openAISampleRate(format),
		CharCount:     utf8.RuneCountInString(text),
		CostUSD:       estimateOpenAICostUSD(model, text),
		ExecutionTime: time.Since(start),
	}, nil
}

func estimateOpenAICostUSD(model, text string) float64 {
	chars := float64(utf8.RuneCountInString(text))
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "tts-1-hd":
		return chars * (0.03 / 1000.0)
	case "tts-1":
		return chars * (0.015 / 1000.0)
	default:
		// gpt-4o-mini-tts is token priced; approximate at roughly $0.015 per minute.
		return chars * (0.012 / 1000.0)
	}
}

// ListVoices returns the built-in OpenAI voice list.
func (c *OpenAIClient) ListVoices(_ context.Context) ([]Voice, error) {
	voices := make([]Voice, 0, len(OpenAIVoices))
	for _, name := range OpenAIVoices {
		voices = append(voices, Voice{VoiceID: name, Name: name})
	}
	return voices, nil
}

func supportsInstructions(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "gpt-4o-mini-tts")
}

func normalizeOpenAIFormat(format string) openai.AudioSpeechNewParamsResponseFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "mp3":
		return openai.AudioSpeechNewParamsResponseFormatMP3
	case "opus":
		return openai.AudioSpeechNewParamsResponseFormatOpus
	case "aac":
		return openai.AudioSpeechNewParamsResponseFormatAAC
	case "flac":
		return openai.AudioSpeechNewParamsResponseFormatFLAC
	case "wav":
		return openai.AudioSpeechNewParamsResponseFormatWAV
	case "pcm":
		return openai.AudioSpeechNewParamsResponseFormatPCM
	default:
		return openai.AudioSpeechNewParamsResponseFormatMP3
	}
}

func openAIResultFormat(format openai.AudioSpeechNewParamsResponseFormat) string {
	switch format {
	case openai.AudioSpeechNewParamsResponseFormatOpus:
		return "opus"
	case openai.AudioSpeechNewParamsResponseFormatAAC:
		return "aac"
	case openai.AudioSpeechNewParamsResponseFormatFLAC:
		return "flac"
	case openai.AudioSpeechNewParamsResponseFormatWAV:
		return "wav"
	case openai.AudioSpeechNewParamsResponseFormatPCM:
		return "pcm"
	default:
		return "mp3"
	}
}

func openAISampleRate(format openai.AudioSpeechNewParamsResponseFormat) int {
	switch format {
	case openai.AudioSpeechNewParamsResponseFormatWAV, openai.AudioSpeechNewParamsResponseFormatPCM:
		return 24000
	}
	return 0
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &TransportError{Provider: OpenAIName, Err: err}
	}

	if apiErr.StatusCode == http.StatusTooManyRequests && !isQuotaCode(apiErr.Code) {
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &RateLimitError{
			Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		}
	}
	return &APIError{
		Provider:   OpenAIName,
		StatusCode: apiErr.StatusCode,
		Code:       apiErr.Code,
		Message:    apiErr.Message,
	}
}

// MaxInputChars returns the speech endpoint's input limit.
func (c *OpenAIClient) MaxInputChars(string) int {
	return OpenAIMaxInputChars
}

var (
	_ SpeechProvider = (*OpenAIClient)(nil)
	_ VoicesLister   = (*OpenAIClient)(nil)
	_ HealthChecker  = (*OpenAIClient)(nil)
	_ InputLimiter   = (*OpenAIClient)(nil)
)
