package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackzampolin/narrator/internal/audio"
)

const (
	ElevenLabsName         = "elevenlabs"
	ElevenLabsAPIBaseURL   = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultModel = "eleven_turbo_v2_5"

	// elevenLabsDefaultMaxChars applies to models without a known limit.
	elevenLabsDefaultMaxChars = 5000
)

// elevenLabsMaxChars are per-model character limits for one request.
var elevenLabsMaxChars = map[string]int{
	"eleven_multilingual_v2": 10000,
	"eleven_turbo_v2_5":      40000,
	"eleven_flash_v2_5":      40000,
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey     string
	Model      string  // e.g., "eleven_multilingual_v2", "eleven_turbo_v2_5"
	Voice      string  // Default voice ID
	Stability  float64 // 0.0-1.0, default 0.5
	Similarity float64 // 0.0-1.0, default 0.75
	Timeout    time.Duration
	BaseURL    string // Optional (tests)
}

// ElevenLabsClient implements SpeechProvider using the ElevenLabs REST API.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	stability  float64
	similarity float64
	client     *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	if cfg.Model == "" {
		cfg.Model = ElevenLabsDefaultModel
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.75
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ElevenLabsAPIBaseURL
	}

	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		voice:      cfg.Voice,
		stability:  cfg.Stability,
		similarity: cfg.Similarity,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *ElevenLabsClient) Name() string {
	return ElevenLabsName
}

// HealthCheck verifies the API key against the /user endpoint.
func (c *ElevenLabsClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Provider: ElevenLabsName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return c.statusError(resp, body)
	}
	return nil
}

// Generate converts text to audio.
func (c *ElevenLabsClient) Generate(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	start := time.Now()

	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	if voice == "" {
		return nil, &APIError{Provider: ElevenLabsName, StatusCode: http.StatusBadRequest, Message: "voice_id is required"}
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	format := elevenLabsOutputFormat(req.Format)
	body := elevenLabsRequest{
		Text:    req.Text,
		ModelID: model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
			Style:           styleExaggeration(req.Style, req.Emotion),
			Speed:           clampElevenLabsSpeed(speed),
			UseSpeakerBoost: true,
		},
	}

	audioBytes, requestID, err := c.doRequest(ctx, voice, format, body)
	if err != nil {
		return nil, err
	}

	container, sampleRate := parseOutputFormat(format)
	if container == "pcm" {
		// Raw 16-bit mono PCM; wrap it so downstream decoders see a WAV file.
		audioBytes = audio.PCMToWAV(audioBytes, sampleRate, 1)
		container = "wav"
	}
	return &SpeechResult{
		Audio:         audioBytes,
		Format:        container,
		SampleRate:    sampleRate,
		CharCount:     utf8.RuneCountInString(req.Text),
		CostUSD:       float64(utf8.RuneCountInString(req.Text)) * 0.0003,
		ExecutionTime: time.Since(start),
		RequestID:     requestID,
	}, nil
}

func (c *ElevenLabsClient) doRequest(ctx context.Context, voiceID, format string, body elevenLabsRequest) ([]byte, string, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", c.baseURL, url.PathEscape(voiceID), url.QueryEscape(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", &TransportError{Provider: ElevenLabsName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransportError{Provider: ElevenLabsName, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", c.statusError(resp, respBody)
	}

	requestID := resp.Header.Get("request-id")
	if requestID == "" {
		requestID = resp.Header.Get("x-request-id")
	}
	return respBody, requestID, nil
}

func (c *ElevenLabsClient) statusError(resp *http.Response, body []byte) error {
	var errResp elevenLabsErrorResponse
	msg, code := string(body), ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		msg, code = errResp.Detail.Message, errResp.Detail.Status
	}

	if resp.StatusCode == http.StatusTooManyRequests && !isQuotaCode(code) {
		return &RateLimitError{
			Message:    fmt.Sprintf("ElevenLabs rate limited: %s", msg),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	return &APIError{Provider: ElevenLabsName, StatusCode: resp.StatusCode, Code: code, Message: msg}
}

// ListVoices retrieves available voices.
func (c *ElevenLabsClient) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: ElevenLabsName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, c.statusError(resp, body)
	}

	var result elevenLabsVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	voices := make([]Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voices = append(voices, Voice{VoiceID: v.VoiceID, Name: v.Name, Description: v.Description})
	}
	return voices, nil
}

// elevenLabsOutputFormat maps a container name to an output_format value.
func elevenLabsOutputFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav", "pcm":
		return "pcm_24000"
	case "", "mp3":
		return "mp3_44100_128"
	default:
		return format
	}
}

// parseOutputFormat extracts container format and sample rate from output_format.
// Examples: mp3_44100_128 -> (mp3, 44100), pcm_16000 -> (pcm, 16000).
func parseOutputFormat(format string) (container string, sampleRate int) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "mp3", 0
	}
	parts := strings.Split(format, "_")
	container = parts[0]
	if len(parts) >= 2 {
		if sr, err := strconv.Atoi(parts[1]); err == nil {
			sampleRate = sr
		}
	}
	return container, sampleRate
}

// styleExaggeration maps a named style or emotion to the 0-1 style setting.
func styleExaggeration(style, emotion string) float64 {
	switch strings.ToLower(style) {
	case "dramatic", "expressive":
		return 0.6
	case "calm", "neutral", "":
		if emotion != "" {
			return 0.3
		}
		return 0
	}
	return 0.2
}

func clampElevenLabsSpeed(speed float64) float64 {
	return max(0.7, min(1.2, speed))
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

type elevenLabsVoicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

type elevenLabsVoice struct {
	VoiceID     string `json:"voice_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MaxInputChars returns the character limit of one request to model.
func (c *ElevenLabsClient) MaxInputChars(model string) int {
	if model == "" {
		model = c.model
	}
	if n, ok := elevenLabsMaxChars[model]; ok {
		return n
	}
	return elevenLabsDefaultMaxChars
}

var (
	_ SpeechProvider = (*ElevenLabsClient)(nil)
	_ VoicesLister   = (*ElevenLabsClient)(nil)
	_ HealthChecker  = (*ElevenLabsClient)(nil)
	_ InputLimiter   = (*ElevenLabsClient)(nil)
)
