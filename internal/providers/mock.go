package providers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jackzampolin/narrator/internal/audio"
)

const MockName = "mock"

// MockMillisPerChar sets the duration of the mock's default audio.
const MockMillisPerChar = 10

// MockSpeechProvider is a SpeechProvider for tests and dry runs. By default
// it returns silent WAV audio lasting MockMillisPerChar per input character.
type MockSpeechProvider struct {
	// Latency is simulated per call.
	Latency time.Duration

	// Failures are returned for successive calls in order; a nil entry
	// succeeds. Calls past the end of the script succeed.
	Failures []error

	// FailWith, when set, decides the outcome of call n (1-based).
	FailWith func(n int64, req *SpeechRequest) error

	// BeforeCall runs at the start of call n.
	BeforeCall func(n int64, req *SpeechRequest)

	// Audio overrides the generated audio.
	Audio func(req *SpeechRequest) []byte

	// MaxInput rejects longer requests with a 400, like a real provider
	// (0 = unlimited).
	MaxInput int

	calls    atomic.Int64
	mu       sync.Mutex
	requests []SpeechRequest
}

// NewMockSpeechProvider creates a mock that always succeeds.
func NewMockSpeechProvider() *MockSpeechProvider {
	return &MockSpeechProvider{}
}

// Name returns the provider identifier.
func (m *MockSpeechProvider) Name() string {
	return MockName
}

// Generate returns scripted failures or synthetic audio.
func (m *MockSpeechProvider) Generate(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	start := time.Now()
	n := m.calls.Add(1)

	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	if m.BeforeCall != nil {
		m.BeforeCall(n, req)
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, &TransportError{Provider: MockName, Err: ctx.Err()}
		}
	}

	if chars := utf8.RuneCountInString(req.Text); m.MaxInput > 0 && chars > m.MaxInput {
		return nil, &APIError{
			Provider:   MockName,
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("input has %d characters, limit is %d", chars, m.MaxInput),
		}
	}
	if idx := int(n - 1); idx < len(m.Failures) && m.Failures[idx] != nil {
		return nil, m.Failures[idx]
	}
	if m.FailWith != nil {
		if err := m.FailWith(n, req); err != nil {
			return nil, err
		}
	}

	var data []byte
	if m.Audio != nil {
		data = m.Audio(req)
	} else {
		data = audio.SilenceWAV(time.Duration(len([]rune(req.Text))*MockMillisPerChar) * time.Millisecond)
	}

	return &SpeechResult{
		Audio:         data,
		Format:        "wav",
		SampleRate:    audio.DefaultSampleRate,
		CharCount:     utf8.RuneCountInString(req.Text),
		ExecutionTime: time.Since(start),
	}, nil
}

// Calls returns the number of Generate calls so far.
func (m *MockSpeechProvider) Calls() int64 {
	return m.calls.Load()
}

// Requests returns a copy of every request received.
func (m *MockSpeechProvider) Requests() []SpeechRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SpeechRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// HealthCheck always succeeds.
func (m *MockSpeechProvider) HealthCheck(context.Context) error {
	return nil
}

// MaxInputChars returns MaxInput.
func (m *MockSpeechProvider) MaxInputChars(string) int {
	return m.MaxInput
}

// ListVoices returns a fixed voice.
func (m *MockSpeechProvider) ListVoices(context.Context) ([]Voice, error) {
	return []Voice{{VoiceID: "mock", Name: "mock", Description: "silent test voice"}}, nil
}

var (
	_ SpeechProvider = (*MockSpeechProvider)(nil)
	_ VoicesLister   = (*MockSpeechProvider)(nil)
	_ HealthChecker  = (*MockSpeechProvider)(nil)
	_ InputLimiter   = (*MockSpeechProvider)(nil)
)
