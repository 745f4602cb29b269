package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackzampolin/narrator/internal/faults"
)

func TestOpenAIGenerateSuccess(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini-tts",
		Voice:   "onyx",
		BaseURL: server.URL,
	})

	result, err := client.Generate(context.Background(), &SpeechRequest{
		Text:   "Hello world.",
		Format: "mp3",
		Speed:  1.25,
		Style:  "calm",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if string(result.Audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio bytes: %q", string(result.Audio))
	}
	if result.Format != "mp3" {
		t.Fatalf("expected mp3 format, got %q", result.Format)
	}
	if got, _ := payload["model"].(string); got != "gpt-4o-mini-tts" {
		t.Fatalf("expected model gpt-4o-mini-tts, got %q", got)
	}
	if got, _ := payload["voice"].(string); got != "onyx" {
		t.Fatalf("expected voice onyx, got %q", got)
	}
	if got, _ := payload["speed"].(float64); got != 1.25 {
		t.Fatalf("expected speed 1.25, got %v", got)
	}
	if got, _ := payload["instructions"].(string); got != "Narrate in a calm style." {
		t.Fatalf("expected style instructions, got %q", got)
	}
}

func TestOpenAIInstructionsOnlyForCapableModels(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte("audio"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "tts-1", BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), &SpeechRequest{Text: "Hi.", Style: "dramatic"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, ok := payload["instructions"]; ok {
		t.Fatalf("tts-1 must not receive instructions: %v", payload["instructions"])
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		retryAfter    string
		wantTransient bool
		wantRateLimit bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, "3", true, true},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"no credit","type":"insufficient_quota","code":"insufficient_quota"}}`, "", false, false},
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`, "", true, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad voice","type":"invalid_request_error"}}`, "", false, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
			_, err := client.Generate(context.Background(), &SpeechRequest{Text: "Hello."})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := faults.IsTransient(err); got != tt.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v (err: %v)", got, tt.wantTransient, err)
			}
			if faults.KindOf(err) != faults.KindSynthesis {
				t.Fatalf("KindOf() = %q, want synthesis", faults.KindOf(err))
			}
			var rl *RateLimitError
			if errors.As(err, &rl) != tt.wantRateLimit {
				t.Fatalf("rate limit error = %v, want %v", errors.As(err, &rl), tt.wantRateLimit)
			}
			if tt.wantRateLimit && rl.RetryAfter != 3*time.Second {
				t.Fatalf("expected retry-after 3s, got %s", rl.RetryAfter)
			}
		})
	}
}

func TestOpenAIEmptyTextIsPermanent(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	_, err := client.Generate(context.Background(), &SpeechRequest{Text: "   "})
	if err == nil || faults.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestOpenAITimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Generate(context.Background(), &SpeechRequest{Text: "Hello."})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !faults.IsTransient(err) {
		t.Fatalf("timeout should be transient: %v", err)
	}
}
