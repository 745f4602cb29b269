// Package metrics provides cost and usage tracking for speech synthesis.
package metrics

import "time"

// Metric is one synthesis outcome for one chunk. Metrics are append-only.
type Metric struct {
	// Attribution (for filtering/aggregation)
	JobID string `json:"job_id,omitempty" yaml:"job_id,omitempty"`

	// Provider info
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Voice    string `json:"voice,omitempty" yaml:"voice,omitempty"`

	// Source is where the audio came from: provider, cache, shared or bypass.
	Source string `json:"source" yaml:"source"`

	// Usage
	Characters int     `json:"characters" yaml:"characters"`
	Attempts   int     `json:"attempts" yaml:"attempts"`
	AudioBytes int     `json:"audio_bytes,omitempty" yaml:"audio_bytes,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty" yaml:"cost_usd,omitempty"`

	// Timing
	TotalSeconds float64 `json:"total_seconds,omitempty" yaml:"total_seconds,omitempty"`

	// Status
	Success   bool   `json:"success" yaml:"success"`
	ErrorType string `json:"error_type,omitempty" yaml:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Billed reports whether the metric reached the provider.
func (m *Metric) Billed() bool {
	return m.Attempts > 0
}
