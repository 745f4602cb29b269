package metrics

import (
	"sync"
	"time"
)

// DefaultPrices are USD per million input characters.
var DefaultPrices = map[string]float64{
	"tts-1":                  15,
	"tts-1-hd":               30,
	"gpt-4o-mini-tts":        12,
	"eleven_multilingual_v2": 180,
	"eleven_turbo_v2_5":      90,
	"eleven_flash_v2_5":      90,
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Prices maps model to USD per million characters (default DefaultPrices).
	Prices map[string]float64
	// Limit caps retained metrics; the oldest are dropped first (default 100000).
	Limit int
	Now   func() time.Time
}

// Recorder keeps synthesis metrics in memory for the life of the process.
type Recorder struct {
	prices map[string]float64
	limit  int
	now    func() time.Time

	mu      sync.RWMutex
	metrics []Metric
}

// NewRecorder creates a new metrics recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Prices == nil {
		cfg.Prices = DefaultPrices
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{prices: cfg.Prices, limit: cfg.Limit, now: cfg.Now}
}

// EstimateCost returns the estimated cost of sending chars characters to model
// once. Unknown models cost nothing.
func (r *Recorder) EstimateCost(model string, chars int) float64 {
	return r.prices[model] * float64(chars) / 1e6
}

// Record stores m. Billed metrics without a cost get an estimate covering
// every attempt.
func (r *Recorder) Record(m Metric) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if m.CostUSD == 0 && m.Billed() {
		m.CostUSD = r.EstimateCost(m.Model, m.Characters) * float64(m.Attempts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	if over := len(r.metrics) - r.limit; over > 0 {
		r.metrics = append(r.metrics[:0:0], r.metrics[over:]...)
	}
}

// Filter selects metrics. Zero fields match everything.
type Filter struct {
	JobID    string
	Provider string
	Model    string
	After    time.Time
	Before   time.Time
	Success  *bool // nil = any, true = success only, false = errors only
}

func (f Filter) match(m *Metric) bool {
	switch {
	case f.JobID != "" && m.JobID != f.JobID:
		return false
	case f.Provider != "" && m.Provider != f.Provider:
		return false
	case f.Model != "" && m.Model != f.Model:
		return false
	case !f.After.IsZero() && !m.CreatedAt.After(f.After):
		return false
	case !f.Before.IsZero() && !m.CreatedAt.Before(f.Before):
		return false
	case f.Success != nil && m.Success != *f.Success:
		return false
	}
	return true
}

// List returns matching metrics oldest first. limit <= 0 returns all.
func (r *Recorder) List(f Filter, limit int) []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Metric
	for i := range r.metrics {
		if !f.match(&r.metrics[i]) {
			continue
		}
		out = append(out, r.metrics[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
