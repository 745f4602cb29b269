package metrics

import (
	"sort"
	"time"
)

// Summary provides a summary of metrics for a filter.
type Summary struct {
	Count            int           `json:"count" yaml:"count"`
	ProviderCalls    int           `json:"provider_calls" yaml:"provider_calls"`
	CacheHits        int           `json:"cache_hits" yaml:"cache_hits"`
	Attempts         int           `json:"attempts" yaml:"attempts"`
	Characters       int           `json:"characters" yaml:"characters"`
	BilledCharacters int           `json:"billed_characters" yaml:"billed_characters"`
	TotalCostUSD     float64       `json:"total_cost_usd" yaml:"total_cost_usd"`
	TotalTime        time.Duration `json:"total_time" yaml:"total_time"`
	SuccessCount     int           `json:"success_count" yaml:"success_count"`
	ErrorCount       int           `json:"error_count" yaml:"error_count"`
	AvgTimeSeconds   float64       `json:"avg_time_seconds" yaml:"avg_time_seconds"`
}

// HitRate is the share of chunks served without a provider call.
func (s *Summary) HitRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.Count)
}

// Summarize returns a summary of metrics matching the filter.
func (r *Recorder) Summarize(f Filter) *Summary {
	s := &Summary{}
	for _, m := range r.List(f, 0) {
		s.Count++
		s.Characters += m.Characters
		s.TotalCostUSD += m.CostUSD
		s.TotalTime += time.Duration(m.TotalSeconds * float64(time.Second))
		s.Attempts += m.Attempts
		if m.Billed() {
			s.ProviderCalls++
			s.BilledCharacters += m.Characters * m.Attempts
		}
		if m.Source == "cache" || m.Source == "shared" {
			s.CacheHits++
		}
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	if s.Count > 0 {
		s.AvgTimeSeconds = s.TotalTime.Seconds() / float64(s.Count)
	}
	return s
}

// LatencyStats describes provider latency for billed metrics.
type LatencyStats struct {
	Count int     `json:"count" yaml:"count"`
	P50   float64 `json:"latency_p50" yaml:"latency_p50"`
	P95   float64 `json:"latency_p95" yaml:"latency_p95"`
	P99   float64 `json:"latency_p99" yaml:"latency_p99"`
	Avg   float64 `json:"latency_avg" yaml:"latency_avg"`
	Min   float64 `json:"latency_min" yaml:"latency_min"`
	Max   float64 `json:"latency_max" yaml:"latency_max"`
}

// Latency returns latency percentiles for provider-backed metrics.
func (r *Recorder) Latency(f Filter) *LatencyStats {
	var latencies []float64
	for _, m := range r.List(f, 0) {
		if m.Billed() && m.TotalSeconds > 0 {
			latencies = append(latencies, m.TotalSeconds)
		}
	}
	stats := &LatencyStats{Count: len(latencies)}
	if len(latencies) == 0 {
		return stats
	}

	sort.Float64s(latencies)
	stats.Min = latencies[0]
	stats.Max = latencies[len(latencies)-1]
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	stats.Avg = sum / float64(len(latencies))
	stats.P50 = percentile(latencies, 50)
	stats.P95 = percentile(latencies, 95)
	stats.P99 = percentile(latencies, 99)
	return stats
}

// percentile calculates the p-th percentile from a sorted slice of values
// by linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
