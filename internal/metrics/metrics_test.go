package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecordEstimatesCost(t *testing.T) {
	r := NewRecorder(RecorderConfig{})

	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "provider", Characters: 1000, Attempts: 2, Success: true})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "cache", Characters: 1000, Success: true})
	r.Record(Metric{JobID: "a", Model: "unknown", Source: "provider", Characters: 1000, Attempts: 1, Success: true})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "provider", Characters: 10, Attempts: 1, CostUSD: 5, Success: true})

	got := r.List(Filter{}, 0)
	require.Len(t, got, 4)
	assert.InDelta(t, 0.03, got[0].CostUSD, 1e-9, "two billed attempts")
	assert.Zero(t, got[1].CostUSD, "cache hits are free")
	assert.Zero(t, got[2].CostUSD, "unknown models are free")
	assert.Equal(t, 5.0, got[3].CostUSD, "explicit cost is kept")
	for _, m := range got {
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestSummarize(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "provider", Characters: 100, Attempts: 3, TotalSeconds: 2, Success: true})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "cache", Characters: 100, Success: true})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "shared", Characters: 100, Success: true})
	r.Record(Metric{JobID: "a", Model: "tts-1", Source: "provider", Characters: 50, Attempts: 1, TotalSeconds: 1, ErrorType: "synthesis"})
	r.Record(Metric{JobID: "b", Model: "tts-1", Source: "provider", Characters: 999, Attempts: 1, Success: true})

	s := r.Summarize(Filter{JobID: "a"})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2, s.ProviderCalls)
	assert.Equal(t, 2, s.CacheHits)
	assert.Equal(t, 4, s.Attempts)
	assert.Equal(t, 350, s.Characters)
	assert.Equal(t, 350, s.BilledCharacters)
	assert.Equal(t, 3, s.SuccessCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 3*time.Second, s.TotalTime)
	assert.InDelta(t, 0.75, s.AvgTimeSeconds, 1e-9)
	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)
	assert.InDelta(t, 350*15/1e6, s.TotalCostUSD, 1e-12)
	assert.InDelta(t, s.TotalCostUSD, r.JobCost("a"), 1e-12)

	empty := r.Summarize(Filter{JobID: "missing"})
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.HitRate())
}

func TestFilters(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder(RecorderConfig{Now: fixedClock(start)})
	r.Record(Metric{JobID: "a", Provider: "openai", Model: "tts-1", Success: true})
	r.Record(Metric{JobID: "b", Provider: "elevenlabs", Model: "eleven_flash_v2_5", Success: false})
	r.Record(Metric{JobID: "c", Provider: "openai", Model: "tts-1-hd", Success: true})

	assert.Len(t, r.List(Filter{Provider: "openai"}, 0), 2)
	assert.Len(t, r.List(Filter{Model: "tts-1"}, 0), 1)
	assert.Len(t, r.List(Filter{Provider: "openai"}, 1), 1)

	failed := false
	errs := r.List(Filter{Success: &failed}, 0)
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].JobID)

	after := r.List(Filter{After: start.Add(time.Second)}, 0)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].JobID)

	before := r.List(Filter{Before: start.Add(2 * time.Second)}, 0)
	require.Len(t, before, 1)
	assert.Equal(t, "a", before[0].JobID)
}

func TestLimitDropsOldest(t *testing.T) {
	r := NewRecorder(RecorderConfig{Limit: 2})
	for _, id := range []string{"a", "b", "c"} {
		r.Record(Metric{JobID: id})
	}
	got := r.List(Filter{}, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].JobID)
	assert.Equal(t, "c", got[1].JobID)
}

func TestLatency(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	for _, secs := range []float64{4, 1, 3, 2, 5} {
		r.Record(Metric{Source: "provider", Attempts: 1, TotalSeconds: secs, Success: true})
	}
	r.Record(Metric{Source: "cache", TotalSeconds: 100, Success: true})

	l := r.Latency(Filter{})
	assert.Equal(t, 5, l.Count)
	assert.Equal(t, 1.0, l.Min)
	assert.Equal(t, 5.0, l.Max)
	assert.Equal(t, 3.0, l.Avg)
	assert.Equal(t, 3.0, l.P50)
	assert.InDelta(t, 4.8, l.P95, 1e-9)
	assert.InDelta(t, 4.96, l.P99, 1e-9)

	assert.Zero(t, r.Latency(Filter{JobID: "none"}).Count)
}

func TestBreakdowns(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Record(Metric{Provider: "openai", Model: "tts-1", Source: "provider", CostUSD: 1, Attempts: 1})
	r.Record(Metric{Provider: "openai", Model: "tts-1-hd", Source: "provider", CostUSD: 2, Attempts: 1})
	r.Record(Metric{Provider: "elevenlabs", Model: "eleven_flash_v2_5", Source: "provider", CostUSD: 4, Attempts: 1})
	r.Record(Metric{Provider: "openai", Model: "tts-1", Source: "cache"})

	assert.Equal(t, map[string]float64{"tts-1": 1, "tts-1-hd": 2, "eleven_flash_v2_5": 4}, r.CostByModel(Filter{}))
	assert.Equal(t, map[string]float64{"openai": 3, "elevenlabs": 4}, r.CostByProvider(Filter{}))
	assert.Equal(t, map[string]int{"provider": 3, "cache": 1}, r.CountBySource(Filter{}))
}
