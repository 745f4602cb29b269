package metrics

// JobCost returns the estimated cost of a job.
func (r *Recorder) JobCost(jobID string) float64 {
	return r.Summarize(Filter{JobID: jobID}).TotalCostUSD
}

// CostByModel returns cost breakdown by model.
func (r *Recorder) CostByModel(f Filter) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		breakdown[m.Model] += m.CostUSD
	}
	return breakdown
}

// CostByProvider returns cost breakdown by provider.
func (r *Recorder) CostByProvider(f Filter) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		breakdown[m.Provider] += m.CostUSD
	}
	return breakdown
}

// CountBySource returns how many chunks each audio source served.
func (r *Recorder) CountBySource(f Filter) map[string]int {
	counts := make(map[string]int)
	for _, m := range r.List(f, 0) {
		counts[m.Source]++
	}
	return counts
}
