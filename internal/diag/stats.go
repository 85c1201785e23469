// Package diag implements small summary-statistics helpers used by the
// scheduler to report its per-worker queue-depth diagnostics without
// pulling in a metrics library. It keeps every
// sample, so it is only appropriate for the small, bounded sample counts
// a single diagnostic report accumulates.
package diag

import "sort"

// Stats accumulates float64 samples and reports summary statistics over
// them.
type Stats struct {
	samples []float64
}

// N returns the number of samples recorded.
func (s *Stats) N() int { return len(s.samples) }

// Add records a sample.
func (s *Stats) Add(v float64) {
	s.samples = append(s.samples, v)
	sort.Float64s(s.samples)
}

// Mean returns the arithmetic mean of the recorded samples, or zero if
// none have been recorded.
func (s *Stats) Mean() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	var total float64
	for _, v := range s.samples {
		total += v
	}
	return total / float64(len(s.samples))
}

// Percentile returns the value at the given percentile (0-100).
func (s *Stats) Percentile(pct int) float64 {
	n := len(s.samples)
	if n == 0 {
		return 0
	}
	if pct >= 100 {
		return s.samples[n-1]
	}
	idx := n * pct / 100
	return s.samples[idx]
}
