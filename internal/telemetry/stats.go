package telemetry

import "math"

// RunningStat accumulates min/max/sum/sum-of-squares for a stream of values
// without retaining them, so per-metric statistics stay O(1) per frame.
type RunningStat struct {
	count int64
	min   float64
	max   float64
	sum   float64
	sumSq float64
}

// Add folds one observation into the accumulator. NaN values are ignored.
func (s *RunningStat) Add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
	s.sumSq += v * v
}

// Count returns the number of observations recorded.
func (s *RunningStat) Count() int64 { return s.count }

// Min returns the smallest observation, or 0 before any Add.
func (s *RunningStat) Min() float64 { return s.min }

// Max returns the largest observation, or 0 before any Add.
func (s *RunningStat) Max() float64 { return s.max }

// Mean returns the arithmetic mean, or 0 before any Add.
func (s *RunningStat) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// StdDev returns the sample standard deviation, or 0 with fewer than two
// observations.
func (s *RunningStat) StdDev() float64 {
	if s.count < 2 {
		return 0
	}
	n := float64(s.count)
	variance := (s.sumSq - s.sum*s.sum/n) / (n - 1)
	if variance < 0 {
		// Guard against negative variance from floating point cancellation.
		return 0
	}
	return math.Sqrt(variance)
}

// Summary snapshots the accumulator into a MetricSummary.
func (s *RunningStat) Summary() MetricSummary {
	return MetricSummary{
		Samples: s.count,
		Min:     s.Min(),
		Max:     s.Max(),
		Mean:    s.Mean(),
		StdDev:  s.StdDev(),
	}
}
