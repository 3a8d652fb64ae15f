// Package signal provides the smoothing and debounce primitives used by the
// posture pipeline: exponential and median filters for per-frame metric
// streams, and a hysteresis latch for alert decisioning.
package signal

import (
	"fmt"
	"sort"
)

// EMA is a single-pole exponential smoothing filter. The first sample passes
// through unchanged so the filter carries no warm-up bias.
type EMA struct {
	alpha  float64
	value  float64
	primed bool
}

// NewEMA returns an EMA filter with the given smoothing coefficient.
// Alpha must be in (0, 1]; an alpha of 1 disables smoothing.
func NewEMA(alpha float64) (*EMA, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("ema alpha must be in (0, 1], got %v", alpha)
	}
	return &EMA{alpha: alpha}, nil
}

// Update feeds one sample and returns the smoothed output.
func (f *EMA) Update(x float64) float64 {
	if !f.primed {
		f.value = x
		f.primed = true
		return f.value
	}
	f.value = f.alpha*x + (1-f.alpha)*f.value
	return f.value
}

// Value returns the most recent output. It is zero before the first Update.
func (f *EMA) Value() float64 { return f.value }

// Reset clears the filter state so the next sample passes through unchanged.
func (f *EMA) Reset() {
	f.value = 0
	f.primed = false
}

// MedianFilter keeps a sliding window of the most recent raw samples and
// outputs the window median. Before the window fills it operates on whatever
// has been collected so far.
type MedianFilter struct {
	window []float64
	size   int
}

// NewMedianFilter returns a median filter with the given window size.
func NewMedianFilter(size int) (*MedianFilter, error) {
	if size < 1 {
		return nil, fmt.Errorf("median window size must be >= 1, got %d", size)
	}
	return &MedianFilter{window: make([]float64, 0, size), size: size}, nil
}

// Update pushes one raw sample, evicting the oldest once the window is full,
// and returns the current median. Even-sized windows resolve to the average
// of the two middle values.
func (f *MedianFilter) Update(x float64) float64 {
	if len(f.window) == f.size {
		copy(f.window, f.window[1:])
		f.window = f.window[:f.size-1]
	}
	f.window = append(f.window, x)

	sorted := make([]float64, len(f.window))
	copy(sorted, f.window)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Len returns the number of samples currently in the window.
func (f *MedianFilter) Len() int { return len(f.window) }

// Reset discards the collected window.
func (f *MedianFilter) Reset() {
	f.window = f.window[:0]
}
