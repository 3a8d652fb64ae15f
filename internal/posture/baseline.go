// Package posture turns body-frame geometry into calibrated posture verdicts:
// a per-user baseline captured during neutral-posture calibration, and a
// per-frame classifier that produces baseline-relative metrics, a position
// state and a debounced alert set.
package posture

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Baseline is the per-user neutral-posture reference captured by the
// Calibrator. It is immutable once saved; recalibration produces a fresh
// Baseline that supersedes the previous one.
type Baseline struct {
	ID   string `json:"id"`
	User string `json:"user"`

	// Mean angles during neutral posture, degrees.
	HeadPitch  float64 `json:"head_pitch"`
	HeadYaw    float64 `json:"head_yaw"`
	HeadRoll   float64 `json:"head_roll"`
	TrunkPitch float64 `json:"trunk_pitch"`
	TrunkRoll  float64 `json:"trunk_roll"`

	// Proxies in camera coordinates, metres.
	ShoulderElevation float64 `json:"shoulder_elevation"`
	ShoulderWidth     float64 `json:"shoulder_width"`
	ChestDepth        float64 `json:"chest_depth"`

	// Up is the estimated up-vector reused for analysis.
	Up r3.Vec `json:"up"`

	// SampleRate is the capture frame rate the baseline was taken at, Hz.
	SampleRate float64 `json:"sample_rate"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the baseline is usable for analysis.
func (b *Baseline) Validate() error {
	if b.User == "" {
		return errors.New("posture: baseline user must not be empty")
	}
	if r3.Norm(b.Up) == 0 {
		return errors.New("posture: baseline up-vector must be non-zero")
	}
	if b.ShoulderWidth <= 0 {
		return errors.New("posture: baseline shoulder width must be > 0")
	}
	if b.SampleRate <= 0 {
		return errors.New("posture: baseline sample rate must be > 0")
	}
	return nil
}
