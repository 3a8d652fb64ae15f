// Package config loads user tuning overrides from a JSON file. All fields
// are optional pointers: anything omitted keeps the built-in defaults, so a
// partial config file is safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/signal"
	"github.com/upright-data/posture.report/internal/telemetry"
)

// LatchTuning overrides one alert latch. Omitted fields keep the default.
type LatchTuning struct {
	OnThreshold *float64 `json:"on_threshold,omitempty"`
	OffRatio    *float64 `json:"off_ratio,omitempty"`
	MinFrames   *int     `json:"min_frames,omitempty"`
}

// TuningConfig is the root of the tuning JSON file. The zero value applies
// no overrides.
type TuningConfig struct {
	// Filter params
	EMAAlpha     *float64 `json:"ema_alpha,omitempty"`
	MedianWindow *int     `json:"median_window,omitempty"`

	// Geometry params
	ChestRatio    *float64 `json:"chest_ratio,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Gating and sitting composite params
	YawGateDeg            *float64 `json:"yaw_gate_deg,omitempty"`
	ShoulderDropThreshold *float64 `json:"shoulder_drop_threshold,omitempty"`
	ChestAdvanceThreshold *float64 `json:"chest_advance_threshold,omitempty"`

	// Per-alert latch overrides
	HeadPitch     *LatchTuning `json:"head_pitch,omitempty"`
	HeadYaw       *LatchTuning `json:"head_yaw,omitempty"`
	HeadRoll      *LatchTuning `json:"head_roll,omitempty"`
	HeadExtension *LatchTuning `json:"head_extension,omitempty"`
	TrunkPitch    *LatchTuning `json:"trunk_pitch,omitempty"`
	TrunkRoll     *LatchTuning `json:"trunk_roll,omitempty"`
	ElevationMean *LatchTuning `json:"elevation_mean,omitempty"`
	ElevationAsym *LatchTuning `json:"elevation_asym,omitempty"`
	Position      *LatchTuning `json:"position,omitempty"`
	BadPosture    *LatchTuning `json:"bad_posture,omitempty"`

	// Calibration params
	UpSamples       *int `json:"up_samples,omitempty"`
	BaselineSamples *int `json:"baseline_samples,omitempty"`
	MinValidFrames  *int `json:"min_valid_frames,omitempty"`

	// Capture and telemetry params
	SampleRate   *float64 `json:"sample_rate,omitempty"`
	RingCapacity *int     `json:"ring_capacity,omitempty"`
	FlushRetries *int     `json:"flush_retries,omitempty"`
	RetryBackoff *string  `json:"retry_backoff,omitempty"` // duration string like "250ms"
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads tuning overrides from a JSON file. The file must
// have a .json extension and stay under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks set fields for sane ranges. Cross-field consistency is
// checked again when the derived configs are constructed.
func (c *TuningConfig) Validate() error {
	if c.EMAAlpha != nil && (*c.EMAAlpha <= 0 || *c.EMAAlpha > 1) {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %f", *c.EMAAlpha)
	}
	if c.MedianWindow != nil && *c.MedianWindow < 1 {
		return fmt.Errorf("median_window must be >= 1, got %d", *c.MedianWindow)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}
	if c.RingCapacity != nil && *c.RingCapacity < 1 {
		return fmt.Errorf("ring_capacity must be >= 1, got %d", *c.RingCapacity)
	}
	if c.FlushRetries != nil && *c.FlushRetries < 0 {
		return fmt.Errorf("flush_retries must be non-negative, got %d", *c.FlushRetries)
	}
	if c.RetryBackoff != nil && *c.RetryBackoff != "" {
		if _, err := time.ParseDuration(*c.RetryBackoff); err != nil {
			return fmt.Errorf("invalid retry_backoff '%s': %w", *c.RetryBackoff, err)
		}
	}
	return nil
}

// GetSampleRate returns the capture rate, Hz.
func (c *TuningConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 30
	}
	return *c.SampleRate
}

// GetRetryBackoff parses and returns the retry backoff duration.
func (c *TuningConfig) GetRetryBackoff() time.Duration {
	if c.RetryBackoff == nil || *c.RetryBackoff == "" {
		return telemetry.DefaultRetryBackoff
	}
	d, err := time.ParseDuration(*c.RetryBackoff)
	if err != nil {
		return telemetry.DefaultRetryBackoff
	}
	return d
}

// ClassifierConfig merges the overrides onto the classifier defaults.
func (c *TuningConfig) ClassifierConfig() posture.ClassifierConfig {
	out := posture.DefaultClassifierConfig()
	if c.EMAAlpha != nil {
		out.Alpha = *c.EMAAlpha
	}
	if c.MedianWindow != nil {
		out.MedianWindow = *c.MedianWindow
	}
	if c.ChestRatio != nil {
		out.ChestRatio = *c.ChestRatio
	}
	if c.MinConfidence != nil {
		out.MinConfidence = *c.MinConfidence
	}
	if c.YawGateDeg != nil {
		out.YawGateDeg = *c.YawGateDeg
	}
	if c.ShoulderDropThreshold != nil {
		out.ShoulderDropThreshold = *c.ShoulderDropThreshold
	}
	if c.ChestAdvanceThreshold != nil {
		out.ChestAdvanceThreshold = *c.ChestAdvanceThreshold
	}

	applyLatch(&out.HeadPitchLatch, c.HeadPitch)
	applyLatch(&out.HeadYawLatch, c.HeadYaw)
	applyLatch(&out.HeadRollLatch, c.HeadRoll)
	applyLatch(&out.HeadExtensionLatch, c.HeadExtension)
	applyLatch(&out.TrunkPitchLatch, c.TrunkPitch)
	applyLatch(&out.TrunkRollLatch, c.TrunkRoll)
	applyLatch(&out.ElevationMeanLatch, c.ElevationMean)
	applyLatch(&out.ElevationAsymLatch, c.ElevationAsym)
	applyLatch(&out.PositionLatch, c.Position)
	return out
}

// CalibratorConfig merges the overrides onto the calibration defaults.
func (c *TuningConfig) CalibratorConfig() posture.CalibratorConfig {
	out := posture.DefaultCalibratorConfig()
	if c.UpSamples != nil {
		out.UpSamples = *c.UpSamples
	}
	if c.BaselineSamples != nil {
		out.BaselineSamples = *c.BaselineSamples
	}
	if c.MinValidFrames != nil {
		out.MinValidFrames = *c.MinValidFrames
	}
	out.SampleRate = c.GetSampleRate()
	if c.ChestRatio != nil {
		out.ChestRatio = *c.ChestRatio
	}
	if c.MinConfidence != nil {
		out.MinConfidence = *c.MinConfidence
	}
	return out
}

// TelemetryConfig merges the overrides onto the aggregator defaults for one
// session.
func (c *TuningConfig) TelemetryConfig(sessionID, user string) telemetry.Config {
	out := telemetry.DefaultConfig(sessionID, user)
	if c.RingCapacity != nil {
		out.Capacity = *c.RingCapacity
	}
	out.FrameInterval = time.Duration(float64(time.Second) / c.GetSampleRate())
	if c.FlushRetries != nil {
		out.FlushRetries = *c.FlushRetries
	}
	out.RetryBackoff = c.GetRetryBackoff()
	applyLatch(&out.BadPosture, c.BadPosture)
	return out
}

func applyLatch(dst *signal.LatchConfig, t *LatchTuning) {
	if t == nil {
		return
	}
	if t.OnThreshold != nil {
		dst.OnThreshold = *t.OnThreshold
	}
	if t.OffRatio != nil {
		dst.OffRatio = *t.OffRatio
	}
	if t.MinFrames != nil {
		dst.MinFramesOn = *t.MinFrames
	}
}
