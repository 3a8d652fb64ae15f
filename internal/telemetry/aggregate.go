// Package telemetry batches per-frame readings for storage and keeps running
// session statistics that are rolled up into a final aggregate.
package telemetry

import (
	"time"

	"github.com/upright-data/posture.report/internal/posture"
)

// BatchWriter persists reading batches and the final session aggregate.
// internal/store implements this against SQLite.
type BatchWriter interface {
	// WriteReadings persists one batch of readings for the session.
	// Batches for a single session arrive in FIFO order.
	WriteReadings(sessionID string, readings []posture.Reading) error

	// WriteAggregate persists the final session aggregate.
	WriteAggregate(agg *SessionAggregate) error
}

// PositionStat summarises time spent in one position verdict.
type PositionStat struct {
	Frames   int64         `json:"frames"`
	Duration time.Duration `json:"duration"`
	Percent  float64       `json:"percent"`
}

// MetricSummary is the rolled-up statistics for one metric over a session.
type MetricSummary struct {
	Samples int64   `json:"samples"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
}

// SessionAggregate is the final rollup for one monitoring session.
type SessionAggregate struct {
	SessionID string    `json:"session_id"`
	User      string    `json:"user"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// FrameInterval is the nominal frame spacing used to convert frame
	// counts into durations.
	FrameInterval time.Duration `json:"frame_interval"`
	TotalFrames   int64         `json:"total_frames"`

	Positions map[posture.Position]PositionStat `json:"positions"`

	// MaxStandingStreak is the longest unbroken run of standing frames,
	// expressed as a duration at the nominal frame interval.
	MaxStandingStreak time.Duration `json:"max_standing_streak"`

	// AlertActivations counts distinct off-to-on transitions per alert;
	// AlertFrames counts frames on which the alert was active.
	AlertActivations map[posture.Alert]int64 `json:"alert_activations"`
	AlertFrames      map[posture.Alert]int64 `json:"alert_frames"`

	// AlertsPerMinute is the total activation count normalised by session
	// frame time.
	AlertsPerMinute float64 `json:"alerts_per_minute"`

	// Metrics summarises the filtered metric values over non-absent frames.
	Metrics map[posture.Metric]MetricSummary `json:"metrics"`

	// BadPostureSpells counts sustained periods with at least one alert
	// active; BadPostureFrames counts frames inside such a period.
	BadPostureSpells int64 `json:"bad_posture_spells"`
	BadPostureFrames int64 `json:"bad_posture_frames"`

	// Warnings records non-fatal problems, such as reading batches that
	// could not be persisted.
	Warnings []string `json:"warnings,omitempty"`
}
