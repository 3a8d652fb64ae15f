package posture

import "time"

// Position is the per-frame position verdict.
type Position string

const (
	PositionStanding Position = "standing"
	PositionSitting  Position = "sitting"
	PositionAbsent   Position = "absent"
)

// Metric identifies one tracked posture metric.
type Metric string

const (
	MetricHeadPitch     Metric = "head_pitch"
	MetricHeadYaw       Metric = "head_yaw"
	MetricHeadRoll      Metric = "head_roll"
	MetricTrunkPitch    Metric = "trunk_pitch"
	MetricTrunkRoll     Metric = "trunk_roll"
	MetricElevationMean Metric = "elevation_mean"
	MetricElevationAsym Metric = "elevation_asym"
)

// Metrics returns all tracked metrics in canonical order.
func Metrics() []Metric {
	return []Metric{
		MetricHeadPitch, MetricHeadYaw, MetricHeadRoll,
		MetricTrunkPitch, MetricTrunkRoll,
		MetricElevationMean, MetricElevationAsym,
	}
}

// Alert identifies one bad-posture alert latch.
type Alert string

const (
	AlertHeadPitch     Alert = "head_pitch"
	AlertHeadYaw       Alert = "head_yaw"
	AlertHeadRoll      Alert = "head_roll"
	AlertHeadExtension Alert = "head_extension"
	AlertTrunkPitch    Alert = "trunk_pitch"
	AlertTrunkRoll     Alert = "trunk_roll"
	AlertElevationMean Alert = "elevation_mean"
	AlertElevationAsym Alert = "elevation_asym"
)

// Alerts returns all alert kinds in canonical order.
func Alerts() []Alert {
	return []Alert{
		AlertHeadPitch, AlertHeadYaw, AlertHeadRoll, AlertHeadExtension,
		AlertTrunkPitch, AlertTrunkRoll,
		AlertElevationMean, AlertElevationAsym,
	}
}

// MetricSet holds one value per tracked metric. Angles are degrees; the
// elevation metrics are shoulder-width normalised and dimensionless.
type MetricSet struct {
	HeadPitch     float64 `json:"head_pitch"`
	HeadYaw       float64 `json:"head_yaw"`
	HeadRoll      float64 `json:"head_roll"`
	TrunkPitch    float64 `json:"trunk_pitch"`
	TrunkRoll     float64 `json:"trunk_roll"`
	ElevationMean float64 `json:"elevation_mean"`
	ElevationAsym float64 `json:"elevation_asym"`
}

// Value returns the value for the given metric.
func (m MetricSet) Value(metric Metric) float64 {
	switch metric {
	case MetricHeadPitch:
		return m.HeadPitch
	case MetricHeadYaw:
		return m.HeadYaw
	case MetricHeadRoll:
		return m.HeadRoll
	case MetricTrunkPitch:
		return m.TrunkPitch
	case MetricTrunkRoll:
		return m.TrunkRoll
	case MetricElevationMean:
		return m.ElevationMean
	case MetricElevationAsym:
		return m.ElevationAsym
	}
	return 0
}

// Reading is the per-frame classifier output handed to the telemetry
// aggregator and the live push layer.
type Reading struct {
	FrameNumber int64     `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	Position    Position  `json:"position"`

	// Raw holds the unfiltered geometry metrics, Filtered the smoothed ones,
	// Diff the baseline-relative differences of the filtered values.
	Raw      MetricSet `json:"raw"`
	Filtered MetricSet `json:"filtered"`
	Diff     MetricSet `json:"diff"`

	ShoulderWidth float64 `json:"shoulder_width"`
	TrunkValid    bool    `json:"trunk_valid"`

	// Alerts is the active alert set, canonical order. Empty unless the
	// subject is standing.
	Alerts []Alert `json:"alerts,omitempty"`
}

// HasAlert reports whether the given alert is active in this reading.
func (r *Reading) HasAlert(a Alert) bool {
	for _, got := range r.Alerts {
		if got == a {
			return true
		}
	}
	return false
}
