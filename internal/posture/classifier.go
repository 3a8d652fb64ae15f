package posture

import (
	"fmt"
	"math"

	"github.com/upright-data/posture.report/internal/geom"
	"github.com/upright-data/posture.report/internal/signal"
)

// ClassifierConfig holds the tuning parameters for per-frame classification.
// All latch configurations are range-validated at construction.
type ClassifierConfig struct {
	// Alpha is the EMA smoothing coefficient shared by the EMA-filtered
	// metrics, in (0, 1].
	Alpha float64
	// MedianWindow is the window size of the median-filtered metrics
	// (head yaw, trunk pitch).
	MedianWindow int
	// ChestRatio and MinConfidence configure the geometry engine.
	ChestRatio    float64
	MinConfidence float64

	// YawGateDeg disables pitch- and elevation-based alerts while the head
	// yaw diff exceeds this bound, since those metrics are unreliable when
	// the subject looks sideways.
	YawGateDeg float64

	// ShoulderDropThreshold and ChestAdvanceThreshold feed the sitting
	// composite: both must be exceeded for a frame to count as sitting
	// evidence. Drop is width-normalised, advance is metres.
	ShoulderDropThreshold float64
	ChestAdvanceThreshold float64

	// Per-metric alert latches.
	HeadPitchLatch     signal.LatchConfig
	HeadYawLatch       signal.LatchConfig
	HeadRollLatch      signal.LatchConfig
	HeadExtensionLatch signal.LatchConfig
	TrunkPitchLatch    signal.LatchConfig
	TrunkRollLatch     signal.LatchConfig
	ElevationMeanLatch signal.LatchConfig
	ElevationAsymLatch signal.LatchConfig

	// PositionLatch debounces the sitting composite score.
	PositionLatch signal.LatchConfig
}

// DefaultClassifierConfig returns the classifier defaults for a ~30 Hz
// session.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Alpha:         0.25,
		MedianWindow:  5,
		ChestRatio:    0.40,
		MinConfidence: 0.5,

		YawGateDeg: 10,

		ShoulderDropThreshold: 0.15,
		ChestAdvanceThreshold: 0.09,

		HeadPitchLatch:     signal.LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 10},
		HeadYawLatch:       signal.LatchConfig{OnThreshold: 10, OffRatio: 0.90, MinFramesOn: 10},
		HeadRollLatch:      signal.LatchConfig{OnThreshold: 5, OffRatio: 0.90, MinFramesOn: 10},
		HeadExtensionLatch: signal.LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 10},
		TrunkPitchLatch:    signal.LatchConfig{OnThreshold: 5, OffRatio: 0.75, MinFramesOn: 10},
		TrunkRollLatch:     signal.LatchConfig{OnThreshold: 5, OffRatio: 0.75, MinFramesOn: 10},
		ElevationMeanLatch: signal.LatchConfig{OnThreshold: 0.03, OffRatio: 0.90, MinFramesOn: 10},
		ElevationAsymLatch: signal.LatchConfig{OnThreshold: 0.05, OffRatio: 0.90, MinFramesOn: 10},

		PositionLatch: signal.LatchConfig{OnThreshold: 1, OffRatio: 0.5, MinFramesOn: 24},
	}
}

// Validate checks the non-latch parameter ranges. Latch configurations are
// validated by their own constructors.
func (c ClassifierConfig) Validate() error {
	if c.YawGateDeg <= 0 {
		return fmt.Errorf("posture: yaw gate must be > 0, got %v", c.YawGateDeg)
	}
	if c.ShoulderDropThreshold <= 0 {
		return fmt.Errorf("posture: shoulder drop threshold must be > 0, got %v", c.ShoulderDropThreshold)
	}
	if c.ChestAdvanceThreshold <= 0 {
		return fmt.Errorf("posture: chest advance threshold must be > 0, got %v", c.ChestAdvanceThreshold)
	}
	return nil
}

// Classifier produces one Reading per landmark frame: baseline-relative
// filtered metrics, a debounced standing/sitting/absent verdict and the
// active alert set. It owns mutable per-session state (filters and latches)
// and must not be shared across goroutines.
type Classifier struct {
	cfg      ClassifierConfig
	baseline *Baseline
	engine   *geom.Engine

	emaHeadPitch  *signal.EMA
	medHeadYaw    *signal.MedianFilter
	emaHeadRoll   *signal.EMA
	medTrunkPitch *signal.MedianFilter
	emaTrunkRoll  *signal.EMA
	emaElevMean   *signal.EMA
	emaElevAsym   *signal.EMA

	emaDrop  *signal.EMA
	emaChest *signal.EMA

	alertLatches map[Alert]*signal.Latch
	posLatch     *signal.Latch

	trunkPrimed bool
	lastTrunk   struct{ pitch, roll float64 }
}

// NewClassifier builds a classifier for one session against an immutable
// baseline. Invalid configuration is rejected here, before any frame is
// processed.
func NewClassifier(baseline *Baseline, cfg ClassifierConfig) (*Classifier, error) {
	if err := baseline.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engineCfg := geom.EngineConfig{
		Up:            baseline.Up,
		ChestRatio:    cfg.ChestRatio,
		MinConfidence: cfg.MinConfidence,
	}
	engine, err := geom.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	c := &Classifier{
		cfg:          cfg,
		baseline:     baseline,
		engine:       engine,
		alertLatches: make(map[Alert]*signal.Latch, 8),
	}

	for _, f := range []struct {
		dst  **signal.EMA
		name string
	}{
		{&c.emaHeadPitch, "head pitch"},
		{&c.emaHeadRoll, "head roll"},
		{&c.emaTrunkRoll, "trunk roll"},
		{&c.emaElevMean, "elevation mean"},
		{&c.emaElevAsym, "elevation asym"},
		{&c.emaDrop, "shoulder drop"},
		{&c.emaChest, "chest advance"},
	} {
		ema, err := signal.NewEMA(cfg.Alpha)
		if err != nil {
			return nil, fmt.Errorf("posture: %s filter: %w", f.name, err)
		}
		*f.dst = ema
	}
	if c.medHeadYaw, err = signal.NewMedianFilter(cfg.MedianWindow); err != nil {
		return nil, fmt.Errorf("posture: head yaw filter: %w", err)
	}
	if c.medTrunkPitch, err = signal.NewMedianFilter(cfg.MedianWindow); err != nil {
		return nil, fmt.Errorf("posture: trunk pitch filter: %w", err)
	}

	for _, l := range []struct {
		alert Alert
		cfg   signal.LatchConfig
	}{
		{AlertHeadPitch, cfg.HeadPitchLatch},
		{AlertHeadYaw, cfg.HeadYawLatch},
		{AlertHeadRoll, cfg.HeadRollLatch},
		{AlertHeadExtension, cfg.HeadExtensionLatch},
		{AlertTrunkPitch, cfg.TrunkPitchLatch},
		{AlertTrunkRoll, cfg.TrunkRollLatch},
		{AlertElevationMean, cfg.ElevationMeanLatch},
		{AlertElevationAsym, cfg.ElevationAsymLatch},
	} {
		latch, err := signal.NewLatch(l.cfg)
		if err != nil {
			return nil, fmt.Errorf("posture: %s latch: %w", l.alert, err)
		}
		c.alertLatches[l.alert] = latch
	}
	if c.posLatch, err = signal.NewLatch(cfg.PositionLatch); err != nil {
		return nil, fmt.Errorf("posture: position latch: %w", err)
	}

	return c, nil
}

// Baseline returns the immutable baseline this classifier analyses against.
func (c *Classifier) Baseline() *Baseline { return c.baseline }

// Step processes one landmark frame and returns its Reading. Frames with an
// unusable basis or insufficient landmark confidence yield PositionAbsent
// with every latch frozen: absence neither counts as good posture nor fires
// stale-data alerts.
func (c *Classifier) Step(s *geom.Sample) Reading {
	reading := Reading{
		FrameNumber: s.FrameNumber,
		Timestamp:   s.Timestamp,
	}

	m, err := c.engine.Resolve(s)
	if err != nil {
		reading.Position = PositionAbsent
		return reading
	}

	width := m.ShoulderWidth
	b := c.baseline

	raw := MetricSet{
		HeadPitch:     m.HeadPitch,
		HeadYaw:       m.HeadYaw,
		HeadRoll:      m.HeadRoll,
		ElevationMean: (b.ShoulderElevation - m.ShoulderElevation) / width,
		ElevationAsym: m.ElevationAsym,
	}

	filtered := MetricSet{
		HeadPitch:     c.emaHeadPitch.Update(raw.HeadPitch),
		HeadYaw:       c.medHeadYaw.Update(raw.HeadYaw),
		HeadRoll:      c.emaHeadRoll.Update(raw.HeadRoll),
		ElevationMean: c.emaElevMean.Update(raw.ElevationMean),
		ElevationAsym: c.emaElevAsym.Update(raw.ElevationAsym),
	}

	if m.TrunkValid {
		raw.TrunkPitch = m.TrunkPitch
		raw.TrunkRoll = m.TrunkRoll
		filtered.TrunkPitch = c.medTrunkPitch.Update(raw.TrunkPitch)
		filtered.TrunkRoll = c.emaTrunkRoll.Update(raw.TrunkRoll)
		c.lastTrunk.pitch = filtered.TrunkPitch
		c.lastTrunk.roll = filtered.TrunkRoll
		c.trunkPrimed = true
	} else if c.trunkPrimed {
		// Hips lost this frame: carry the last filtered trunk values so the
		// stored series stays continuous, but do not advance trunk latches.
		raw.TrunkPitch = c.lastTrunk.pitch
		raw.TrunkRoll = c.lastTrunk.roll
		filtered.TrunkPitch = c.lastTrunk.pitch
		filtered.TrunkRoll = c.lastTrunk.roll
	}

	diff := MetricSet{
		HeadPitch:     geom.AngularDiff(filtered.HeadPitch, b.HeadPitch),
		HeadYaw:       geom.AngularDiff(filtered.HeadYaw, b.HeadYaw),
		HeadRoll:      geom.AngularDiff(filtered.HeadRoll, b.HeadRoll),
		TrunkPitch:    geom.AngularDiff(filtered.TrunkPitch, b.TrunkPitch),
		TrunkRoll:     geom.AngularDiff(filtered.TrunkRoll, b.TrunkRoll),
		ElevationMean: filtered.ElevationMean,
		ElevationAsym: filtered.ElevationAsym,
	}

	reading.Raw = raw
	reading.Filtered = filtered
	reading.Diff = diff
	reading.ShoulderWidth = width
	reading.TrunkValid = m.TrunkValid

	// Sitting composite: shoulders dropped below baseline AND chest advanced
	// toward the camera, each smoothed and jointly debounced.
	drop := c.emaDrop.Update((m.ShoulderElevation - b.ShoulderElevation) / width)
	var advance float64
	if b.ChestDepth != 0 {
		advance = m.ChestDepth - b.ChestDepth
	}
	advance = c.emaChest.Update(advance)

	evidence := 0.0
	if drop > c.cfg.ShoulderDropThreshold && advance > c.cfg.ChestAdvanceThreshold {
		evidence = 1.0
	}
	if c.posLatch.Update(evidence) {
		reading.Position = PositionSitting
		// Alerts only apply while standing; sitting clears pending state so
		// stale counters cannot fire on the next stand.
		for _, latch := range c.alertLatches {
			latch.Reset()
		}
		return reading
	}
	reading.Position = PositionStanding

	armsUp := s.ArmsRaised(c.cfg.MinConfidence)
	yawGateOK := math.Abs(diff.HeadYaw) < c.cfg.YawGateDeg
	pitchGateOK := math.Abs(diff.HeadPitch) <= c.cfg.HeadPitchLatch.OnThreshold

	c.alertLatches[AlertHeadPitch].UpdateGated(math.Abs(diff.HeadPitch), yawGateOK && !armsUp)
	c.alertLatches[AlertHeadYaw].UpdateGated(math.Abs(diff.HeadYaw), !armsUp)
	c.alertLatches[AlertHeadRoll].UpdateGated(math.Abs(diff.HeadRoll), !armsUp)
	c.alertLatches[AlertHeadExtension].UpdateGated(-diff.HeadPitch, yawGateOK && !armsUp)
	c.alertLatches[AlertElevationMean].UpdateGated(filtered.ElevationMean, yawGateOK && !armsUp)
	c.alertLatches[AlertElevationAsym].UpdateGated(math.Abs(filtered.ElevationAsym), pitchGateOK && yawGateOK && !armsUp)
	if m.TrunkValid {
		c.alertLatches[AlertTrunkPitch].UpdateGated(math.Abs(diff.TrunkPitch), yawGateOK && !armsUp)
		c.alertLatches[AlertTrunkRoll].UpdateGated(math.Abs(diff.TrunkRoll), !armsUp)
	}

	for _, a := range Alerts() {
		if c.alertLatches[a].Active() {
			reading.Alerts = append(reading.Alerts, a)
		}
	}
	return reading
}
