package posture

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/upright-data/posture.report/internal/geom"
)

// Calibration failure kinds. Both leave no Baseline behind; the caller
// retries the capture.
var (
	// ErrInsufficientSamples means fewer valid frames were captured than the
	// configured minimum.
	ErrInsufficientSamples = errors.New("posture: insufficient valid calibration samples")

	// ErrNoValidFrames means the majority of the capture window had invalid
	// geometry or no detection.
	ErrNoValidFrames = errors.New("posture: calibration window had no usable landmarks")
)

// CalibrationPhase identifies the stage of the two-phase capture.
type CalibrationPhase string

const (
	// PhaseUpVector estimates the subject's up-vector from the trunk axis.
	PhaseUpVector CalibrationPhase = "up_vector"
	// PhaseBaseline collects neutral-posture metric means using that vector.
	PhaseBaseline CalibrationPhase = "baseline"
	// PhaseDone means the full window has been captured.
	PhaseDone CalibrationPhase = "done"
)

// CalibratorConfig holds the capture-window parameters.
type CalibratorConfig struct {
	// UpSamples is the number of valid frames used to estimate the up-vector.
	UpSamples int
	// BaselineSamples is the number of valid frames used for metric means.
	BaselineSamples int
	// MinValidFrames is the minimum total of valid frames for a usable
	// result; below it calibration fails with ErrInsufficientSamples.
	MinValidFrames int
	// SampleRate is the nominal capture rate, Hz; recorded on the Baseline.
	SampleRate float64
	// ChestRatio and MinConfidence configure the phase-two geometry engine.
	ChestRatio    float64
	MinConfidence float64
}

// DefaultCalibratorConfig returns the capture defaults: one second of
// up-vector estimation and three seconds of baseline collection at 30 Hz.
func DefaultCalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		UpSamples:       30,
		BaselineSamples: 90,
		MinValidFrames:  60,
		SampleRate:      30,
		ChestRatio:      0.40,
		MinConfidence:   0.5,
	}
}

// Validate checks the configuration ranges.
func (c CalibratorConfig) Validate() error {
	if c.UpSamples < 1 {
		return fmt.Errorf("posture: up samples must be >= 1, got %d", c.UpSamples)
	}
	if c.BaselineSamples < 1 {
		return fmt.Errorf("posture: baseline samples must be >= 1, got %d", c.BaselineSamples)
	}
	if c.MinValidFrames < 1 || c.MinValidFrames > c.UpSamples+c.BaselineSamples {
		return fmt.Errorf("posture: min valid frames must be in [1, %d], got %d",
			c.UpSamples+c.BaselineSamples, c.MinValidFrames)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("posture: sample rate must be > 0, got %v", c.SampleRate)
	}
	return nil
}

// Progress reports capture progress after each observed frame.
type Progress struct {
	Phase     CalibrationPhase
	Collected int // valid frames collected across both phases
	Target    int // total valid frames required
	Invalid   int // frames discarded for bad geometry or low confidence
}

// Calibrator captures a fresh per-user Baseline over a fixed window while
// the subject holds a neutral posture. Phase one estimates the up-vector
// from the hip-to-shoulder trunk axis; phase two collects metric means and
// medians with that vector. Owned by a single goroutine.
type Calibrator struct {
	cfg  CalibratorConfig
	user string

	phase   CalibrationPhase
	invalid int

	// Phase one accumulators.
	trunkSum    r3.Vec
	shoulderSum r3.Vec
	upCount     int

	up     r3.Vec
	engine *geom.Engine

	// Phase two accumulators.
	headPitch  angleMean
	headYaw    angleMean
	headRoll   angleMean
	trunkPitch angleMean
	trunkRoll  angleMean
	elevations []float64
	widths     []float64
	chestZs    []float64
	baseCount  int
}

// NewCalibrator starts a calibration capture for the given user.
func NewCalibrator(user string, cfg CalibratorConfig) (*Calibrator, error) {
	if user == "" {
		return nil, errors.New("posture: calibration user must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{
		cfg:        cfg,
		user:       user,
		phase:      PhaseUpVector,
		elevations: make([]float64, 0, cfg.BaselineSamples),
		widths:     make([]float64, 0, cfg.BaselineSamples),
		chestZs:    make([]float64, 0, cfg.BaselineSamples),
	}, nil
}

// Observe feeds one landmark frame. Invalid frames (no detection, low
// confidence, degenerate geometry) are counted and skipped; the capture
// keeps going.
func (c *Calibrator) Observe(s *geom.Sample) Progress {
	switch c.phase {
	case PhaseUpVector:
		c.observeUpVector(s)
	case PhaseBaseline:
		c.observeBaseline(s)
	}
	return c.progress()
}

// Phase returns the current capture phase.
func (c *Calibrator) Phase() CalibrationPhase { return c.phase }

// Done reports whether the full capture window has been collected.
func (c *Calibrator) Done() bool { return c.phase == PhaseDone }

func (c *Calibrator) progress() Progress {
	return Progress{
		Phase:     c.phase,
		Collected: c.upCount + c.baseCount,
		Target:    c.cfg.UpSamples + c.cfg.BaselineSamples,
		Invalid:   c.invalid,
	}
}

func (c *Calibrator) observeUpVector(s *geom.Sample) {
	min := c.cfg.MinConfidence
	if s.NoDetection ||
		!s.Confident(geom.LeftShoulder, min) || !s.Confident(geom.RightShoulder, min) ||
		!s.Confident(geom.LeftHip, min) || !s.Confident(geom.RightHip, min) {
		c.invalid++
		return
	}

	ls := s.Joints[geom.LeftShoulder].Pos
	rs := s.Joints[geom.RightShoulder].Pos
	midShoulder := r3.Scale(0.5, r3.Add(ls, rs))
	midHip := r3.Scale(0.5, r3.Add(s.Joints[geom.LeftHip].Pos, s.Joints[geom.RightHip].Pos))

	trunk := r3.Sub(midShoulder, midHip)
	shoulder := r3.Sub(rs, ls)
	if r3.Norm(trunk) < 1e-6 || r3.Norm(shoulder) < 1e-6 {
		c.invalid++
		return
	}

	c.trunkSum = r3.Add(c.trunkSum, r3.Unit(trunk))
	c.shoulderSum = r3.Add(c.shoulderSum, r3.Unit(shoulder))
	c.upCount++

	if c.upCount >= c.cfg.UpSamples {
		c.finishUpVector()
	}
}

// finishUpVector averages the accumulated axes and orthogonalises the trunk
// mean against the shoulder mean; the result is the subject's up-vector.
func (c *Calibrator) finishUpVector() {
	trunkMean := r3.Unit(c.trunkSum)
	shoulderMean := r3.Unit(c.shoulderSum)

	up := r3.Sub(trunkMean, r3.Scale(r3.Dot(trunkMean, shoulderMean), shoulderMean))
	if r3.Norm(up) < 1e-6 {
		// Trunk collinear with the shoulder axis across the whole phase;
		// treat the phase as unusable and restart it.
		c.invalid += c.upCount
		c.upCount = 0
		c.trunkSum = r3.Vec{}
		c.shoulderSum = r3.Vec{}
		return
	}
	c.up = r3.Unit(up)

	engine, err := geom.NewEngine(geom.EngineConfig{
		Up:            c.up,
		ChestRatio:    c.cfg.ChestRatio,
		MinConfidence: c.cfg.MinConfidence,
	})
	if err != nil {
		// Only reachable with a degenerate up estimate; restart phase one.
		c.invalid += c.upCount
		c.upCount = 0
		c.trunkSum = r3.Vec{}
		c.shoulderSum = r3.Vec{}
		return
	}
	c.engine = engine
	c.phase = PhaseBaseline
}

func (c *Calibrator) observeBaseline(s *geom.Sample) {
	m, err := c.engine.Resolve(s)
	if err != nil {
		c.invalid++
		return
	}

	c.headPitch.add(m.HeadPitch)
	c.headYaw.add(m.HeadYaw)
	c.headRoll.add(m.HeadRoll)
	if m.TrunkValid {
		c.trunkPitch.add(m.TrunkPitch)
		c.trunkRoll.add(m.TrunkRoll)
	}
	c.elevations = append(c.elevations, m.ShoulderElevation)
	c.widths = append(c.widths, m.ShoulderWidth)
	c.chestZs = append(c.chestZs, m.ChestDepth)
	c.baseCount++

	if c.baseCount >= c.cfg.BaselineSamples {
		c.phase = PhaseDone
	}
}

// Result seals the capture and returns the new Baseline. It fails with
// ErrNoValidFrames when the majority of observed frames were unusable, and
// with ErrInsufficientSamples when the window ended short of the configured
// minimum of valid frames.
func (c *Calibrator) Result() (*Baseline, error) {
	valid := c.upCount + c.baseCount
	if c.phase != PhaseDone {
		if c.invalid > valid {
			return nil, ErrNoValidFrames
		}
		return nil, ErrInsufficientSamples
	}
	if valid < c.cfg.MinValidFrames {
		return nil, ErrInsufficientSamples
	}

	return &Baseline{
		ID:                uuid.New().String(),
		User:              c.user,
		HeadPitch:         c.headPitch.mean(),
		HeadYaw:           c.headYaw.mean(),
		HeadRoll:          c.headRoll.mean(),
		TrunkPitch:        c.trunkPitch.mean(),
		TrunkRoll:         c.trunkRoll.mean(),
		ShoulderElevation: median(c.elevations),
		ShoulderWidth:     median(c.widths),
		ChestDepth:        median(c.chestZs),
		Up:                c.up,
		SampleRate:        c.cfg.SampleRate,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// angleMean accumulates a circular mean so angles near the +/-180 wrap
// average correctly.
type angleMean struct {
	sinSum, cosSum float64
	n              int
}

func (a *angleMean) add(deg float64) {
	rad := deg * math.Pi / 180
	a.sinSum += math.Sin(rad)
	a.cosSum += math.Cos(rad)
	a.n++
}

func (a *angleMean) mean() float64 {
	if a.n == 0 {
		return 0
	}
	return math.Atan2(a.sinSum, a.cosSum) * 180 / math.Pi
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
