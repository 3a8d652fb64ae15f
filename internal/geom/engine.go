package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Frame-level detection failures. Both degrade a single frame only; the
// caller skips or reports ABSENT and keeps the loop alive.
var (
	// ErrNoBasis means the landmark geometry is degenerate (near-zero
	// shoulder separation, or an up-vector collinear with the shoulder axis)
	// and no orthonormal body frame exists for this frame.
	ErrNoBasis = errors.New("geom: degenerate landmarks, no body frame basis")

	// ErrLowConfidence means the landmarks required for the basis were
	// missing or below the confidence floor.
	ErrLowConfidence = errors.New("geom: required landmarks missing or low confidence")
)

const minSeparation = 1e-6

// EngineConfig holds the fixed parameters of the geometry engine.
type EngineConfig struct {
	// Up is the world up-vector, estimated during calibration and reused for
	// analysis so angles are independent of camera orientation.
	Up r3.Vec
	// ChestRatio positions the synthetic chest point below the shoulder
	// midpoint as a fraction of shoulder width.
	ChestRatio float64
	// MinConfidence is the per-landmark confidence floor.
	MinConfidence float64
}

// DefaultEngineConfig returns the engine defaults with the given up-vector.
func DefaultEngineConfig(up r3.Vec) EngineConfig {
	return EngineConfig{Up: up, ChestRatio: 0.40, MinConfidence: 0.5}
}

// Validate checks the configuration ranges.
func (c EngineConfig) Validate() error {
	if r3.Norm(c.Up) < minSeparation {
		return errors.New("geom: up-vector must be non-zero")
	}
	if c.ChestRatio <= 0 || c.ChestRatio >= 1 {
		return errors.New("geom: chest ratio must be in (0, 1)")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.New("geom: min confidence must be in [0, 1]")
	}
	return nil
}

// BodyFrame is the orthonormal right-handed basis derived from the shoulder
// line and the up-vector: X lateral (left to right shoulder), Y toward the
// head, Z out of the chest.
type BodyFrame struct {
	X r3.Vec
	Y r3.Vec
	Z r3.Vec
}

// Metrics is the per-frame geometric output of the engine. Angles are in
// degrees, distances in metres. ElevationAsym is normalised by shoulder
// width and therefore dimensionless.
type Metrics struct {
	Basis BodyFrame

	HeadPitch float64 // head-forward lean in the sagittal plane
	HeadYaw   float64 // chest direction vs the camera axis
	HeadRoll  float64 // shoulder-line tilt against the up-vector

	TrunkPitch float64 // hip-to-shoulder forward lean
	TrunkRoll  float64 // hip-to-shoulder lateral lean
	TrunkValid bool    // hips were confidently detected this frame

	ShoulderWidth     float64 // |RS - LS|
	ShoulderElevation float64 // mean shoulder Y in camera coordinates
	ElevationAsym     float64 // (LS.y - RS.y) / width, signed
	ChestDepth        float64 // synthetic chest point Z
	Chest             r3.Vec
}

// Engine resolves landmark samples into body-frame posture metrics.
type Engine struct {
	cfg EngineConfig
	up  r3.Vec
}

// NewEngine returns an Engine for the given configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, up: r3.Unit(cfg.Up)}, nil
}

// MinConfidence returns the engine's landmark confidence floor.
func (e *Engine) MinConfidence() float64 { return e.cfg.MinConfidence }

// Resolve derives the body frame and posture metrics for one sample.
// It returns ErrLowConfidence when the required landmarks are unusable and
// ErrNoBasis when the geometry is degenerate; it never emits NaN.
func (e *Engine) Resolve(s *Sample) (*Metrics, error) {
	if s.NoDetection {
		return nil, ErrLowConfidence
	}
	min := e.cfg.MinConfidence
	if !s.Confident(LeftShoulder, min) || !s.Confident(RightShoulder, min) {
		return nil, ErrLowConfidence
	}
	head, ok := s.HeadPoint(min)
	if !ok {
		return nil, ErrLowConfidence
	}

	ls := s.Joints[LeftShoulder].Pos
	rs := s.Joints[RightShoulder].Pos

	shoulderVec := r3.Sub(rs, ls)
	width := r3.Norm(shoulderVec)
	if width < minSeparation {
		return nil, ErrNoBasis
	}
	xBody := r3.Scale(1/width, shoulderVec)

	zRaw := r3.Cross(xBody, e.up)
	if r3.Norm(zRaw) < minSeparation {
		// Up-vector parallel to the shoulder line.
		return nil, ErrNoBasis
	}
	zBody := r3.Unit(zRaw)
	yBody := r3.Unit(r3.Cross(zBody, xBody))

	mid := r3.Scale(0.5, r3.Add(ls, rs))

	// Orient Y from the chest toward the head so the synthetic chest point
	// lands below the shoulders regardless of camera orientation.
	if r3.Dot(yBody, r3.Sub(head, mid)) < 0 {
		yBody = r3.Scale(-1, yBody)
		zBody = r3.Unit(r3.Cross(xBody, yBody))
	}

	chest := r3.Sub(mid, r3.Scale(e.cfg.ChestRatio*width, yBody))

	// Orient Z out of the chest, toward the head projection.
	u := r3.Sub(head, chest)
	if r3.Dot(u, zBody) < 0 {
		zBody = r3.Scale(-1, zBody)
		yBody = r3.Unit(r3.Cross(zBody, xBody))
	}

	// Project the chest-to-head vector onto the sagittal plane.
	uSag := r3.Sub(u, r3.Scale(r3.Dot(u, xBody), xBody))
	if r3.Norm(uSag) < minSeparation {
		return nil, ErrNoBasis
	}
	uSag = r3.Unit(uSag)

	m := &Metrics{
		Basis:             BodyFrame{X: xBody, Y: yBody, Z: zBody},
		HeadPitch:         degrees(math.Atan2(r3.Dot(uSag, zBody), r3.Dot(uSag, yBody))),
		HeadYaw:           degrees(math.Atan2(zBody.X, zBody.Z)),
		HeadRoll:          degrees(math.Asin(clamp(r3.Dot(xBody, e.up)))),
		ShoulderWidth:     width,
		ShoulderElevation: 0.5 * (ls.Y + rs.Y),
		ElevationAsym:     (ls.Y - rs.Y) / width,
		ChestDepth:        chest.Z,
		Chest:             chest,
	}

	if s.Confident(LeftHip, min) && s.Confident(RightHip, min) {
		midHip := r3.Scale(0.5, r3.Add(s.Joints[LeftHip].Pos, s.Joints[RightHip].Pos))
		trunk := r3.Sub(mid, midHip)
		if n := r3.Norm(trunk); n >= minSeparation {
			trunk = r3.Scale(1/n, trunk)
			m.TrunkPitch = degrees(math.Asin(clamp(trunk.Z)))
			m.TrunkRoll = degrees(math.Asin(clamp(trunk.X)))
			m.TrunkValid = true
		}
	}

	return m, nil
}

// AngularDiff returns the minimal signed difference a-b in degrees, wrapped
// to [-180, 180).
func AngularDiff(a, b float64) float64 {
	d := math.Mod(a-b+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// clamp bounds v to [-1, 1] before an inverse trig call so floating error
// cannot push the argument out of domain.
func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
