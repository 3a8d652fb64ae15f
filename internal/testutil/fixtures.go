// Package testutil provides shared landmark fixtures for pipeline tests.
//
// The canonical subject stands about one metre from the camera, facing it,
// in camera coordinates (X right, Y down, Z depth). All poses derive from
// that subject so baselines and diffs stay comparable across packages.
package testutil

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/upright-data/posture.report/internal/geom"
)

// FrameInterval is the nominal frame spacing of the fixtures (~30 Hz).
const FrameInterval = 33 * time.Millisecond

// BaseTime is the capture timestamp of frame zero.
var BaseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// Up returns the subject's up-vector in camera coordinates (Y grows down).
func Up() r3.Vec { return r3.Vec{X: 0, Y: -1, Z: 0} }

func confident(pos r3.Vec) geom.Landmark {
	return geom.Landmark{Pos: pos, Confidence: 0.95}
}

// NeutralSample returns a frame of the subject holding a neutral upright
// posture.
func NeutralSample(frame int64) *geom.Sample {
	s := &geom.Sample{
		FrameNumber: frame,
		Timestamp:   BaseTime.Add(time.Duration(frame) * FrameInterval),
	}
	s.Joints[geom.LeftShoulder] = confident(r3.Vec{X: -0.18, Y: 0.50, Z: 1.00})
	s.Joints[geom.RightShoulder] = confident(r3.Vec{X: 0.18, Y: 0.50, Z: 1.00})
	s.Joints[geom.LeftHip] = confident(r3.Vec{X: -0.15, Y: 0.95, Z: 1.02})
	s.Joints[geom.RightHip] = confident(r3.Vec{X: 0.15, Y: 0.95, Z: 1.02})
	s.Joints[geom.LeftEye] = confident(r3.Vec{X: -0.04, Y: 0.20, Z: 0.95})
	s.Joints[geom.RightEye] = confident(r3.Vec{X: 0.04, Y: 0.20, Z: 0.95})
	s.Joints[geom.Nose] = confident(r3.Vec{X: 0, Y: 0.22, Z: 0.93})
	s.Joints[geom.LeftWrist] = confident(r3.Vec{X: -0.25, Y: 0.85, Z: 1.00})
	s.Joints[geom.RightWrist] = confident(r3.Vec{X: 0.25, Y: 0.85, Z: 1.00})
	return s
}

// SlouchedSample returns the subject with the head dropped forward toward
// the camera, which drives the head-pitch diff well past typical thresholds.
func SlouchedSample(frame int64) *geom.Sample {
	s := NeutralSample(frame)
	for _, j := range []int{geom.LeftEye, geom.RightEye, geom.Nose} {
		p := s.Joints[j].Pos
		p.Y += 0.12
		p.Z -= 0.22
		s.Joints[j] = confident(p)
	}
	return s
}

// SittingSample returns the subject seated: shoulders dropped relative to
// the neutral baseline and the chest advanced toward the camera.
func SittingSample(frame int64) *geom.Sample {
	s := NeutralSample(frame)
	for _, j := range []int{geom.LeftShoulder, geom.RightShoulder,
		geom.LeftHip, geom.RightHip, geom.LeftEye, geom.RightEye, geom.Nose} {
		p := s.Joints[j].Pos
		p.Y += 0.12
		p.Z += 0.14
		s.Joints[j] = confident(p)
	}
	return s
}

// RaisedArmsSample returns the neutral subject with both wrists above the
// shoulders.
func RaisedArmsSample(frame int64) *geom.Sample {
	s := NeutralSample(frame)
	s.Joints[geom.LeftWrist] = confident(r3.Vec{X: -0.25, Y: 0.20, Z: 1.00})
	s.Joints[geom.RightWrist] = confident(r3.Vec{X: 0.25, Y: 0.20, Z: 1.00})
	return s
}

// AbsentSample returns a frame flagged as having no detection.
func AbsentSample(frame int64) *geom.Sample {
	return &geom.Sample{
		FrameNumber: frame,
		Timestamp:   BaseTime.Add(time.Duration(frame) * FrameInterval),
		NoDetection: true,
	}
}

// DegenerateSample returns a frame whose shoulders coincide, which has no
// body-frame basis.
func DegenerateSample(frame int64) *geom.Sample {
	s := NeutralSample(frame)
	s.Joints[geom.RightShoulder] = s.Joints[geom.LeftShoulder]
	return s
}
