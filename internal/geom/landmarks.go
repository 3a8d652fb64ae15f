// Package geom derives an orthonormal body frame and posture angles from
// per-frame 3-D body-landmark positions. Positions are expressed in the
// camera frame (X right, Y down, Z away from the camera), in metres.
package geom

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Joint indices for the fixed set of body points the pipeline consumes.
// The numbering is internal; collaborators map their own landmark model
// (e.g. a MediaPipe pose skeleton) onto it.
const (
	LeftShoulder = iota
	RightShoulder
	LeftHip
	RightHip
	LeftEye
	RightEye
	Nose
	LeftWrist
	RightWrist
	NumJoints
)

// Landmark is a single detected body point with its detection confidence.
type Landmark struct {
	Pos        r3.Vec  `json:"pos"`
	Confidence float64 `json:"confidence"`
}

// Sample is one frame of landmark detections as delivered by the pose
// estimation collaborator.
type Sample struct {
	FrameNumber int64               `json:"frame_number"`
	Timestamp   time.Time           `json:"timestamp"`
	NoDetection bool                `json:"no_detection"`
	Joints      [NumJoints]Landmark `json:"joints"`
}

// Confident reports whether joint j was detected with at least min confidence.
func (s *Sample) Confident(j int, min float64) bool {
	return s.Joints[j].Confidence >= min
}

// ArmsRaised reports whether either wrist sits above its shoulder. Camera Y
// grows downward, so a raised wrist has a smaller Y than the shoulder.
// Raised arms distort shoulder geometry and gate several alerts.
func (s *Sample) ArmsRaised(minConfidence float64) bool {
	if s.Confident(LeftWrist, minConfidence) && s.Confident(LeftShoulder, minConfidence) {
		if s.Joints[LeftWrist].Pos.Y < s.Joints[LeftShoulder].Pos.Y {
			return true
		}
	}
	if s.Confident(RightWrist, minConfidence) && s.Confident(RightShoulder, minConfidence) {
		if s.Joints[RightWrist].Pos.Y < s.Joints[RightShoulder].Pos.Y {
			return true
		}
	}
	return false
}

// HeadPoint returns the head reference point: the midpoint of the eyes when
// both are confident, falling back to the nose. ok is false when neither is
// available.
func (s *Sample) HeadPoint(minConfidence float64) (r3.Vec, bool) {
	if s.Confident(LeftEye, minConfidence) && s.Confident(RightEye, minConfidence) {
		return r3.Scale(0.5, r3.Add(s.Joints[LeftEye].Pos, s.Joints[RightEye].Pos)), true
	}
	if s.Confident(Nose, minConfidence) {
		return s.Joints[Nose].Pos, true
	}
	return r3.Vec{}, false
}
