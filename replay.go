package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/upright-data/posture.report/internal/geom"
	"github.com/upright-data/posture.report/internal/monitoring"
)

// jointNames maps the landmark names used in recorded logs onto joint
// indices. Names follow the MediaPipe pose convention.
var jointNames = map[string]int{
	"left_shoulder":  geom.LeftShoulder,
	"right_shoulder": geom.RightShoulder,
	"left_hip":       geom.LeftHip,
	"right_hip":      geom.RightHip,
	"left_eye":       geom.LeftEye,
	"right_eye":      geom.RightEye,
	"nose":           geom.Nose,
	"left_wrist":     geom.LeftWrist,
	"right_wrist":    geom.RightWrist,
}

type replayJoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

type replayFrame struct {
	Frame       int64                  `json:"frame"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	NoDetection bool                   `json:"no_detection,omitempty"`
	Joints      map[string]replayJoint `json:"joints"`
}

// ReplayReader decodes a recorded landmark log: one JSON object per line.
// Frames without a timestamp get a synthetic one at the nominal sample rate.
type ReplayReader struct {
	scanner    *bufio.Scanner
	line       int
	base       time.Time
	interval   time.Duration
	warnedOnce map[string]bool
}

// NewReplayReader wraps r. sampleRate is used for synthetic timestamps.
func NewReplayReader(r io.Reader, sampleRate float64) *ReplayReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ReplayReader{
		scanner:    scanner,
		base:       time.Now().UTC(),
		interval:   time.Duration(float64(time.Second) / sampleRate),
		warnedOnce: make(map[string]bool),
	}
}

// Next returns the next frame, or io.EOF at the end of the log.
func (r *ReplayReader) Next() (*geom.Sample, error) {
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var frame replayFrame
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", r.line, err)
		}

		sample := &geom.Sample{
			FrameNumber: frame.Frame,
			NoDetection: frame.NoDetection,
		}
		if frame.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339Nano, frame.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("replay line %d: bad timestamp: %w", r.line, err)
			}
			sample.Timestamp = ts
		} else {
			sample.Timestamp = r.base.Add(time.Duration(frame.Frame) * r.interval)
		}

		for name, j := range frame.Joints {
			idx, ok := jointNames[name]
			if !ok {
				if !r.warnedOnce[name] {
					r.warnedOnce[name] = true
					monitoring.Logf("replay: ignoring unknown joint %q", name)
				}
				continue
			}
			sample.Joints[idx] = geom.Landmark{
				Pos:        r3.Vec{X: j.X, Y: j.Y, Z: j.Z},
				Confidence: j.Confidence,
			}
		}
		return sample, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("replay line %d: %w", r.line, err)
	}
	return nil, io.EOF
}
