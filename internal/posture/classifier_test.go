package posture_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upright-data/posture.report/internal/geom"
	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/testutil"
)

func newClassifier(t *testing.T) *posture.Classifier {
	t.Helper()
	c, err := posture.NewClassifier(calibrate(t, "ana"), posture.DefaultClassifierConfig())
	require.NoError(t, err)
	return c
}

func TestClassifierConfigValidation(t *testing.T) {
	t.Parallel()
	b := calibrate(t, "ana")

	cfg := posture.DefaultClassifierConfig()
	cfg.Alpha = 0
	_, err := posture.NewClassifier(b, cfg)
	assert.Error(t, err)

	cfg = posture.DefaultClassifierConfig()
	cfg.MedianWindow = 0
	_, err = posture.NewClassifier(b, cfg)
	assert.Error(t, err)

	cfg = posture.DefaultClassifierConfig()
	cfg.HeadPitchLatch.OffRatio = 1.2
	_, err = posture.NewClassifier(b, cfg)
	assert.Error(t, err)

	cfg = posture.DefaultClassifierConfig()
	cfg.YawGateDeg = 0
	_, err = posture.NewClassifier(b, cfg)
	assert.Error(t, err)

	_, err = posture.NewClassifier(&posture.Baseline{}, posture.DefaultClassifierConfig())
	assert.Error(t, err)
}

func TestClassifierNeutralStanding(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	for frame := int64(0); frame < 60; frame++ {
		r := c.Step(testutil.NeutralSample(frame))
		assert.Equal(t, posture.PositionStanding, r.Position)
		assert.Empty(t, r.Alerts)
		assert.Less(t, math.Abs(r.Diff.HeadPitch), 2.0)
		assert.False(t, math.IsNaN(r.Filtered.HeadYaw))
	}
}

func TestClassifierSlouchFiresHeadPitch(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	// Settle on neutral first so filters are primed to the baseline.
	for frame := int64(0); frame < 20; frame++ {
		c.Step(testutil.NeutralSample(frame))
	}

	var fired *posture.Reading
	for frame := int64(20); frame < 80; frame++ {
		r := c.Step(testutil.SlouchedSample(frame))
		if r.HasAlert(posture.AlertHeadPitch) {
			fired = &r
			break
		}
	}
	require.NotNil(t, fired, "sustained slouch must latch the head pitch alert")
	assert.Equal(t, posture.PositionStanding, fired.Position)
	assert.Greater(t, fired.Diff.HeadPitch, 10.0)
	assert.False(t, fired.HasAlert(posture.AlertHeadExtension))
}

func TestClassifierBriefSlouchDoesNotFire(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	for frame := int64(0); frame < 20; frame++ {
		c.Step(testutil.NeutralSample(frame))
	}
	// Fewer qualifying frames than MinFramesOn: the latch must stay off.
	for frame := int64(20); frame < 26; frame++ {
		r := c.Step(testutil.SlouchedSample(frame))
		assert.Empty(t, r.Alerts)
	}
	r := c.Step(testutil.NeutralSample(26))
	assert.Empty(t, r.Alerts)
}

func TestClassifierSittingDetection(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	sawSitting := false
	for frame := int64(0); frame < 60; frame++ {
		r := c.Step(testutil.SittingSample(frame))
		if r.Position == posture.PositionSitting {
			sawSitting = true
			assert.Empty(t, r.Alerts, "alerts only apply while standing")
		}
	}
	assert.True(t, sawSitting, "sustained seated pose must latch the sitting verdict")

	// Standing back up releases the position latch after the off bound.
	sawStanding := false
	for frame := int64(60); frame < 160; frame++ {
		r := c.Step(testutil.NeutralSample(frame))
		if r.Position == posture.PositionStanding {
			sawStanding = true
		}
	}
	assert.True(t, sawStanding)
}

func TestClassifierTransientSitDoesNotFlicker(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	for frame := int64(0); frame < 30; frame++ {
		c.Step(testutil.NeutralSample(frame))
	}
	// A few seated frames are well below the position latch window.
	for frame := int64(30); frame < 35; frame++ {
		r := c.Step(testutil.SittingSample(frame))
		assert.Equal(t, posture.PositionStanding, r.Position)
	}
}

func TestClassifierAbsentFreezesLatches(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	for frame := int64(0); frame < 20; frame++ {
		c.Step(testutil.NeutralSample(frame))
	}

	// Partially arm the head pitch latch.
	frame := int64(20)
	for ; frame < 26; frame++ {
		c.Step(testutil.SlouchedSample(frame))
	}

	// Absence reports ABSENT with no alerts and must not reset progress.
	for ; frame < 30; frame++ {
		r := c.Step(testutil.AbsentSample(frame))
		assert.Equal(t, posture.PositionAbsent, r.Position)
		assert.Empty(t, r.Alerts)
	}

	// Resuming the slouch completes the arming window without restarting.
	fired := false
	for ; frame < 40; frame++ {
		r := c.Step(testutil.SlouchedSample(frame))
		if r.HasAlert(posture.AlertHeadPitch) {
			fired = true
			break
		}
	}
	assert.True(t, fired, "frozen latch must resume arming after absence")
}

func TestClassifierDegenerateFrameIsAbsent(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	r := c.Step(testutil.DegenerateSample(0))
	assert.Equal(t, posture.PositionAbsent, r.Position)
	assert.Empty(t, r.Alerts)

	// The degenerate frame must not poison later readings with NaN.
	r = c.Step(testutil.NeutralSample(1))
	assert.Equal(t, posture.PositionStanding, r.Position)
	assert.False(t, math.IsNaN(r.Filtered.HeadPitch))
	assert.False(t, math.IsNaN(r.Diff.ElevationMean))
}

func TestClassifierRaisedArmsSuppressAlerts(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	for frame := int64(0); frame < 20; frame++ {
		c.Step(testutil.NeutralSample(frame))
	}
	// Raised arms gate every alert latch even if metrics drift.
	for frame := int64(20); frame < 80; frame++ {
		s := testutil.SlouchedSample(frame)
		raised := testutil.RaisedArmsSample(frame)
		s.Joints[geom.LeftWrist] = raised.Joints[geom.LeftWrist]
		s.Joints[geom.RightWrist] = raised.Joints[geom.RightWrist]
		r := c.Step(s)
		assert.Empty(t, r.Alerts)
	}
}

func TestClassifierTrunkCarriesThroughHipLoss(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	var last posture.Reading
	for frame := int64(0); frame < 10; frame++ {
		last = c.Step(testutil.NeutralSample(frame))
	}
	require.True(t, last.TrunkValid)

	s := testutil.NeutralSample(10)
	s.Joints[2].Confidence = 0 // left hip
	r := c.Step(s)
	assert.False(t, r.TrunkValid)
	assert.InDelta(t, last.Filtered.TrunkPitch, r.Filtered.TrunkPitch, 1e-9)
}
