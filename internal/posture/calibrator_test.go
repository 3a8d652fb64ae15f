package posture_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/testutil"
)

func calibrate(t *testing.T, user string) *posture.Baseline {
	t.Helper()
	c, err := posture.NewCalibrator(user, posture.DefaultCalibratorConfig())
	require.NoError(t, err)

	var frame int64
	for !c.Done() {
		c.Observe(testutil.NeutralSample(frame))
		frame++
		require.Less(t, frame, int64(1000), "calibration did not converge")
	}
	b, err := c.Result()
	require.NoError(t, err)
	return b
}

func TestCalibratorConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := posture.DefaultCalibratorConfig()
	assert.NoError(t, cfg.Validate())

	cfg.UpSamples = 0
	assert.Error(t, cfg.Validate())

	cfg = posture.DefaultCalibratorConfig()
	cfg.MinValidFrames = cfg.UpSamples + cfg.BaselineSamples + 1
	assert.Error(t, cfg.Validate())

	cfg = posture.DefaultCalibratorConfig()
	cfg.SampleRate = 0
	assert.Error(t, cfg.Validate())

	_, err := posture.NewCalibrator("", posture.DefaultCalibratorConfig())
	assert.Error(t, err)
}

func TestCalibratorNeutralCapture(t *testing.T) {
	t.Parallel()
	b := calibrate(t, "ana")

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "ana", b.User)
	assert.InDelta(t, 0.36, b.ShoulderWidth, 1e-6)
	assert.InDelta(t, 0.50, b.ShoulderElevation, 1e-6)
	assert.InDelta(t, 30.0, b.SampleRate, 1e-9)
	assert.NoError(t, b.Validate())

	// The estimated up-vector tracks the trunk axis, which for the fixture
	// subject points almost exactly against camera Y.
	assert.InDelta(t, 1.0, r3.Norm(b.Up), 1e-9)
	assert.Less(t, b.Up.Y, -0.99)
	assert.Less(t, math.Abs(b.HeadRoll), 2.0)
}

func TestCalibratorPhases(t *testing.T) {
	t.Parallel()
	cfg := posture.DefaultCalibratorConfig()
	c, err := posture.NewCalibrator("ana", cfg)
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseUpVector, c.Phase())

	var frame int64
	for i := 0; i < cfg.UpSamples; i++ {
		p := c.Observe(testutil.NeutralSample(frame))
		frame++
		assert.Equal(t, cfg.UpSamples+cfg.BaselineSamples, p.Target)
	}
	assert.Equal(t, posture.PhaseBaseline, c.Phase())

	for i := 0; i < cfg.BaselineSamples; i++ {
		c.Observe(testutil.NeutralSample(frame))
		frame++
	}
	assert.True(t, c.Done())

	p := c.Observe(testutil.NeutralSample(frame))
	assert.Equal(t, posture.PhaseDone, p.Phase)
	assert.Equal(t, p.Target, p.Collected)
}

func TestCalibratorSkipsInvalidFrames(t *testing.T) {
	t.Parallel()
	cfg := posture.DefaultCalibratorConfig()
	c, err := posture.NewCalibrator("ana", cfg)
	require.NoError(t, err)

	var frame int64
	for i := 0; i < 10; i++ {
		p := c.Observe(testutil.AbsentSample(frame))
		frame++
		assert.Equal(t, 0, p.Collected)
		assert.Equal(t, i+1, p.Invalid)
	}

	// Interleave degenerate frames with good ones; only the good ones count.
	for !c.Done() {
		c.Observe(testutil.DegenerateSample(frame))
		frame++
		c.Observe(testutil.NeutralSample(frame))
		frame++
		require.Less(t, frame, int64(2000))
	}
	b, err := c.Result()
	require.NoError(t, err)
	assert.InDelta(t, 0.36, b.ShoulderWidth, 1e-6)
}

func TestCalibratorNoValidFrames(t *testing.T) {
	t.Parallel()
	c, err := posture.NewCalibrator("ana", posture.DefaultCalibratorConfig())
	require.NoError(t, err)

	for frame := int64(0); frame < 120; frame++ {
		c.Observe(testutil.AbsentSample(frame))
	}
	_, err = c.Result()
	assert.ErrorIs(t, err, posture.ErrNoValidFrames)
}

func TestCalibratorInsufficientSamples(t *testing.T) {
	t.Parallel()
	c, err := posture.NewCalibrator("ana", posture.DefaultCalibratorConfig())
	require.NoError(t, err)

	// Capture stops early: plenty of valid frames but short of the window.
	for frame := int64(0); frame < 40; frame++ {
		c.Observe(testutil.NeutralSample(frame))
	}
	_, err = c.Result()
	assert.ErrorIs(t, err, posture.ErrInsufficientSamples)
}

func TestCalibratorSupersedes(t *testing.T) {
	t.Parallel()

	first := calibrate(t, "ana")
	second := calibrate(t, "ana")

	// Each capture is a fresh baseline, never a merge.
	assert.NotEqual(t, first.ID, second.ID)
	assert.InDelta(t, first.ShoulderWidth, second.ShoulderWidth, 1e-9)
}
