package geom_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/upright-data/posture.report/internal/geom"
	"github.com/upright-data/posture.report/internal/testutil"
)

func newEngine(t *testing.T) *geom.Engine {
	t.Helper()
	e, err := geom.NewEngine(geom.DefaultEngineConfig(testutil.Up()))
	require.NoError(t, err)
	return e
}

func TestEngineConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := geom.DefaultEngineConfig(r3.Vec{})
	assert.Error(t, cfg.Validate())

	cfg = geom.DefaultEngineConfig(testutil.Up())
	cfg.ChestRatio = 1.5
	assert.Error(t, cfg.Validate())

	cfg = geom.DefaultEngineConfig(testutil.Up())
	cfg.MinConfidence = -0.1
	assert.Error(t, cfg.Validate())

	assert.NoError(t, geom.DefaultEngineConfig(testutil.Up()).Validate())
}

func TestResolveBasisOrthonormal(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	m, err := e.Resolve(testutil.NeutralSample(0))
	require.NoError(t, err)

	b := m.Basis
	const tol = 1e-9
	assert.InDelta(t, 1.0, r3.Norm(b.X), tol)
	assert.InDelta(t, 1.0, r3.Norm(b.Y), tol)
	assert.InDelta(t, 1.0, r3.Norm(b.Z), tol)
	assert.InDelta(t, 0.0, r3.Dot(b.X, b.Y), tol)
	assert.InDelta(t, 0.0, r3.Dot(b.Y, b.Z), tol)
	assert.InDelta(t, 0.0, r3.Dot(b.Z, b.X), tol)

	// Right-handed: X cross Y equals Z.
	cross := r3.Cross(b.X, b.Y)
	assert.InDelta(t, b.Z.X, cross.X, tol)
	assert.InDelta(t, b.Z.Y, cross.Y, tol)
	assert.InDelta(t, b.Z.Z, cross.Z, tol)
}

func TestResolveNeutralMetrics(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	m, err := e.Resolve(testutil.NeutralSample(0))
	require.NoError(t, err)

	assert.InDelta(t, 0.36, m.ShoulderWidth, 1e-9)
	assert.InDelta(t, 0.50, m.ShoulderElevation, 1e-9)
	assert.InDelta(t, 0.0, m.ElevationAsym, 1e-9)
	assert.True(t, m.TrunkValid)
	// Upright subject: small head pitch, near-level trunk and shoulders.
	assert.Less(t, math.Abs(m.HeadPitch), 15.0)
	assert.Less(t, math.Abs(m.HeadRoll), 2.0)
	assert.Less(t, math.Abs(m.TrunkRoll), 2.0)
	assert.False(t, math.IsNaN(m.HeadYaw))
}

func TestResolveForwardLeanRaisesPitch(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	neutral, err := e.Resolve(testutil.NeutralSample(0))
	require.NoError(t, err)
	slouched, err := e.Resolve(testutil.SlouchedSample(1))
	require.NoError(t, err)

	assert.Greater(t, slouched.HeadPitch-neutral.HeadPitch, 20.0)
}

func TestResolveDegenerateShoulders(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	_, err := e.Resolve(testutil.DegenerateSample(0))
	assert.ErrorIs(t, err, geom.ErrNoBasis)
}

func TestResolveUpParallelToShoulders(t *testing.T) {
	t.Parallel()
	e, err := geom.NewEngine(geom.DefaultEngineConfig(r3.Vec{X: 1}))
	require.NoError(t, err)

	_, err = e.Resolve(testutil.NeutralSample(0))
	assert.ErrorIs(t, err, geom.ErrNoBasis)
}

func TestResolveNoDetection(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	_, err := e.Resolve(testutil.AbsentSample(0))
	assert.ErrorIs(t, err, geom.ErrLowConfidence)
}

func TestResolveLowConfidenceShoulder(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	s := testutil.NeutralSample(0)
	s.Joints[geom.LeftShoulder].Confidence = 0.2
	_, err := e.Resolve(s)
	assert.ErrorIs(t, err, geom.ErrLowConfidence)
}

func TestResolveHeadFallbackToNose(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	s := testutil.NeutralSample(0)
	s.Joints[geom.LeftEye].Confidence = 0
	s.Joints[geom.RightEye].Confidence = 0
	m, err := e.Resolve(s)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(m.HeadPitch))

	s.Joints[geom.Nose].Confidence = 0
	_, err = e.Resolve(s)
	assert.ErrorIs(t, err, geom.ErrLowConfidence)
}

func TestResolveMissingHipsSkipsTrunk(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	s := testutil.NeutralSample(0)
	s.Joints[geom.LeftHip].Confidence = 0
	m, err := e.Resolve(s)
	require.NoError(t, err)
	assert.False(t, m.TrunkValid)
}

func TestArmsRaised(t *testing.T) {
	t.Parallel()

	assert.False(t, testutil.NeutralSample(0).ArmsRaised(0.5))
	assert.True(t, testutil.RaisedArmsSample(0).ArmsRaised(0.5))
}

func TestAngularDiffWrap(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, geom.AngularDiff(179, 177), 1e-9)
	assert.InDelta(t, 2.0, geom.AngularDiff(-179, 179), 1e-9)
	assert.InDelta(t, -2.0, geom.AngularDiff(179, -179), 1e-9)
	assert.InDelta(t, -180.0, geom.AngularDiff(180, 0), 1e-9)
}
