package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     LatchConfig
		wantErr bool
	}{
		{"valid", LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 10}, false},
		{"zero threshold", LatchConfig{OnThreshold: 0, OffRatio: 0.75, MinFramesOn: 10}, true},
		{"off ratio one", LatchConfig{OnThreshold: 10, OffRatio: 1, MinFramesOn: 10}, true},
		{"off ratio zero", LatchConfig{OnThreshold: 10, OffRatio: 0, MinFramesOn: 10}, true},
		{"zero frames", LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLatchHysteresis(t *testing.T) {
	t.Parallel()
	l, err := NewLatch(LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 10})
	require.NoError(t, err)

	// Ten consecutive frames at 12 activate on the tenth frame.
	for i := 0; i < 9; i++ {
		assert.False(t, l.Update(12), "frame %d should still be arming", i)
	}
	assert.True(t, l.Update(12))
	assert.Equal(t, LatchOn, l.Phase())

	// A value of 8 is below the on threshold but above the off bound (7.5):
	// the latch holds.
	assert.True(t, l.Update(8))

	// Dropping below the off bound releases it.
	assert.False(t, l.Update(7))
	assert.Equal(t, LatchOff, l.Phase())
}

func TestLatchAntiFlicker(t *testing.T) {
	t.Parallel()
	l, err := NewLatch(LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 5})
	require.NoError(t, err)

	// Oscillating across the threshold never accumulates enough consecutive
	// qualifying frames.
	for i := 0; i < 100; i++ {
		v := 12.0
		if i%3 == 2 {
			v = 9.0
		}
		assert.False(t, l.Update(v), "frame %d must not activate", i)
	}
}

func TestLatchMinFramesOne(t *testing.T) {
	t.Parallel()
	l, err := NewLatch(LatchConfig{OnThreshold: 1, OffRatio: 0.5, MinFramesOn: 1})
	require.NoError(t, err)

	assert.True(t, l.Update(1))
	assert.True(t, l.Update(0.6))  // above 0.5 off bound
	assert.False(t, l.Update(0.4)) // released
}

func TestLatchGate(t *testing.T) {
	t.Parallel()
	l, err := NewLatch(LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 3})
	require.NoError(t, err)

	l.Update(12)
	l.Update(12)
	// A disqualified frame resets accumulated progress.
	assert.False(t, l.UpdateGated(12, false))
	assert.False(t, l.Update(12))
	assert.False(t, l.Update(12))
	assert.True(t, l.Update(12))

	// The gate also drops an active latch.
	assert.False(t, l.UpdateGated(12, false))
	assert.Equal(t, LatchOff, l.Phase())
}

func TestLatchArmingResetOnDisqualifier(t *testing.T) {
	t.Parallel()
	l, err := NewLatch(LatchConfig{OnThreshold: 10, OffRatio: 0.75, MinFramesOn: 3})
	require.NoError(t, err)

	l.Update(11)
	l.Update(11)
	assert.Equal(t, LatchArming, l.Phase())
	l.Update(9) // disqualifying frame during arming
	assert.Equal(t, LatchOff, l.Phase())
	l.Update(11)
	l.Update(11)
	assert.False(t, l.Active())
	assert.True(t, l.Update(11))
}
