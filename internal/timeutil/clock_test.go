package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClockNow(t *testing.T) {
	t.Parallel()
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	assert.False(t, got.Before(before))
}

func TestMockClockAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
	assert.Equal(t, 90*time.Second, c.Since(start))
}

func TestMockClockSleepRecords(t *testing.T) {
	t.Parallel()
	c := NewMockClock(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		c.Sleep(time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mock Sleep should return immediately")
	}
	assert.Equal(t, []time.Duration{time.Hour}, c.Sleeps())
}
