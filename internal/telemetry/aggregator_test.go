package telemetry_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/signal"
	"github.com/upright-data/posture.report/internal/telemetry"
	"github.com/upright-data/posture.report/internal/timeutil"
)

// captureWriter records everything written to it. failReadings > 0 makes
// that many WriteReadings calls fail before writes start succeeding;
// failReadings < 0 makes every call fail.
type captureWriter struct {
	mu           sync.Mutex
	failReadings int
	readingCalls int
	batches      [][]posture.Reading
	aggregates   []*telemetry.SessionAggregate
}

func (w *captureWriter) WriteReadings(sessionID string, readings []posture.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readingCalls++
	if w.failReadings < 0 || w.readingCalls <= w.failReadings {
		return errors.New("disk full")
	}
	batch := make([]posture.Reading, len(readings))
	copy(batch, readings)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *captureWriter) WriteAggregate(agg *telemetry.SessionAggregate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aggregates = append(w.aggregates, agg)
	return nil
}

func (w *captureWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func (w *captureWriter) aggregateCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.aggregates)
}

func testConfig(clock timeutil.Clock) telemetry.Config {
	cfg := telemetry.DefaultConfig("sess-1", "ana")
	cfg.Clock = clock
	cfg.RetryBackoff = time.Millisecond
	cfg.BadPosture = signal.LatchConfig{OnThreshold: 1.0, OffRatio: 0.5, MinFramesOn: 3}
	return cfg
}

func standingReading(frame int64, alerts ...posture.Alert) posture.Reading {
	return posture.Reading{
		FrameNumber: frame,
		Position:    posture.PositionStanding,
		Filtered:    posture.MetricSet{HeadPitch: float64(frame)},
		Alerts:      alerts,
	}
}

func TestAggregatorConfigValidation(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}

	cfg := telemetry.DefaultConfig("", "ana")
	_, err := telemetry.NewAggregator(writer, cfg)
	assert.Error(t, err)

	cfg = telemetry.DefaultConfig("sess-1", "ana")
	cfg.Capacity = 0
	_, err = telemetry.NewAggregator(writer, cfg)
	assert.Error(t, err)

	cfg = telemetry.DefaultConfig("sess-1", "ana")
	cfg.FrameInterval = 0
	_, err = telemetry.NewAggregator(writer, cfg)
	assert.Error(t, err)

	_, err = telemetry.NewAggregator(nil, telemetry.DefaultConfig("sess-1", "ana"))
	assert.Error(t, err)
}

func TestAggregatorFlushesFullBuffer(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	agg, err := telemetry.NewAggregator(writer, testConfig(timeutil.NewMockClock(time.Now())))
	require.NoError(t, err)

	for frame := int64(0); frame < telemetry.DefaultCapacity-1; frame++ {
		agg.Record(standingReading(frame))
	}
	assert.Equal(t, telemetry.DefaultCapacity-1, agg.Pending())
	assert.Equal(t, 0, writer.batchCount())

	agg.Record(standingReading(telemetry.DefaultCapacity - 1))
	assert.Equal(t, 0, agg.Pending(), "buffer should clear as soon as the batch is handed off")

	require.Eventually(t, func() bool { return writer.batchCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	require.Len(t, writer.batches[0], telemetry.DefaultCapacity)

	_, err = agg.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 1, writer.batchCount(), "no extra batch on finalize when the buffer is empty")
}

func TestAggregatorBatchesStayInOrder(t *testing.T) {
	t.Parallel()

	writer := &captureWriter{}
	cfg := testConfig(timeutil.NewMockClock(time.Now()))
	cfg.Capacity = 5
	agg, err := telemetry.NewAggregator(writer, cfg)
	require.NoError(t, err)

	for frame := int64(0); frame < 23; frame++ {
		agg.Record(standingReading(frame))
	}
	_, err = agg.Finalize()
	require.NoError(t, err)

	require.Equal(t, 5, writer.batchCount())
	var next int64
	for _, batch := range writer.batches {
		for _, r := range batch {
			require.Equal(t, next, r.FrameNumber)
			next++
		}
	}
	assert.Equal(t, int64(23), next)
	assert.Len(t, writer.batches[4], 3, "finalize flushes the partial remainder")
}

func TestAggregatorFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	writer := &captureWriter{}
	agg, err := telemetry.NewAggregator(writer, testConfig(clock))
	require.NoError(t, err)

	for frame := int64(0); frame < 7; frame++ {
		agg.Record(standingReading(frame))
	}
	clock.Advance(7 * time.Second / 30)

	first, err := agg.Finalize()
	require.NoError(t, err)
	second, err := agg.Finalize()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, writer.batchCount())
	assert.Equal(t, 1, writer.aggregateCount())

	agg.Record(standingReading(99))
	third, err := agg.Finalize()
	require.NoError(t, err)
	assert.Same(t, first, third)
	assert.Equal(t, int64(7), third.TotalFrames, "readings after finalize are dropped")
}

func TestAggregatorRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	writer := &captureWriter{failReadings: 2}
	cfg := testConfig(clock)
	cfg.Capacity = 4
	agg, err := telemetry.NewAggregator(writer, cfg)
	require.NoError(t, err)

	for frame := int64(0); frame < 4; frame++ {
		agg.Record(standingReading(frame))
	}
	result, err := agg.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 1, writer.batchCount())
	assert.Empty(t, result.Warnings)
	assert.Len(t, clock.Sleeps(), 2, "one backoff pause per failed attempt")
}

func TestAggregatorDeadLetterRetriedAtFinalize(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	// Exhaust the worker's attempts (1 + FlushRetries), then let the final
	// synchronous attempt at finalize succeed.
	writer := &captureWriter{failReadings: telemetry.DefaultFlushRetries + 1}
	cfg := testConfig(clock)
	cfg.Capacity = 4
	agg, err := telemetry.NewAggregator(writer, cfg)
	require.NoError(t, err)

	for frame := int64(0); frame < 4; frame++ {
		agg.Record(standingReading(frame))
	}
	result, err := agg.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 1, writer.batchCount(), "dead-lettered batch is written at finalize")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "failed after")
}

func TestAggregatorReportsDroppedReadings(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	writer := &captureWriter{failReadings: -1}
	cfg := testConfig(clock)
	cfg.Capacity = 4
	agg, err := telemetry.NewAggregator(writer, cfg)
	require.NoError(t, err)

	for frame := int64(0); frame < 4; frame++ {
		agg.Record(standingReading(frame))
	}
	result, err := agg.Finalize()
	require.NoError(t, err, "reading loss is a warning, not a finalize error")

	assert.Equal(t, 0, writer.batchCount())
	assert.Equal(t, 1, writer.aggregateCount())
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[1], "dropped 4 readings")
}

func TestAggregatorPositionAndAlertRollup(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	writer := &captureWriter{}
	agg, err := telemetry.NewAggregator(writer, testConfig(clock))
	require.NoError(t, err)

	frame := int64(0)
	record := func(n int, pos posture.Position, alerts ...posture.Alert) {
		for i := 0; i < n; i++ {
			r := standingReading(frame, alerts...)
			r.Position = pos
			agg.Record(r)
			frame++
		}
	}

	// Two separate head pitch episodes with a clean gap between them, then
	// some sitting and absent tail frames.
	record(10, posture.PositionStanding)
	record(5, posture.PositionStanding, posture.AlertHeadPitch)
	record(5, posture.PositionStanding)
	record(4, posture.PositionStanding, posture.AlertHeadPitch, posture.AlertHeadYaw)
	record(12, posture.PositionSitting)
	record(4, posture.PositionAbsent)

	result, err := agg.Finalize()
	require.NoError(t, err)

	assert.Equal(t, int64(40), result.TotalFrames)
	assert.Equal(t, int64(24), result.Positions[posture.PositionStanding].Frames)
	assert.Equal(t, int64(12), result.Positions[posture.PositionSitting].Frames)
	assert.Equal(t, int64(4), result.Positions[posture.PositionAbsent].Frames)
	assert.InDelta(t, 60.0, result.Positions[posture.PositionStanding].Percent, 1e-9)
	assert.Equal(t, 12*result.FrameInterval, result.Positions[posture.PositionSitting].Duration)

	// The first 24 frames are one unbroken standing run.
	assert.Equal(t, 24*result.FrameInterval, result.MaxStandingStreak)

	assert.Equal(t, int64(2), result.AlertActivations[posture.AlertHeadPitch])
	assert.Equal(t, int64(9), result.AlertFrames[posture.AlertHeadPitch])
	assert.Equal(t, int64(1), result.AlertActivations[posture.AlertHeadYaw])
	assert.Equal(t, int64(4), result.AlertFrames[posture.AlertHeadYaw])
	assert.Equal(t, int64(0), result.AlertActivations[posture.AlertTrunkRoll])

	// Three activations over 40 frames of session time.
	sessionMinutes := (40 * result.FrameInterval).Minutes()
	assert.InDelta(t, 3/sessionMinutes, result.AlertsPerMinute, 1e-9)

	// Each alert episode outlasts the 3-frame latch, so both become spells.
	assert.Equal(t, int64(2), result.BadPostureSpells)

	// Absent frames contribute no metric samples.
	assert.Equal(t, int64(36), result.Metrics[posture.MetricHeadPitch].Samples)
}
