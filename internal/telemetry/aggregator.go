package telemetry

import (
	"fmt"
	"time"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/signal"
	"github.com/upright-data/posture.report/internal/timeutil"
)

const (
	// DefaultCapacity is the batch size: the buffer flushes every time it
	// fills to this many readings.
	DefaultCapacity = 30

	// DefaultFlushRetries is how many extra write attempts a failing batch
	// gets before it is dead-lettered.
	DefaultFlushRetries = 3

	// DefaultRetryBackoff is the pause between failed write attempts.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Config controls an Aggregator.
type Config struct {
	// SessionID identifies the session all batches belong to.
	SessionID string

	// User is the subject the session was recorded for.
	User string

	// Capacity is the reading buffer size; reaching it triggers a flush.
	Capacity int

	// FrameInterval is the nominal frame spacing, used to convert frame
	// counts into time-in-position durations.
	FrameInterval time.Duration

	// FlushRetries and RetryBackoff control batch write retry behaviour.
	FlushRetries int
	RetryBackoff time.Duration

	// BadPosture configures the latch that turns per-frame alert activity
	// into sustained bad-posture spells.
	BadPosture signal.LatchConfig

	// Clock supplies time; nil means the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the standard aggregator tuning for a session.
func DefaultConfig(sessionID, user string) Config {
	return Config{
		SessionID:     sessionID,
		User:          user,
		Capacity:      DefaultCapacity,
		FrameInterval: time.Second / 30,
		FlushRetries:  DefaultFlushRetries,
		RetryBackoff:  DefaultRetryBackoff,
		BadPosture: signal.LatchConfig{
			OnThreshold: 1.0,
			OffRatio:    0.5,
			MinFramesOn: 45,
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("telemetry: session id must not be empty")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("telemetry: capacity must be >= 1, got %d", c.Capacity)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("telemetry: frame interval must be positive, got %v", c.FrameInterval)
	}
	if c.FlushRetries < 0 {
		return fmt.Errorf("telemetry: flush retries must be >= 0, got %d", c.FlushRetries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("telemetry: retry backoff must be >= 0, got %v", c.RetryBackoff)
	}
	if err := c.BadPosture.Validate(); err != nil {
		return fmt.Errorf("telemetry: bad posture latch: %w", err)
	}
	return nil
}

// Aggregator buffers readings into fixed-size batches for asynchronous
// persistence and accumulates the running statistics that become the
// session aggregate. Record and Finalize are single-producer: they must be
// called from one goroutine.
type Aggregator struct {
	cfg    Config
	clock  timeutil.Clock
	writer BatchWriter
	worker *flushWorker

	startedAt time.Time
	buf       []posture.Reading

	totalFrames    int64
	positionFrames map[posture.Position]int64
	standingStreak int64
	maxStanding    int64
	activations    map[posture.Alert]int64
	alertFrames    map[posture.Alert]int64
	alertActive    map[posture.Alert]bool
	metricStats    map[posture.Metric]*RunningStat

	badPosture *signal.Latch
	badSpells  int64
	badFrames  int64

	closed bool
	result *SessionAggregate
}

// NewAggregator validates the configuration and starts the flush worker.
func NewAggregator(writer BatchWriter, cfg Config) (*Aggregator, error) {
	if writer == nil {
		return nil, fmt.Errorf("telemetry: writer must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	badPosture, err := signal.NewLatch(cfg.BadPosture)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		cfg:            cfg,
		clock:          clock,
		writer:         writer,
		worker:         newFlushWorker(writer, cfg.SessionID, clock, cfg.FlushRetries, cfg.RetryBackoff),
		startedAt:      clock.Now(),
		buf:            make([]posture.Reading, 0, cfg.Capacity),
		positionFrames: make(map[posture.Position]int64),
		activations:    make(map[posture.Alert]int64),
		alertFrames:    make(map[posture.Alert]int64),
		alertActive:    make(map[posture.Alert]bool),
		metricStats:    make(map[posture.Metric]*RunningStat),
		badPosture:     badPosture,
	}
	for _, m := range posture.Metrics() {
		a.metricStats[m] = &RunningStat{}
	}
	return a, nil
}

// Record folds one reading into the session statistics and buffers it for
// storage. When the buffer reaches capacity it is handed to the flush worker
// and cleared; Record itself never performs I/O. Readings after Finalize are
// dropped.
func (a *Aggregator) Record(r posture.Reading) {
	if a.closed {
		return
	}

	a.totalFrames++
	a.positionFrames[r.Position]++

	if r.Position == posture.PositionStanding {
		a.standingStreak++
		if a.standingStreak > a.maxStanding {
			a.maxStanding = a.standingStreak
		}
	} else {
		a.standingStreak = 0
	}

	if r.Position != posture.PositionAbsent {
		for _, m := range posture.Metrics() {
			a.metricStats[m].Add(r.Filtered.Value(m))
		}
	}

	for _, alert := range posture.Alerts() {
		active := r.HasAlert(alert)
		if active {
			a.alertFrames[alert]++
			if !a.alertActive[alert] {
				a.activations[alert]++
			}
		}
		a.alertActive[alert] = active
	}

	evidence := 0.0
	if len(r.Alerts) > 0 {
		evidence = 1.0
	}
	wasBad := a.badPosture.Active()
	if a.badPosture.Update(evidence) {
		a.badFrames++
		if !wasBad {
			a.badSpells++
		}
	}

	a.buf = append(a.buf, r)
	if len(a.buf) >= a.cfg.Capacity {
		a.worker.enqueue(a.buf)
		a.buf = make([]posture.Reading, 0, a.cfg.Capacity)
	}
}

// Pending returns the number of readings buffered but not yet handed to the
// flush worker.
func (a *Aggregator) Pending() int { return len(a.buf) }

// Finalize flushes the partial buffer, drains the flush worker, gives
// dead-lettered batches one last synchronous write, persists the aggregate
// and returns it. A second call returns the same aggregate without touching
// storage; the returned error reports an aggregate write failure.
func (a *Aggregator) Finalize() (*SessionAggregate, error) {
	if a.closed {
		return a.result, nil
	}
	a.closed = true

	if len(a.buf) > 0 {
		a.worker.enqueue(a.buf)
		a.buf = nil
	}
	a.worker.stop()

	warnings := a.worker.takeWarnings()
	for _, batch := range a.worker.takeDeadLetters() {
		if err := a.writer.WriteReadings(a.cfg.SessionID, batch); err != nil {
			warnings = append(warnings,
				fmt.Sprintf("dropped %d readings after final write attempt: %v", len(batch), err))
		}
	}

	agg := a.buildAggregate(warnings)
	var err error
	if werr := a.writer.WriteAggregate(agg); werr != nil {
		err = fmt.Errorf("telemetry: session %s: writing aggregate: %w", a.cfg.SessionID, werr)
		agg.Warnings = append(agg.Warnings, fmt.Sprintf("aggregate write failed: %v", werr))
	}
	a.result = agg
	return agg, err
}

func (a *Aggregator) buildAggregate(warnings []string) *SessionAggregate {
	agg := &SessionAggregate{
		SessionID:        a.cfg.SessionID,
		User:             a.cfg.User,
		StartedAt:        a.startedAt,
		EndedAt:          a.clock.Now(),
		FrameInterval:    a.cfg.FrameInterval,
		TotalFrames:      a.totalFrames,
		Positions:        make(map[posture.Position]PositionStat),
		AlertActivations: make(map[posture.Alert]int64),
		AlertFrames:      make(map[posture.Alert]int64),
		Metrics:          make(map[posture.Metric]MetricSummary),
		BadPostureSpells: a.badSpells,
		BadPostureFrames: a.badFrames,
		Warnings:         warnings,
	}

	for _, pos := range []posture.Position{posture.PositionStanding, posture.PositionSitting, posture.PositionAbsent} {
		frames := a.positionFrames[pos]
		stat := PositionStat{
			Frames:   frames,
			Duration: time.Duration(frames) * a.cfg.FrameInterval,
		}
		if a.totalFrames > 0 {
			stat.Percent = 100 * float64(frames) / float64(a.totalFrames)
		}
		agg.Positions[pos] = stat
	}
	agg.MaxStandingStreak = time.Duration(a.maxStanding) * a.cfg.FrameInterval

	var totalActivations int64
	for _, alert := range posture.Alerts() {
		agg.AlertActivations[alert] = a.activations[alert]
		agg.AlertFrames[alert] = a.alertFrames[alert]
		totalActivations += a.activations[alert]
	}
	if sessionMinutes := (time.Duration(a.totalFrames) * a.cfg.FrameInterval).Minutes(); sessionMinutes > 0 {
		agg.AlertsPerMinute = float64(totalActivations) / sessionMinutes
	}
	for _, m := range posture.Metrics() {
		agg.Metrics[m] = a.metricStats[m].Summary()
	}
	return agg
}
