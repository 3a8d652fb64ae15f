// Package session runs one monitoring session: it feeds landmark samples
// through the classifier, hands readings to the telemetry aggregator and
// fans them out to live subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upright-data/posture.report/internal/geom"
	"github.com/upright-data/posture.report/internal/monitoring"
	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/telemetry"
)

// ErrAborted is returned by Stop when the session context was cancelled
// before all offered frames were processed. Readings produced up to that
// point are still aggregated and persisted.
var ErrAborted = errors.New("session aborted with unprocessed frames")

// DefaultQueueSize is the frame queue depth between the producer and the
// session loop. At 30 fps this buys about two seconds of slack.
const DefaultQueueSize = 64

// Publisher receives every reading a session produces. Implementations must
// not block; the live layer drops on slow consumers.
type Publisher interface {
	Publish(r *posture.Reading)
}

// Session owns the per-session pipeline. Offer is safe for one producer
// goroutine; Start and Stop manage the consuming loop.
type Session struct {
	id         string
	user       string
	classifier *posture.Classifier
	agg        *telemetry.Aggregator
	publishers []Publisher

	frames chan geom.Sample
	stopCh chan struct{}
	doneCh chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	aborted   bool
	processed int64
	dropped   int64

	stopOnce     sync.Once
	finalizeOnce sync.Once
	result       *telemetry.SessionAggregate
	finalErr     error
}

// New assembles a session around an already-calibrated classifier and a
// fresh aggregator. Publishers are optional.
func New(id, user string, classifier *posture.Classifier, agg *telemetry.Aggregator, publishers ...Publisher) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: id must not be empty")
	}
	if classifier == nil {
		return nil, fmt.Errorf("session: classifier must not be nil")
	}
	if agg == nil {
		return nil, fmt.Errorf("session: aggregator must not be nil")
	}
	return &Session{
		id:         id,
		user:       user,
		classifier: classifier,
		agg:        agg,
		publishers: publishers,
		frames:     make(chan geom.Sample, DefaultQueueSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// User returns the subject the session was started for.
func (s *Session) User() string { return s.user }

// Start launches the frame loop. Cancelling ctx aborts the session: frames
// still queued are counted as dropped and Stop reports ErrAborted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session %s: already started", s.id)
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Offer hands one sample to the session without blocking. It returns false,
// counting the frame as dropped, when the queue is full or the session has
// stopped.
func (s *Session) Offer(sample geom.Sample) bool {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case s.frames <- sample:
		return true
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return false
	}
}

// Stop drains the queue, waits for the loop to exit and finalizes the
// aggregator exactly once. Subsequent calls return the same result. If the
// session context was cancelled first, Stop returns ErrAborted alongside
// the aggregate built from the frames that were processed.
func (s *Session) Stop() (*telemetry.SessionAggregate, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: not started", s.id)
	}
	s.stopped = true
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh

	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		if s.aborted {
			// The loop is gone; anything still queued will never run.
			s.dropped += int64(len(s.frames))
		}
		aborted, dropped := s.aborted, s.dropped
		s.mu.Unlock()

		s.result, s.finalErr = s.agg.Finalize()
		if aborted && s.finalErr == nil {
			s.finalErr = fmt.Errorf("session %s: %w (%d frames lost)", s.id, ErrAborted, dropped)
		}
	})
	return s.result, s.finalErr
}

// Processed returns the number of frames run through the classifier.
func (s *Session) Processed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// Dropped returns the number of frames rejected or lost.
func (s *Session) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		// Cancellation wins over queued frames.
		select {
		case <-ctx.Done():
			s.abort()
			return
		default:
		}

		select {
		case <-ctx.Done():
			s.abort()
			return
		case <-s.stopCh:
			for {
				select {
				case sample := <-s.frames:
					s.process(sample)
				default:
					return
				}
			}
		case sample := <-s.frames:
			s.process(sample)
		}
	}
}

func (s *Session) process(sample geom.Sample) {
	reading := s.classifier.Step(&sample)
	s.agg.Record(reading)
	for _, p := range s.publishers {
		p.Publish(&reading)
	}
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

func (s *Session) abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	monitoring.Logf("session %s: aborted, queued frames will be lost", s.id)
}
