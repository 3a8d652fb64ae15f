package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/upright-data/posture.report/internal/monitoring"
	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/timeutil"
)

// flushWorker drains reading batches to a BatchWriter on a background
// goroutine. The queue is an ordered slice guarded by a mutex rather than a
// bounded channel so that enqueue never blocks the frame path and batches are
// written strictly in FIFO order. Batches that exhaust their write retries
// are parked in a dead-letter list for one final attempt at session close.
type flushWorker struct {
	writer    BatchWriter
	sessionID string
	clock     timeutil.Clock
	retries   int
	backoff   time.Duration

	mu       sync.Mutex
	queue    [][]posture.Reading
	dead     [][]posture.Reading
	warnings []string

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newFlushWorker(writer BatchWriter, sessionID string, clock timeutil.Clock, retries int, backoff time.Duration) *flushWorker {
	w := &flushWorker{
		writer:    writer,
		sessionID: sessionID,
		clock:     clock,
		retries:   retries,
		backoff:   backoff,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue appends a batch to the queue and nudges the worker. Never blocks.
func (w *flushWorker) enqueue(batch []posture.Reading) {
	if len(batch) == 0 {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, batch)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop drains the queue, writes everything still pending and waits for the
// worker goroutine to exit. Safe to call once.
func (w *flushWorker) stop() {
	close(w.stopCh)
	<-w.doneCh
}

// takeDeadLetters returns the batches that exhausted their retries and
// clears the list.
func (w *flushWorker) takeDeadLetters() [][]posture.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()
	dead := w.dead
	w.dead = nil
	return dead
}

// takeWarnings returns accumulated warnings and clears the list.
func (w *flushWorker) takeWarnings() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	warnings := w.warnings
	w.warnings = nil
	return warnings
}

func (w *flushWorker) run() {
	defer close(w.doneCh)
	for {
		if batch, ok := w.pop(); ok {
			w.write(batch)
			continue
		}
		select {
		case <-w.wake:
		case <-w.stopCh:
			for {
				batch, ok := w.pop()
				if !ok {
					return
				}
				w.write(batch)
			}
		}
	}
}

func (w *flushWorker) pop() ([]posture.Reading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	batch := w.queue[0]
	w.queue = w.queue[1:]
	return batch, true
}

// write attempts to persist one batch, retrying with backoff. On exhaustion
// the batch moves to the dead-letter list and a warning is recorded.
func (w *flushWorker) write(batch []posture.Reading) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			w.clock.Sleep(w.backoff)
		}
		if err = w.writer.WriteReadings(w.sessionID, batch); err == nil {
			return
		}
		monitoring.Logf("telemetry: session %s: batch write attempt %d/%d failed: %v",
			w.sessionID, attempt+1, w.retries+1, err)
	}

	w.mu.Lock()
	w.dead = append(w.dead, batch)
	w.warnings = append(w.warnings,
		fmt.Sprintf("batch of %d readings failed after %d attempts: %v", len(batch), w.retries+1, err))
	w.mu.Unlock()
}
