// Command posture-report replays a recorded landmark log through the posture
// pipeline: calibrate a user baseline, run an analysis session against the
// store and serve readings to live subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/upright-data/posture.report/internal/config"
	"github.com/upright-data/posture.report/internal/live"
	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/session"
	"github.com/upright-data/posture.report/internal/store"
	"github.com/upright-data/posture.report/internal/telemetry"
)

var (
	dbPath      = flag.String("db", "posture_data.db", "Path to the SQLite database")
	replayPath  = flag.String("replay", "", "Recorded landmark log (JSONL) to replay")
	user        = flag.String("user", "", "User the session belongs to")
	calibrateUp = flag.Bool("calibrate", false, "Capture a fresh baseline before analysis")
	listen      = flag.String("listen", ":8080", "Listen address for the live hub (empty disables)")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker URL for live readings (empty disables)")
	tuningPath  = flag.String("config", "", "Tuning overrides JSON file")
	realtime    = flag.Bool("realtime", false, "Pace the replay at the nominal sample rate")
)

func main() {
	flag.Parse()

	if *replayPath == "" {
		log.Fatal("-replay is required")
	}
	if *user == "" {
		log.Fatal("-user is required")
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*tuningPath); err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	logFile, err := os.Open(*replayPath)
	if err != nil {
		log.Fatalf("failed to open replay log: %v", err)
	}
	defer logFile.Close()
	reader := NewReplayReader(logFile, tuning.GetSampleRate())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseline, err := resolveBaseline(ctx, st, reader, tuning)
	if err != nil {
		log.Fatalf("failed to resolve baseline: %v", err)
	}
	log.Printf("using baseline %s for %s (created %s)", baseline.ID, baseline.User,
		baseline.CreatedAt.Format(time.RFC3339))

	if err := runAnalysis(ctx, st, reader, tuning, baseline); err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
}

// resolveBaseline either captures a fresh baseline from the head of the
// replay log or loads the user's latest stored one.
func resolveBaseline(ctx context.Context, st *store.Store, reader *ReplayReader, tuning *config.TuningConfig) (*posture.Baseline, error) {
	if !*calibrateUp {
		baseline, err := st.LatestBaseline(*user)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no baseline for %s; run with -calibrate first", *user)
		}
		return baseline, err
	}

	cal, err := posture.NewCalibrator(*user, tuning.CalibratorConfig())
	if err != nil {
		return nil, err
	}

	log.Printf("calibrating %s: hold a neutral posture", *user)
	for !cal.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		progress := cal.Observe(sample)
		if progress.Collected > 0 && progress.Collected%30 == 0 {
			log.Printf("calibration %s: %d/%d frames", progress.Phase, progress.Collected, progress.Target)
		}
	}

	baseline, err := cal.Result()
	if err != nil {
		return nil, err
	}
	if err := st.SaveBaseline(baseline); err != nil {
		return nil, err
	}
	log.Printf("calibration complete: baseline %s saved", baseline.ID)
	return baseline, nil
}

// runAnalysis drives the remaining replay frames through a session and
// prints the final report.
func runAnalysis(ctx context.Context, st *store.Store, reader *ReplayReader, tuning *config.TuningConfig, baseline *posture.Baseline) error {
	classifier, err := posture.NewClassifier(baseline, tuning.ClassifierConfig())
	if err != nil {
		return err
	}

	sessionID := uuid.New().String()
	agg, err := telemetry.NewAggregator(st, tuning.TelemetryConfig(sessionID, *user))
	if err != nil {
		return err
	}

	var publishers []session.Publisher
	var wg sync.WaitGroup
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()

	if *listen != "" {
		hub := live.NewHub()
		defer hub.Close()
		publishers = append(publishers, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHub(hubCtx, hub)
		}()
	}
	if *mqttBroker != "" {
		pub, err := live.NewMQTTPublisher(live.DefaultMQTTConfig(*mqttBroker))
		if err != nil {
			return err
		}
		defer pub.Close()
		publishers = append(publishers, pub)
	}

	if err := st.CreateSession(sessionID, *user, baseline.ID, time.Now().UTC()); err != nil {
		return err
	}

	sess, err := session.New(sessionID, *user, classifier, agg, publishers...)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	log.Printf("session %s started", sessionID)

	interval := time.Duration(float64(time.Second) / tuning.GetSampleRate())
	if err := feedFrames(ctx, sess, reader, interval); err != nil {
		return err
	}

	result, err := sess.Stop()
	if errors.Is(err, session.ErrAborted) {
		log.Printf("session interrupted: %v", err)
		if merr := st.MarkSessionAborted(sessionID, time.Now().UTC()); merr != nil {
			log.Printf("failed to mark session aborted: %v", merr)
		}
	} else if err != nil {
		return err
	}
	stopHub()
	stopAndWait(&wg)

	printSummary(result)
	return nil
}

func feedFrames(ctx context.Context, sess *session.Session, reader *ReplayReader, interval time.Duration) error {
	var ticker *time.Ticker
	if *realtime {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		sample, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		for !sess.Offer(*sample) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
}

func serveHub(ctx context.Context, hub *live.Hub) {
	mux := http.NewServeMux()
	mux.Handle("/live", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		log.Printf("live hub listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("live hub server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("live hub shutdown error: %v", err)
	}
}

func stopAndWait(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("timed out waiting for live hub shutdown")
	}
}

func printSummary(result *telemetry.SessionAggregate) {
	if result == nil {
		return
	}
	log.Printf("session %s: %d frames over %s", result.SessionID, result.TotalFrames,
		result.EndedAt.Sub(result.StartedAt).Round(time.Second))
	for _, pos := range []posture.Position{posture.PositionStanding, posture.PositionSitting, posture.PositionAbsent} {
		stat := result.Positions[pos]
		log.Printf("  %-8s %6d frames  %5.1f%%  %s", pos, stat.Frames, stat.Percent,
			stat.Duration.Round(time.Second))
	}
	if result.MaxStandingStreak > 0 {
		log.Printf("  longest standing run: %s", result.MaxStandingStreak.Round(time.Second))
	}
	for _, alert := range posture.Alerts() {
		if n := result.AlertActivations[alert]; n > 0 {
			log.Printf("  alert %-15s %d activations, %d frames", alert, n, result.AlertFrames[alert])
		}
	}
	if result.AlertsPerMinute > 0 {
		log.Printf("  alerts per minute: %.2f", result.AlertsPerMinute)
	}
	if result.BadPostureSpells > 0 {
		log.Printf("  bad posture: %d sustained spells (%d frames)", result.BadPostureSpells, result.BadPostureFrames)
	}
	for _, warning := range result.Warnings {
		log.Printf("  warning: %s", warning)
	}
}
