package store

import (
	"fmt"
	"strings"

	"github.com/upright-data/posture.report/internal/posture"
)

// WriteReadings inserts one batch of readings in a single transaction, so a
// batch lands fully or not at all. Implements telemetry.BatchWriter.
func (s *Store) WriteReadings(sessionID string, readings []posture.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning readings batch for %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO readings (
			session_id, frame_number, timestamp, position,
			head_pitch, head_yaw, head_roll, trunk_pitch, trunk_roll,
			elevation_mean, elevation_asym,
			diff_head_pitch, diff_head_yaw, diff_head_roll,
			diff_trunk_pitch, diff_trunk_roll,
			diff_elevation_mean, diff_elevation_asym,
			shoulder_width, trunk_valid, alerts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: preparing readings insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.Exec(
			sessionID, r.FrameNumber, formatTime(r.Timestamp), string(r.Position),
			r.Filtered.HeadPitch, r.Filtered.HeadYaw, r.Filtered.HeadRoll,
			r.Filtered.TrunkPitch, r.Filtered.TrunkRoll,
			r.Filtered.ElevationMean, r.Filtered.ElevationAsym,
			r.Diff.HeadPitch, r.Diff.HeadYaw, r.Diff.HeadRoll,
			r.Diff.TrunkPitch, r.Diff.TrunkRoll,
			r.Diff.ElevationMean, r.Diff.ElevationAsym,
			r.ShoulderWidth, r.TrunkValid, joinAlerts(r.Alerts),
		); err != nil {
			return fmt.Errorf("store: inserting reading %d for %s: %w", r.FrameNumber, sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing readings batch for %s: %w", sessionID, err)
	}
	return nil
}

// ReadingSeries loads all readings of a session in frame order. Raw metrics
// are not persisted, so the returned readings carry filtered and diff values
// only.
func (s *Store) ReadingSeries(sessionID string) ([]posture.Reading, error) {
	rows, err := s.db.Query(`
		SELECT frame_number, timestamp, position,
		       head_pitch, head_yaw, head_roll, trunk_pitch, trunk_roll,
		       elevation_mean, elevation_asym,
		       diff_head_pitch, diff_head_yaw, diff_head_roll,
		       diff_trunk_pitch, diff_trunk_roll,
		       diff_elevation_mean, diff_elevation_asym,
		       shoulder_width, trunk_valid, alerts
		FROM readings WHERE session_id = ? ORDER BY frame_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: loading readings for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []posture.Reading
	for rows.Next() {
		var r posture.Reading
		var ts, position, alerts string
		if err := rows.Scan(
			&r.FrameNumber, &ts, &position,
			&r.Filtered.HeadPitch, &r.Filtered.HeadYaw, &r.Filtered.HeadRoll,
			&r.Filtered.TrunkPitch, &r.Filtered.TrunkRoll,
			&r.Filtered.ElevationMean, &r.Filtered.ElevationAsym,
			&r.Diff.HeadPitch, &r.Diff.HeadYaw, &r.Diff.HeadRoll,
			&r.Diff.TrunkPitch, &r.Diff.TrunkRoll,
			&r.Diff.ElevationMean, &r.Diff.ElevationAsym,
			&r.ShoulderWidth, &r.TrunkValid, &alerts,
		); err != nil {
			return nil, fmt.Errorf("store: scanning reading for %s: %w", sessionID, err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("store: reading %d for %s has bad timestamp: %w", r.FrameNumber, sessionID, err)
		}
		r.Position = posture.Position(position)
		r.Alerts = splitAlerts(alerts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinAlerts(alerts []posture.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	parts := make([]string, len(alerts))
	for i, a := range alerts {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

func splitAlerts(s string) []posture.Alert {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	alerts := make([]posture.Alert, len(parts))
	for i, p := range parts {
		alerts[i] = posture.Alert(p)
	}
	return alerts
}
