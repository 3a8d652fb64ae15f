package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/telemetry"
)

// WriteAggregate stores the final session report and closes the session row.
// Implements telemetry.BatchWriter.
func (s *Store) WriteAggregate(agg *telemetry.SessionAggregate) error {
	detail, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("store: encoding aggregate for %s: %w", agg.SessionID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning report write for %s: %w", agg.SessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO reports (
			session_id, total_frames, frame_interval_ns, started_at, ended_at,
			standing_frames, sitting_frames, absent_frames,
			bad_posture_spells, bad_posture_frames, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			total_frames = excluded.total_frames,
			ended_at = excluded.ended_at,
			standing_frames = excluded.standing_frames,
			sitting_frames = excluded.sitting_frames,
			absent_frames = excluded.absent_frames,
			bad_posture_spells = excluded.bad_posture_spells,
			bad_posture_frames = excluded.bad_posture_frames,
			detail = excluded.detail`,
		agg.SessionID, agg.TotalFrames, int64(agg.FrameInterval),
		formatTime(agg.StartedAt), formatTime(agg.EndedAt),
		agg.Positions[posture.PositionStanding].Frames,
		agg.Positions[posture.PositionSitting].Frames,
		agg.Positions[posture.PositionAbsent].Frames,
		agg.BadPostureSpells, agg.BadPostureFrames, string(detail),
	); err != nil {
		return fmt.Errorf("store: writing report for %s: %w", agg.SessionID, err)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET status = ?, ended_at = ?
		WHERE id = ? AND status = ?`,
		SessionClosed, formatTime(agg.EndedAt), agg.SessionID, SessionActive,
	); err != nil {
		return fmt.Errorf("store: closing session %s: %w", agg.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing report for %s: %w", agg.SessionID, err)
	}
	return nil
}

// Report loads the stored aggregate for a session, or ErrNotFound.
func (s *Store) Report(sessionID string) (*telemetry.SessionAggregate, error) {
	var detail string
	err := s.db.QueryRow(`SELECT detail FROM reports WHERE session_id = ?`, sessionID).Scan(&detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: report for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading report for %s: %w", sessionID, err)
	}

	var agg telemetry.SessionAggregate
	if err := json.Unmarshal([]byte(detail), &agg); err != nil {
		return nil, fmt.Errorf("store: decoding report for %s: %w", sessionID, err)
	}
	return &agg, nil
}
