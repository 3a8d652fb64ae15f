package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/upright-data/posture.report/internal/posture"
)

// SaveBaseline persists a calibration baseline, creating the user row if
// needed. Baselines are never updated; the newest row per user wins.
func (s *Store) SaveBaseline(b *posture.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.EnsureUser(b.User); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO baselines (
			id, user, head_pitch, head_yaw, head_roll, trunk_pitch, trunk_roll,
			shoulder_elevation, shoulder_width, chest_depth,
			up_x, up_y, up_z, sample_rate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.User, b.HeadPitch, b.HeadYaw, b.HeadRoll, b.TrunkPitch, b.TrunkRoll,
		b.ShoulderElevation, b.ShoulderWidth, b.ChestDepth,
		b.Up.X, b.Up.Y, b.Up.Z, b.SampleRate, formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: saving baseline %s: %w", b.ID, err)
	}
	return nil
}

// LatestBaseline returns the most recently created baseline for a user, or
// ErrNotFound when the user has never calibrated.
func (s *Store) LatestBaseline(user string) (*posture.Baseline, error) {
	row := s.db.QueryRow(`
		SELECT id, user, head_pitch, head_yaw, head_roll, trunk_pitch, trunk_roll,
		       shoulder_elevation, shoulder_width, chest_depth,
		       up_x, up_y, up_z, sample_rate, created_at
		FROM baselines
		WHERE user = ?
		ORDER BY created_at DESC
		LIMIT 1`, user)

	var b posture.Baseline
	var createdAt string
	err := row.Scan(
		&b.ID, &b.User, &b.HeadPitch, &b.HeadYaw, &b.HeadRoll, &b.TrunkPitch, &b.TrunkRoll,
		&b.ShoulderElevation, &b.ShoulderWidth, &b.ChestDepth,
		&b.Up.X, &b.Up.Y, &b.Up.Z, &b.SampleRate, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: baseline for user %s: %w", user, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading baseline for user %s: %w", user, err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: baseline %s has bad created_at: %w", b.ID, err)
	}
	return &b, nil
}
