package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session statuses as stored in the sessions table.
const (
	SessionActive  = "active"
	SessionClosed  = "closed"
	SessionAborted = "aborted"
)

// SessionInfo is one row of the sessions table.
type SessionInfo struct {
	ID         string
	User       string
	BaselineID string
	Status     string
	StartedAt  time.Time
	EndedAt    time.Time // zero while the session is active
}

// CreateSession records the start of a monitoring session.
func (s *Store) CreateSession(id, user, baselineID string, startedAt time.Time) error {
	if err := s.EnsureUser(user); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user, baseline_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, user, baselineID, SessionActive, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("store: creating session %s: %w", id, err)
	}
	return nil
}

// MarkSessionAborted flags a session that ended without a clean finalize.
func (s *Store) MarkSessionAborted(id string, endedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		SessionAborted, formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("store: aborting session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Session returns one session row by id.
func (s *Store) Session(id string) (*SessionInfo, error) {
	row := s.db.QueryRow(`
		SELECT id, user, COALESCE(baseline_id, ''), status, started_at, COALESCE(ended_at, '')
		FROM sessions WHERE id = ?`, id)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}
	return info, err
}

// Sessions lists a user's sessions, newest first.
func (s *Store) Sessions(user string) ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT id, user, COALESCE(baseline_id, ''), status, started_at, COALESCE(ended_at, '')
		FROM sessions WHERE user = ? ORDER BY started_at DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions for %s: %w", user, err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionInfo, error) {
	var info SessionInfo
	var startedAt, endedAt string
	if err := row.Scan(&info.ID, &info.User, &info.BaselineID, &info.Status, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	var err error
	if info.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("store: session %s has bad started_at: %w", info.ID, err)
	}
	if endedAt != "" {
		if info.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, fmt.Errorf("store: session %s has bad ended_at: %w", info.ID, err)
		}
	}
	return &info, nil
}
