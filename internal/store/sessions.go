package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session is one completed update or collection run.
type Session struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Device        string    `json:"device"`
	Version       string    `json:"version"`
	SerialBefore  string    `json:"serial_before,omitempty"`
	SerialAfter   string    `json:"serial_after,omitempty"`
	Project       string    `json:"project,omitempty"`
	Deployment    string    `json:"deployment,omitempty"`
	Community     string    `json:"community,omitempty"`
	Packages      []string  `json:"packages,omitempty"`
	Action        string    `json:"action"`
	Success       bool      `json:"success"`
	Verified      bool      `json:"verified"`
	HadCorruption bool      `json:"had_corruption"`
	Reformat      string    `json:"reformat"`
	ErrorMessage  string    `json:"error,omitempty"`
}

// Duration is the wall time of the session.
func (s Session) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// RecordSession stores a finished session. Recording the same id twice
// overwrites the earlier row.
func (s *Store) RecordSession(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("record session: id is required")
	}
	err := s.execWithoutResultRetry(ctx, `INSERT OR REPLACE INTO sessions
		(id, started_at, finished_at, device, version, serial_before, serial_after, project, deployment,
		 community, packages, action, success, verified, had_corruption, reformat, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, formatTime(sess.StartedAt), formatTime(sess.FinishedAt), sess.Device, sess.Version,
		sess.SerialBefore, sess.SerialAfter, sess.Project, sess.Deployment, sess.Community,
		strings.Join(sess.Packages, ","), sess.Action, boolToInt(sess.Success), boolToInt(sess.Verified),
		boolToInt(sess.HadCorruption), sess.Reformat, sess.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Serial string
	Limit  int
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, started_at, finished_at, device, version, serial_before, serial_after, project,
		deployment, community, packages, action, success, verified, had_corruption, reformat, error_message
		FROM sessions`
	var args []any
	if serial := strings.TrimSpace(filter.Serial); serial != "" {
		query += " WHERE serial_after = ? OR serial_before = ?"
		args = append(args, serial, serial)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess                        Session
			started, finished, packages string
			success, verified, corrupt  int
		)
		if err := rows.Scan(&sess.ID, &started, &finished, &sess.Device, &sess.Version, &sess.SerialBefore,
			&sess.SerialAfter, &sess.Project, &sess.Deployment, &sess.Community, &packages, &sess.Action,
			&success, &verified, &corrupt, &sess.Reformat, &sess.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = parseTime(started)
		sess.FinishedAt = parseTime(finished)
		if packages != "" {
			sess.Packages = strings.Split(packages, ",")
		}
		sess.Success = success != 0
		sess.Verified = verified != 0
		sess.HadCorruption = corrupt != 0
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
