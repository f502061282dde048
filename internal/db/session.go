package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Session represents a work session row.
type Session struct {
	ID              int64      `json:"id"`
	TaskID          int64      `json:"task_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	LinesAdded      int64      `json:"lines_added"`
	LinesRemoved    int64      `json:"lines_removed"`
	CostDollars     float64    `json:"cost_dollars"`
	TokensIn        int64      `json:"tokens_in"`
	TokensOut       int64      `json:"tokens_out"`
	Model           *string    `json:"model,omitempty"`
	AgentName       *string    `json:"agent_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const sessionColumns = `id, task_id, started_at, ended_at, duration_seconds,
	lines_added, lines_removed, cost_dollars, tokens_in, tokens_out, model,
	agent_name, created_at`

func scanSession(r rowScanner) (*Session, error) {
	var s Session
	var startedAt, createdAt string
	var endedAt, model, agentName sql.NullString
	var duration sql.NullInt64
	if err := r.Scan(&s.ID, &s.TaskID, &startedAt, &endedAt, &duration,
		&s.LinesAdded, &s.LinesRemoved, &s.CostDollars, &s.TokensIn, &s.TokensOut,
		&model, &agentName, &createdAt); err != nil {
		return nil, err
	}
	s.StartedAt = parseTime(startedAt)
	s.EndedAt = parseTimePtr(nullStr(endedAt))
	if duration.Valid {
		v := duration.Int64
		s.DurationSeconds = &v
	}
	s.Model = nullStr(model)
	s.AgentName = nullStr(agentName)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

// InsertSession opens a session. The partial unique index rejects a
// second open session on the same task; callers catch the unique
// violation and reuse the winner's row.
func (d *DB) InsertSession(taskID int64, startedAt time.Time, agentName string) (int64, error) {
	var agent *string
	if agentName != "" {
		agent = &agentName
	}
	res, err := d.Exec(`INSERT INTO task_sessions
		(task_id, started_at, agent_name, created_at)
		VALUES (?, ?, ?, ?)`,
		taskID, fmtTime(startedAt), agent, fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSession loads one session by id.
func (d *DB) GetSession(id int64) (*Session, error) {
	row := d.QueryRow("SELECT "+sessionColumns+" FROM task_sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}

// OpenSession returns the open session for a task, or nil.
func (d *DB) OpenSession(taskID int64) (*Session, error) {
	row := d.QueryRow("SELECT "+sessionColumns+` FROM task_sessions
		WHERE task_id = ? AND ended_at IS NULL`, taskID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session for task %d: %w", taskID, err)
	}
	return s, nil
}

// ListSessions returns sessions for a task, oldest first.
func (d *DB) ListSessions(taskID int64) ([]*Session, error) {
	rows, err := d.Query("SELECT "+sessionColumns+` FROM task_sessions
		WHERE task_id = ? ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CloseSession ends a session, computing the floored duration from
// started_at. Returns the closed session. No-op error when already closed.
func (d *DB) CloseSession(id int64, endedAt time.Time) (*Session, error) {
	s, err := d.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, sql.ErrNoRows
	}
	if s.EndedAt != nil {
		return s, nil
	}
	duration := int64(endedAt.Sub(s.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	if _, err := d.Exec(`UPDATE task_sessions
		SET ended_at = ?, duration_seconds = ? WHERE id = ?`,
		fmtTime(endedAt), duration, id); err != nil {
		return nil, fmt.Errorf("close session %d: %w", id, err)
	}
	return d.GetSession(id)
}

// CloseOpenSessions closes every open session for a task and returns the
// number closed.
func (d *DB) CloseOpenSessions(taskID int64, endedAt time.Time) (int, error) {
	rows, err := d.Query(`SELECT id FROM task_sessions
		WHERE task_id = ? AND ended_at IS NULL`, taskID)
	if err != nil {
		return 0, fmt.Errorf("open sessions for task %d: %w", taskID, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := d.CloseSession(id, endedAt); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// SetSessionTotals writes attributed totals back to a session. Runs
// inside tx when non-nil.
func (d *DB) SetSessionTotals(tx *sql.Tx, id int64, cost float64, tokensIn, tokensOut int64, model string) error {
	var m *string
	if model != "" {
		m = &model
	}
	exec := d.Exec
	if tx != nil {
		exec = tx.Exec
	}
	_, err := exec(`UPDATE task_sessions
		SET cost_dollars = ?, tokens_in = ?, tokens_out = ?, model = COALESCE(?, model)
		WHERE id = ?`, cost, tokensIn, tokensOut, m, id)
	if err != nil {
		return fmt.Errorf("set session totals: %w", err)
	}
	return nil
}

// SetSessionDiffStats records lines added/removed captured by external
// diff tooling.
func (d *DB) SetSessionDiffStats(id int64, added, removed int64) error {
	_, err := d.Exec(`UPDATE task_sessions
		SET lines_added = ?, lines_removed = ? WHERE id = ?`, added, removed, id)
	if err != nil {
		return fmt.Errorf("set session diff stats: %w", err)
	}
	return nil
}

// MostRecentSessionStart returns the latest session start for a task, or
// nil when the task has no sessions.
func (d *DB) MostRecentSessionStart(taskID int64) (*time.Time, error) {
	var started sql.NullString
	err := d.QueryRow(`SELECT MAX(started_at) FROM task_sessions WHERE task_id = ?`,
		taskID).Scan(&started)
	if err != nil {
		return nil, fmt.Errorf("most recent session start: %w", err)
	}
	return parseTimePtr(nullStr(started)), nil
}
