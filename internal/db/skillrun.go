package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SkillRun represents an external-skill execution window.
type SkillRun struct {
	ID          int64      `json:"id"`
	SkillName   string     `json:"skill_name"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CostDollars float64    `json:"cost_dollars"`
	TokensIn    int64      `json:"tokens_in"`
	TokensOut   int64      `json:"tokens_out"`
	Model       *string    `json:"model,omitempty"`
	Metadata    *string    `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

const skillRunColumns = `id, skill_name, started_at, ended_at, cost_dollars,
	tokens_in, tokens_out, model, metadata, created_at`

func scanSkillRun(r rowScanner) (*SkillRun, error) {
	var s SkillRun
	var startedAt, createdAt string
	var endedAt, model, metadata sql.NullString
	if err := r.Scan(&s.ID, &s.SkillName, &startedAt, &endedAt, &s.CostDollars,
		&s.TokensIn, &s.TokensOut, &model, &metadata, &createdAt); err != nil {
		return nil, err
	}
	s.StartedAt = parseTime(startedAt)
	s.EndedAt = parseTimePtr(nullStr(endedAt))
	s.Model = nullStr(model)
	s.Metadata = nullStr(metadata)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

// InsertSkillRun opens a skill-run window.
func (d *DB) InsertSkillRun(skillName string, startedAt time.Time, metadata string) (int64, error) {
	var meta *string
	if metadata != "" {
		meta = &metadata
	}
	res, err := d.Exec(`INSERT INTO skill_runs
		(skill_name, started_at, metadata, created_at)
		VALUES (?, ?, ?, ?)`,
		skillName, fmtTime(startedAt), meta, fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert skill run: %w", err)
	}
	return res.LastInsertId()
}

// GetSkillRun loads one skill run by id.
func (d *DB) GetSkillRun(id int64) (*SkillRun, error) {
	row := d.QueryRow("SELECT "+skillRunColumns+" FROM skill_runs WHERE id = ?", id)
	s, err := scanSkillRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skill run %d: %w", id, err)
	}
	return s, nil
}

// FinishSkillRun sets the window end.
func (d *DB) FinishSkillRun(id int64, endedAt time.Time) error {
	res, err := d.Exec(`UPDATE skill_runs SET ended_at = ? WHERE id = ?`,
		fmtTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("finish skill run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListSkillRuns returns skill runs, newest first.
func (d *DB) ListSkillRuns(skillName string) ([]*SkillRun, error) {
	query := "SELECT " + skillRunColumns + " FROM skill_runs"
	var args []any
	if skillName != "" {
		query += " WHERE skill_name = ?"
		args = append(args, skillName)
	}
	query += " ORDER BY id DESC"

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skill runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SkillRun
	for rows.Next() {
		s, err := scanSkillRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSkillRunTotals writes attributed totals back to a skill run. Runs
// inside tx when non-nil.
func (d *DB) SetSkillRunTotals(tx *sql.Tx, id int64, cost float64, tokensIn, tokensOut int64, model string) error {
	var m *string
	if model != "" {
		m = &model
	}
	exec := d.Exec
	if tx != nil {
		exec = tx.Exec
	}
	_, err := exec(`UPDATE skill_runs
		SET cost_dollars = ?, tokens_in = ?, tokens_out = ?, model = COALESCE(?, model)
		WHERE id = ?`, cost, tokensIn, tokensOut, m, id)
	if err != nil {
		return fmt.Errorf("set skill run totals: %w", err)
	}
	return nil
}
