package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Criterion represents an acceptance criterion row.
type Criterion struct {
	ID               int64      `json:"id"`
	TaskID           int64      `json:"task_id"`
	Criterion        string     `json:"criterion"`
	Source           string     `json:"source"`
	IsCompleted      bool       `json:"is_completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CriterionType    string     `json:"criterion_type"`
	VerificationSpec *string    `json:"verification_spec,omitempty"`
	CommitHash       *string    `json:"commit_hash,omitempty"`
	CommittedAt      *time.Time `json:"committed_at,omitempty"`
	IsDeferred       bool       `json:"is_deferred"`
	CostDollars      *float64   `json:"cost_dollars,omitempty"`
	TokensIn         *int64     `json:"tokens_in,omitempty"`
	TokensOut        *int64     `json:"tokens_out,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

const criterionColumns = `id, task_id, criterion, source, is_completed, completed_at,
	criterion_type, verification_spec, commit_hash, committed_at, is_deferred,
	cost_dollars, tokens_in, tokens_out, created_at, updated_at`

func scanCriterion(r rowScanner) (*Criterion, error) {
	var c Criterion
	var completed, deferred int
	var createdAt, updatedAt string
	var completedAt, spec, commitHash, committedAt sql.NullString
	var cost sql.NullFloat64
	var tokensIn, tokensOut sql.NullInt64

	err := r.Scan(&c.ID, &c.TaskID, &c.Criterion, &c.Source, &completed,
		&completedAt, &c.CriterionType, &spec, &commitHash, &committedAt,
		&deferred, &cost, &tokensIn, &tokensOut, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.IsCompleted = completed != 0
	c.IsDeferred = deferred != 0
	c.CompletedAt = parseTimePtr(nullStr(completedAt))
	c.VerificationSpec = nullStr(spec)
	c.CommitHash = nullStr(commitHash)
	c.CommittedAt = parseTimePtr(nullStr(committedAt))
	if cost.Valid {
		v := cost.Float64
		c.CostDollars = &v
	}
	if tokensIn.Valid {
		v := tokensIn.Int64
		c.TokensIn = &v
	}
	if tokensOut.Valid {
		v := tokensOut.Int64
		c.TokensOut = &v
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// InsertCriterion inserts a criterion row, inside tx when non-nil.
func (d *DB) InsertCriterion(tx *sql.Tx, c *Criterion) (int64, error) {
	now := fmtTime(time.Now())
	deferred := 0
	if c.IsDeferred {
		deferred = 1
	}
	exec := d.Exec
	if tx != nil {
		exec = tx.Exec
	}
	res, err := exec(`INSERT INTO acceptance_criteria
		(task_id, criterion, source, criterion_type, verification_spec,
		 is_deferred, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TaskID, c.Criterion, c.Source, c.CriterionType, c.VerificationSpec,
		deferred, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert criterion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert criterion id: %w", err)
	}
	c.ID = id
	return id, nil
}

// GetCriterion loads one criterion by id.
func (d *DB) GetCriterion(id int64) (*Criterion, error) {
	row := d.QueryRow("SELECT "+criterionColumns+" FROM acceptance_criteria WHERE id = ?", id)
	c, err := scanCriterion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get criterion %d: %w", id, err)
	}
	return c, nil
}

// ListCriteria returns all criteria for a task, oldest first.
func (d *DB) ListCriteria(taskID int64) ([]*Criterion, error) {
	rows, err := d.Query("SELECT "+criterionColumns+` FROM acceptance_criteria
		WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Criterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompleteCriterion marks a criterion done, recording the commit it
// landed in when known.
func (d *DB) CompleteCriterion(id int64, completedAt time.Time, commitHash string, committedAt *time.Time) error {
	var hash *string
	if commitHash != "" {
		hash = &commitHash
	}
	res, err := d.Exec(`UPDATE acceptance_criteria
		SET is_completed = 1, completed_at = ?, commit_hash = COALESCE(?, commit_hash),
		    committed_at = COALESCE(?, committed_at), updated_at = ?
		WHERE id = ?`,
		fmtTime(completedAt), hash, fmtTimePtr(committedAt), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete criterion %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetCriterion clears completion state and attributed cost.
func (d *DB) ResetCriterion(id int64) error {
	res, err := d.Exec(`UPDATE acceptance_criteria
		SET is_completed = 0, completed_at = NULL, commit_hash = NULL,
		    committed_at = NULL, cost_dollars = NULL, tokens_in = NULL,
		    tokens_out = NULL, updated_at = ?
		WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("reset criterion %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetCriterionCost writes attributed cost totals back to a criterion.
// Runs inside tx when non-nil so attribution commits atomically.
func (d *DB) SetCriterionCost(tx *sql.Tx, id int64, cost float64, tokensIn, tokensOut int64) error {
	exec := d.Exec
	if tx != nil {
		exec = tx.Exec
	}
	_, err := exec(`UPDATE acceptance_criteria
		SET cost_dollars = ?, tokens_in = ?, tokens_out = ?, updated_at = ?
		WHERE id = ?`, cost, tokensIn, tokensOut, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set criterion cost: %w", err)
	}
	return nil
}

// UncompletedCriteria returns non-deferred incomplete criteria for a task.
func (d *DB) UncompletedCriteria(taskID int64) ([]*Criterion, error) {
	rows, err := d.Query("SELECT "+criterionColumns+` FROM acceptance_criteria
		WHERE task_id = ? AND is_completed = 0 AND is_deferred = 0 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("uncompleted criteria: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Criterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommitGroup returns the completed criteria on the same task sharing the
// given commit hash, ordered by COALESCE(committed_at, completed_at).
func (d *DB) CommitGroup(taskID int64, commitHash string) ([]*Criterion, error) {
	rows, err := d.Query("SELECT "+criterionColumns+` FROM acceptance_criteria
		WHERE task_id = ? AND commit_hash = ? AND is_completed = 1
		ORDER BY COALESCE(committed_at, completed_at), id`, taskID, commitHash)
	if err != nil {
		return nil, fmt.Errorf("commit group: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Criterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PriorCompletionBound returns the COALESCE(committed_at, completed_at)
// of the most recent other completed criterion on the task, excluding the
// given ids. Returns nil when no such criterion exists.
func (d *DB) PriorCompletionBound(taskID int64, exclude []int64) (*time.Time, error) {
	query := `SELECT MAX(COALESCE(committed_at, completed_at))
		FROM acceptance_criteria
		WHERE task_id = ? AND is_completed = 1`
	args := []any{taskID}
	for _, id := range exclude {
		query += " AND id != ?"
		args = append(args, id)
	}
	var bound sql.NullString
	if err := d.QueryRow(query, args...).Scan(&bound); err != nil {
		return nil, fmt.Errorf("prior completion bound: %w", err)
	}
	return parseTimePtr(nullStr(bound)), nil
}
