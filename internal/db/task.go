package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Task represents a task row.
type Task struct {
	ID            int64      `json:"id"`
	Summary       string     `json:"summary"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	Domain        *string    `json:"domain,omitempty"`
	TaskType      string     `json:"task_type"`
	Assignee      *string    `json:"assignee,omitempty"`
	Complexity    *string    `json:"complexity,omitempty"`
	PriorityScore float64    `json:"priority_score"`
	IsDeferred    bool       `json:"is_deferred"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ClosedReason  *string    `json:"closed_reason,omitempty"`
	GithubPR      *string    `json:"github_pr,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const taskColumns = `id, summary, description, status, priority, domain, task_type,
	assignee, complexity, priority_score, is_deferred, expires_at, closed_reason,
	github_pr, created_at, updated_at`

// rowScanner abstracts sql.Row / sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var deferred int
	var createdAt, updatedAt string
	var expires, closedReason, domain, assignee, complexity, githubPR sql.NullString

	err := r.Scan(&t.ID, &t.Summary, &t.Description, &t.Status, &t.Priority,
		&domain, &t.TaskType, &assignee, &complexity, &t.PriorityScore,
		&deferred, &expires, &closedReason, &githubPR, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.IsDeferred = deferred != 0
	t.Domain = nullStr(domain)
	t.Assignee = nullStr(assignee)
	t.Complexity = nullStr(complexity)
	t.ClosedReason = nullStr(closedReason)
	t.GithubPR = nullStr(githubPR)
	t.ExpiresAt = parseTimePtr(nullStr(expires))
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// GetTask loads one task by id.
func (d *DB) GetTask(id int64) (*Task, error) {
	row := d.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks matching the optional status filter, newest first.
func (d *DB) ListTasks(status string) ([]*Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id DESC"
	return d.queryTasks(query, args...)
}

// OpenTasks returns all non-terminal tasks.
func (d *DB) OpenTasks() ([]*Task, error) {
	return d.queryTasks("SELECT " + taskColumns + ` FROM tasks
		WHERE status NOT IN (SELECT name FROM v_terminal_status)
		ORDER BY id`)
}

// ReadyTasks returns the ready queue ordered by WSJF score descending.
func (d *DB) ReadyTasks() ([]*Task, error) {
	return d.queryTasks("SELECT " + taskColumns + ` FROM v_ready_tasks
		ORDER BY priority_score DESC, id ASC`)
}

// ChainHeads returns ready tasks that have at least one non-terminal
// downstream dependent.
func (d *DB) ChainHeads() ([]*Task, error) {
	return d.queryTasks("SELECT " + taskColumns + ` FROM v_chain_heads
		ORDER BY priority_score DESC, id ASC`)
}

// IsChainHead reports whether the task appears in v_chain_heads.
func (d *DB) IsChainHead(id int64) (bool, error) {
	var n int
	if err := d.QueryRow("SELECT COUNT(*) FROM v_chain_heads WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("chain head check: %w", err)
	}
	return n > 0, nil
}

func (d *DB) queryTasks(query string, args ...any) ([]*Task, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InsertTask inserts a task row and returns its id. Runs inside tx when
// tx is non-nil so callers can make task+criteria insertion atomic.
func (d *DB) InsertTask(tx *sql.Tx, t *Task) (int64, error) {
	now := fmtTime(time.Now())
	deferred := 0
	if t.IsDeferred {
		deferred = 1
	}
	exec := d.Exec
	if tx != nil {
		exec = tx.Exec
	}
	res, err := exec(`INSERT INTO tasks
		(summary, description, status, priority, domain, task_type, assignee,
		 complexity, priority_score, is_deferred, expires_at, closed_reason,
		 github_pr, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Summary, t.Description, t.Status, t.Priority, t.Domain, t.TaskType,
		t.Assignee, t.Complexity, t.PriorityScore, deferred,
		fmtTimePtr(t.ExpiresAt), t.ClosedReason, t.GithubPR, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task id: %w", err)
	}
	t.ID = id
	return id, nil
}

// UpdateTaskFields applies the given column updates to one task and
// advances updated_at. Keys are column names.
func (d *DB) UpdateTaskFields(id int64, fields map[string]any) error {
	if len(fields) == 0 {
		fields = map[string]any{}
	}
	setClause := ""
	args := make([]any, 0, len(fields)+2)
	for col, val := range fields {
		if setClause != "" {
			setClause += ", "
		}
		setClause += col + " = ?"
		args = append(args, val)
	}
	if setClause != "" {
		setClause += ", "
	}
	setClause += "updated_at = ?"
	args = append(args, fmtTime(time.Now()), id)

	res, err := d.Exec("UPDATE tasks SET "+setClause+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetTaskScore updates priority_score without touching updated_at, so
// rescoring sweeps do not masquerade as task mutations.
func (d *DB) SetTaskScore(id int64, score float64) error {
	_, err := d.Exec("UPDATE tasks SET priority_score = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("set task score: %w", err)
	}
	return nil
}

// AppendTaskDescription appends an annotation paragraph to the task
// description and advances updated_at.
func (d *DB) AppendTaskDescription(id int64, annotation string) error {
	_, err := d.Exec(`UPDATE tasks
		SET description = CASE WHEN description = '' THEN ? ELSE description || char(10) || char(10) || ? END,
		    updated_at = ?
		WHERE id = ?`,
		annotation, annotation, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("append description: %w", err)
	}
	return nil
}

// DeleteTask removes a task and, via cascade, everything it owns.
func (d *DB) DeleteTask(id int64) error {
	res, err := d.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
