package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Blocker represents an external blocker row.
type Blocker struct {
	ID          int64      `json:"id"`
	TaskID      int64      `json:"task_id"`
	Description string     `json:"description"`
	BlockerType *string    `json:"blocker_type,omitempty"`
	IsResolved  bool       `json:"is_resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

const blockerColumns = `id, task_id, description, blocker_type, is_resolved, resolved_at, created_at`

func scanBlocker(r rowScanner) (*Blocker, error) {
	var b Blocker
	var resolved int
	var createdAt string
	var blockerType, resolvedAt sql.NullString
	if err := r.Scan(&b.ID, &b.TaskID, &b.Description, &blockerType, &resolved,
		&resolvedAt, &createdAt); err != nil {
		return nil, err
	}
	b.IsResolved = resolved != 0
	b.BlockerType = nullStr(blockerType)
	b.ResolvedAt = parseTimePtr(nullStr(resolvedAt))
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

// InsertBlocker records an external blocker against a task.
func (d *DB) InsertBlocker(b *Blocker) (int64, error) {
	res, err := d.Exec(`INSERT INTO external_blockers
		(task_id, description, blocker_type, created_at)
		VALUES (?, ?, ?, ?)`,
		b.TaskID, b.Description, b.BlockerType, fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert blocker: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	b.ID = id
	return id, nil
}

// GetBlocker loads one blocker by id.
func (d *DB) GetBlocker(id int64) (*Blocker, error) {
	row := d.QueryRow("SELECT "+blockerColumns+" FROM external_blockers WHERE id = ?", id)
	b, err := scanBlocker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blocker %d: %w", id, err)
	}
	return b, nil
}

// ListBlockers returns blockers for one task, or every blocker when
// taskID is zero.
func (d *DB) ListBlockers(taskID int64, unresolvedOnly bool) ([]*Blocker, error) {
	query := "SELECT " + blockerColumns + " FROM external_blockers"
	var where []string
	var args []any
	if taskID != 0 {
		where = append(where, "task_id = ?")
		args = append(args, taskID)
	}
	if unresolvedOnly {
		where = append(where, "is_resolved = 0")
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY id"

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blockers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Blocker
	for rows.Next() {
		b, err := scanBlocker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ResolveBlocker marks a blocker resolved.
func (d *DB) ResolveBlocker(id int64) error {
	res, err := d.Exec(`UPDATE external_blockers
		SET is_resolved = 1, resolved_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("resolve blocker %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBlocker removes a blocker row.
func (d *DB) DeleteBlocker(id int64) error {
	res, err := d.Exec("DELETE FROM external_blockers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete blocker %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BlockedTasks returns non-terminal tasks that have at least one
// unresolved external blocker.
func (d *DB) BlockedTasks() ([]*Task, error) {
	return d.queryTasks("SELECT " + taskColumns + ` FROM tasks
		WHERE status NOT IN (SELECT name FROM v_terminal_status)
		  AND id IN (SELECT task_id FROM external_blockers WHERE is_resolved = 0)
		ORDER BY id`)
}
