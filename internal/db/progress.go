package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Progress represents an append-only commit checkpoint on a task.
type Progress struct {
	ID            int64     `json:"id"`
	TaskID        int64     `json:"task_id"`
	CommitHash    string    `json:"commit_hash"`
	CommitMessage string    `json:"commit_message"`
	FilesChanged  int64     `json:"files_changed"`
	NextSteps     *string   `json:"next_steps,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertProgress appends a checkpoint.
func (d *DB) InsertProgress(p *Progress) (int64, error) {
	res, err := d.Exec(`INSERT INTO task_progress
		(task_id, commit_hash, commit_message, files_changed, next_steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.TaskID, p.CommitHash, p.CommitMessage, p.FilesChanged, p.NextSteps,
		fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert progress: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// ListProgress returns checkpoints for a task, oldest first.
func (d *DB) ListProgress(taskID int64) ([]*Progress, error) {
	rows, err := d.Query(`SELECT id, task_id, commit_hash, commit_message,
		files_changed, next_steps, created_at
		FROM task_progress WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Progress
	for rows.Next() {
		var p Progress
		var createdAt string
		var nextSteps sql.NullString
		if err := rows.Scan(&p.ID, &p.TaskID, &p.CommitHash, &p.CommitMessage,
			&p.FilesChanged, &nextSteps, &createdAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		p.NextSteps = nullStr(nextSteps)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}
