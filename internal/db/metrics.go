package db

import "fmt"

// TaskMetrics is the per-task rollup from the task_metrics view.
type TaskMetrics struct {
	TaskID               int64   `json:"task_id"`
	Summary              string  `json:"summary"`
	Status               string  `json:"status"`
	SessionCount         int64   `json:"session_count"`
	TotalDurationSeconds int64   `json:"total_duration_seconds"`
	TotalTokensIn        int64   `json:"total_tokens_in"`
	TotalTokensOut       int64   `json:"total_tokens_out"`
	TotalCostDollars     float64 `json:"total_cost_dollars"`
	TotalLinesAdded      int64   `json:"total_lines_added"`
	TotalLinesRemoved    int64   `json:"total_lines_removed"`
}

// VelocityBucket is one weekly row from the v_velocity view.
type VelocityBucket struct {
	Week           string  `json:"week"`
	TasksDone      int64   `json:"tasks_done"`
	AvgCostDollars float64 `json:"avg_cost_dollars"`
}

// TaskMetricsAll returns the rollup for every task.
func (d *DB) TaskMetricsAll() ([]*TaskMetrics, error) {
	rows, err := d.Query(`SELECT task_id, summary, status, session_count,
		total_duration_seconds, total_tokens_in, total_tokens_out,
		total_cost_dollars, total_lines_added, total_lines_removed
		FROM task_metrics ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("task metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TaskMetrics
	for rows.Next() {
		var m TaskMetrics
		if err := rows.Scan(&m.TaskID, &m.Summary, &m.Status, &m.SessionCount,
			&m.TotalDurationSeconds, &m.TotalTokensIn, &m.TotalTokensOut,
			&m.TotalCostDollars, &m.TotalLinesAdded, &m.TotalLinesRemoved); err != nil {
			return nil, fmt.Errorf("scan task metrics: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// TaskMetricsFor returns the rollup for one task.
func (d *DB) TaskMetricsFor(taskID int64) (*TaskMetrics, error) {
	var m TaskMetrics
	err := d.QueryRow(`SELECT task_id, summary, status, session_count,
		total_duration_seconds, total_tokens_in, total_tokens_out,
		total_cost_dollars, total_lines_added, total_lines_removed
		FROM task_metrics WHERE task_id = ?`, taskID).
		Scan(&m.TaskID, &m.Summary, &m.Status, &m.SessionCount,
			&m.TotalDurationSeconds, &m.TotalTokensIn, &m.TotalTokensOut,
			&m.TotalCostDollars, &m.TotalLinesAdded, &m.TotalLinesRemoved)
	if err != nil {
		return nil, fmt.Errorf("task metrics for %d: %w", taskID, err)
	}
	return &m, nil
}

// Velocity returns the weekly terminal-task buckets.
func (d *DB) Velocity() ([]*VelocityBucket, error) {
	rows, err := d.Query(`SELECT week, tasks_done, avg_cost_dollars FROM v_velocity`)
	if err != nil {
		return nil, fmt.Errorf("velocity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*VelocityBucket
	for rows.Next() {
		var b VelocityBucket
		if err := rows.Scan(&b.Week, &b.TasksDone, &b.AvgCostDollars); err != nil {
			return nil, fmt.Errorf("scan velocity bucket: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
