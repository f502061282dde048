package db

import (
	"database/sql"
	"fmt"
	"time"
)

// OwnerKind identifies which entity owns an attribution row.
type OwnerKind string

// Attribution owner kinds.
const (
	OwnerSession   OwnerKind = "session"
	OwnerSkillRun  OwnerKind = "skill_run"
	OwnerCriterion OwnerKind = "criterion"
)

// Owner is an attribution target: exactly one of session, skill run, or
// criterion.
type Owner struct {
	Kind OwnerKind
	ID   int64
}

func (o Owner) column() string {
	switch o.Kind {
	case OwnerSession:
		return "session_id"
	case OwnerSkillRun:
		return "skill_run_id"
	case OwnerCriterion:
		return "criterion_id"
	}
	return ""
}

// ToolCallStat is the per-tool attribution aggregate.
type ToolCallStat struct {
	ID         int64     `json:"id"`
	Owner      Owner     `json:"-"`
	ToolName   string    `json:"tool_name"`
	CallCount  int64     `json:"call_count"`
	TotalCost  float64   `json:"total_cost"`
	MaxCost    float64   `json:"max_cost"`
	TokensIn   int64     `json:"tokens_in"`
	TokensOut  int64     `json:"tokens_out"`
	ComputedAt time.Time `json:"computed_at"`
}

// ToolCallEvent is one attributed transcript tool-use call.
type ToolCallEvent struct {
	ID           int64     `json:"id"`
	Owner        Owner     `json:"-"`
	TaskID       *int64    `json:"task_id,omitempty"`
	ToolName     string    `json:"tool_name"`
	CostDollars  float64   `json:"cost_dollars"`
	TokensIn     int64     `json:"tokens_in"`
	TokensOut    int64     `json:"tokens_out"`
	CallSequence int64     `json:"call_sequence"`
	CalledAt     time.Time `json:"called_at"`
}

func ownerArgs(o Owner) (sessionID, skillRunID, criterionID *int64) {
	switch o.Kind {
	case OwnerSession:
		sessionID = &o.ID
	case OwnerSkillRun:
		skillRunID = &o.ID
	case OwnerCriterion:
		criterionID = &o.ID
	}
	return
}

// ReplaceAttribution atomically replaces the stats and events for one
// owner. Re-running attribution is idempotent: old rows go away, fresh
// rows come in, all inside the caller's transaction.
func (d *DB) ReplaceAttribution(tx *sql.Tx, owner Owner, stats []*ToolCallStat, events []*ToolCallEvent) error {
	col := owner.column()
	if col == "" {
		return fmt.Errorf("invalid attribution owner kind %q", owner.Kind)
	}
	if _, err := tx.Exec("DELETE FROM tool_call_stats WHERE "+col+" = ?", owner.ID); err != nil {
		return fmt.Errorf("clear tool call stats: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tool_call_events WHERE "+col+" = ?", owner.ID); err != nil {
		return fmt.Errorf("clear tool call events: %w", err)
	}

	sessionID, skillRunID, criterionID := ownerArgs(owner)
	now := fmtTime(time.Now())
	for _, s := range stats {
		if _, err := tx.Exec(`INSERT INTO tool_call_stats
			(session_id, skill_run_id, criterion_id, tool_name, call_count,
			 total_cost, max_cost, tokens_in, tokens_out, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, skillRunID, criterionID, s.ToolName, s.CallCount,
			s.TotalCost, s.MaxCost, s.TokensIn, s.TokensOut, now); err != nil {
			return fmt.Errorf("insert tool call stat: %w", err)
		}
	}
	for _, e := range events {
		if _, err := tx.Exec(`INSERT INTO tool_call_events
			(session_id, skill_run_id, criterion_id, task_id, tool_name,
			 cost_dollars, tokens_in, tokens_out, call_sequence, called_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, skillRunID, criterionID, e.TaskID, e.ToolName,
			e.CostDollars, e.TokensIn, e.TokensOut, e.CallSequence,
			fmtTime(e.CalledAt)); err != nil {
			return fmt.Errorf("insert tool call event: %w", err)
		}
	}
	return nil
}

// ListToolCallStats returns the aggregates for one owner, by tool name.
func (d *DB) ListToolCallStats(owner Owner) ([]*ToolCallStat, error) {
	col := owner.column()
	if col == "" {
		return nil, fmt.Errorf("invalid attribution owner kind %q", owner.Kind)
	}
	rows, err := d.Query(`SELECT id, tool_name, call_count, total_cost, max_cost,
		tokens_in, tokens_out, computed_at
		FROM tool_call_stats WHERE `+col+` = ? ORDER BY tool_name`, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list tool call stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ToolCallStat
	for rows.Next() {
		var s ToolCallStat
		var computedAt string
		if err := rows.Scan(&s.ID, &s.ToolName, &s.CallCount, &s.TotalCost,
			&s.MaxCost, &s.TokensIn, &s.TokensOut, &computedAt); err != nil {
			return nil, fmt.Errorf("scan tool call stat: %w", err)
		}
		s.Owner = owner
		s.ComputedAt = parseTime(computedAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ListToolCallEvents returns the events for one owner in sequence order.
func (d *DB) ListToolCallEvents(owner Owner) ([]*ToolCallEvent, error) {
	col := owner.column()
	if col == "" {
		return nil, fmt.Errorf("invalid attribution owner kind %q", owner.Kind)
	}
	rows, err := d.Query(`SELECT id, task_id, tool_name, cost_dollars, tokens_in,
		tokens_out, call_sequence, called_at
		FROM tool_call_events WHERE `+col+` = ? ORDER BY call_sequence`, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list tool call events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ToolCallEvent
	for rows.Next() {
		var e ToolCallEvent
		var taskID sql.NullInt64
		var calledAt string
		if err := rows.Scan(&e.ID, &taskID, &e.ToolName, &e.CostDollars,
			&e.TokensIn, &e.TokensOut, &e.CallSequence, &calledAt); err != nil {
			return nil, fmt.Errorf("scan tool call event: %w", err)
		}
		if taskID.Valid {
			v := taskID.Int64
			e.TaskID = &v
		}
		e.Owner = owner
		e.CalledAt = parseTime(calledAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
