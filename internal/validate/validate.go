// Package validate cross-checks the store against its own invariants
// and the active configuration.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/task"
)

// Finding is one integrity problem.
type Finding struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Report is the validation outcome.
type Report struct {
	Findings []Finding `json:"findings"`
	Checked  int       `json:"checked"`
}

// OK reports whether validation passed.
func (r *Report) OK() bool { return len(r.Findings) == 0 }

func (r *Report) add(check, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// Run executes every integrity check.
func Run(store *db.DB, cfg *config.Config) (*Report, error) {
	report := &Report{}

	if err := foreignKeys(store, report); err != nil {
		return nil, err
	}
	if err := taskInvariants(store, cfg, report); err != nil {
		return nil, err
	}
	if err := cycles(store, report); err != nil {
		return nil, err
	}
	if err := orphanedSessions(store, report); err != nil {
		return nil, err
	}
	if err := orphanedProgress(store, report); err != nil {
		return nil, err
	}
	return report, nil
}

// foreignKeys surfaces rows that slipped past referential integrity,
// which can happen if the database was written with foreign_keys off.
func foreignKeys(store *db.DB, report *Report) error {
	rows, err := store.Query("PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var table string
		var rowid any
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return err
		}
		report.add("foreign_keys", "%s row %v references missing %s", table, rowid, parent)
	}
	report.Checked++
	return rows.Err()
}

// taskInvariants checks per-task state: terminal rows carry a reason,
// open rows do not, expired non-deferred rows get flagged, and enum
// values still exist in the configuration.
func taskInvariants(store *db.DB, cfg *config.Config, report *Report) error {
	tasks, err := store.ListTasks("")
	if err != nil {
		return err
	}
	terminal := cfg.TerminalStatus()
	now := time.Now()

	for _, t := range tasks {
		if t.Status == terminal && t.ClosedReason == nil {
			report.add("closed_reason", "task %d is terminal without a closed reason", t.ID)
		}
		if t.Status != terminal && t.ClosedReason != nil {
			report.add("closed_reason", "task %d is open but carries closed reason %q", t.ID, *t.ClosedReason)
		}
		if t.Status != terminal && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			report.add("expiry", "task %d expired %s but is still open",
				t.ID, t.ExpiresAt.Format(time.RFC3339))
		}
		if !contains(cfg.Statuses, t.Status) {
			report.add("enum_drift", "task %d status %q is not configured", t.ID, t.Status)
		}
		if !contains(cfg.Priorities, t.Priority) {
			report.add("enum_drift", "task %d priority %q is not configured", t.ID, t.Priority)
		}
		if t.ClosedReason != nil && !contains(cfg.ClosedReasons, *t.ClosedReason) {
			report.add("enum_drift", "task %d closed reason %q is not configured", t.ID, *t.ClosedReason)
		}
	}
	report.Checked += 4
	return nil
}

// cycles runs cycle detection over the whole dependency graph.
func cycles(store *db.DB, report *Report) error {
	deps, err := store.AllDependencies()
	if err != nil {
		return err
	}
	if path := task.FindCycle(deps); path != nil {
		parts := make([]string, len(path))
		for i, id := range path {
			parts[i] = fmt.Sprintf("%d", id)
		}
		report.add("cycles", "dependency cycle: %s", strings.Join(parts, " -> "))
	}
	report.Checked++
	return nil
}

// orphanedSessions flags open sessions on terminal tasks; closure is
// supposed to close them.
func orphanedSessions(store *db.DB, report *Report) error {
	rows, err := store.Query(`SELECT s.id, s.task_id FROM task_sessions s
		JOIN tasks t ON t.id = s.task_id
		WHERE s.ended_at IS NULL
		  AND t.status IN (SELECT name FROM v_terminal_status)`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sid, tid int64
		if err := rows.Scan(&sid, &tid); err != nil {
			return err
		}
		report.add("sessions", "session %d is open on closed task %d", sid, tid)
	}
	report.Checked++
	return rows.Err()
}

// orphanedProgress flags progress checkpoints whose task row is gone,
// which only happens when the store was written with foreign_keys off.
func orphanedProgress(store *db.DB, report *Report) error {
	rows, err := store.Query(`SELECT p.id, p.task_id FROM task_progress p
		LEFT JOIN tasks t ON t.id = p.task_id
		WHERE t.id IS NULL`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var pid, tid int64
		if err := rows.Scan(&pid, &tid); err != nil {
			return err
		}
		report.add("progress", "progress row %d references missing task %d", pid, tid)
	}
	report.Checked++
	return rows.Err()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
