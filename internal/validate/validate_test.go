package validate

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
)

func seedValidateTask(t *testing.T, d *db.DB, task *db.Task) int64 {
	t.Helper()
	if task.Status == "" {
		task.Status = "To Do"
	}
	if task.Priority == "" {
		task.Priority = "Medium"
	}
	if task.TaskType == "" {
		task.TaskType = "feature"
	}
	id, err := d.InsertTask(nil, task)
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func TestRunCleanStore(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	seedValidateTask(t, d, &db.Task{Summary: "Healthy task"})

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("clean store flagged: %+v", report.Findings)
	}
	if report.Checked == 0 {
		t.Error("report should count executed checks")
	}
}

func TestRunFlagsOrphanedSession(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	id := seedValidateTask(t, d, &db.Task{Summary: "Closed with session"})
	if _, err := d.InsertSession(id, time.Now(), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if err := d.UpdateTaskFields(id, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		t.Fatalf("close task failed: %v", err)
	}

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.OK() {
		t.Fatal("open session on a closed task must be flagged")
	}
	if !hasCheck(report, "sessions") {
		t.Errorf("findings = %+v, want a sessions finding", report.Findings)
	}
}

func TestRunFlagsEnumDrift(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	seedValidateTask(t, d, &db.Task{Summary: "Odd priority", Priority: "Sev0"})

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasCheck(report, "enum_drift") {
		t.Errorf("findings = %+v, want enum_drift", report.Findings)
	}
}

func TestRunFlagsDependencyCycle(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	a := seedValidateTask(t, d, &db.Task{Summary: "First of the ring"})
	b := seedValidateTask(t, d, &db.Task{Summary: "Second of the ring"})
	// The store does not cycle-check; the service layer does. Writing the
	// edges directly simulates a corrupted graph.
	if err := d.InsertDependency(a, b, db.RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := d.InsertDependency(b, a, db.RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasCheck(report, "cycles") {
		t.Errorf("findings = %+v, want a cycle finding", report.Findings)
	}
}

func TestRunFlagsExpiredOpenTask(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	past := time.Now().Add(-time.Hour)
	seedValidateTask(t, d, &db.Task{Summary: "Past due", ExpiresAt: &past})

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasCheck(report, "expiry") {
		t.Errorf("findings = %+v, want an expiry finding", report.Findings)
	}
}

func TestRunFlagsOrphanedProgress(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()

	// A second handle without the foreign_keys pragma simulates a store
	// written by a tool that skipped it.
	raw, err := sql.Open("sqlite", d.Path())
	if err != nil {
		t.Fatalf("open raw handle: %v", err)
	}
	_, err = raw.Exec(`INSERT INTO task_progress
		(task_id, commit_hash, commit_message, created_at)
		VALUES (999, 'abc123', 'ghost checkpoint', datetime('now'))`)
	if cerr := raw.Close(); cerr != nil {
		t.Fatalf("close raw handle: %v", cerr)
	}
	if err != nil {
		t.Fatalf("insert orphan progress row: %v", err)
	}

	report, err := Run(d, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasCheck(report, "progress") {
		t.Errorf("findings = %+v, want a progress finding", report.Findings)
	}
}

func hasCheck(r *Report, check string) bool {
	for _, f := range r.Findings {
		if f.Check == check || strings.HasPrefix(f.Check, check) {
			return true
		}
	}
	return false
}
