package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
)

func newSweeper(t *testing.T) *Sweeper {
	t.Helper()
	return NewSweeper(db.TestDB(t), config.Default())
}

func seedPolicyTask(t *testing.T, s *Sweeper, task *db.Task) int64 {
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
	id, err := s.DB.InsertTask(nil, task)
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func TestAutocloseExpiredDeferred(t *testing.T) {
	s := newSweeper(t)
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	expired := seedPolicyTask(t, s, &db.Task{
		Summary: "[Deferred] Tidy the docs", ExpiresAt: &past,
	})
	future := now.Add(24 * time.Hour)
	alive := seedPolicyTask(t, s, &db.Task{
		Summary: "[Deferred] Not yet", ExpiresAt: &future,
	})
	inProgress := seedPolicyTask(t, s, &db.Task{
		Summary: "[Deferred] Already picked up", ExpiresAt: &past,
	})
	if err := s.DB.UpdateTaskFields(inProgress, map[string]any{"status": "In Progress"}); err != nil {
		t.Fatalf("UpdateTaskFields failed: %v", err)
	}

	res, err := s.Autoclose(now)
	if err != nil {
		t.Fatalf("Autoclose failed: %v", err)
	}
	if len(res.Expired) != 1 || res.Expired[0].Task.ID != expired {
		t.Fatalf("expired = %+v, want just task %d", res.Expired, expired)
	}

	closed, err := s.DB.GetTask(expired)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if closed.Status != "Done" || closed.ClosedReason == nil || *closed.ClosedReason != "expired" {
		t.Errorf("closed task = %+v", closed)
	}
	if !strings.Contains(closed.Description, "Deferred task expired after") {
		t.Errorf("description missing the audit note: %q", closed.Description)
	}

	for _, id := range []int64{alive, inProgress} {
		task, err := s.DB.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.ClosedReason != nil {
			t.Errorf("task %d should survive the sweep: %+v", id, task)
		}
	}
}

func TestAutocloseMootCascade(t *testing.T) {
	s := newSweeper(t)
	now := time.Now().UTC()

	upstream := seedPolicyTask(t, s, &db.Task{Summary: "Build the prototype"})
	mid := seedPolicyTask(t, s, &db.Task{Summary: "Polish the prototype"})
	leaf := seedPolicyTask(t, s, &db.Task{Summary: "Ship the prototype"})
	bystander := seedPolicyTask(t, s, &db.Task{Summary: "Unrelated blocked work"})
	if err := s.DB.InsertDependency(mid, upstream, db.RelContingent); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := s.DB.InsertDependency(leaf, mid, db.RelContingent); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := s.DB.InsertDependency(bystander, upstream, db.RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}

	if err := s.DB.UpdateTaskFields(upstream, map[string]any{
		"status": "Done", "closed_reason": "wont_do",
	}); err != nil {
		t.Fatalf("close upstream failed: %v", err)
	}

	res, err := s.Autoclose(now)
	if err != nil {
		t.Fatalf("Autoclose failed: %v", err)
	}
	if len(res.Moot) != 2 {
		t.Fatalf("moot = %+v, want the whole contingent chain", res.Moot)
	}

	for _, id := range []int64{mid, leaf} {
		task, err := s.DB.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.ClosedReason == nil || *task.ClosedReason != "wont_do" {
			t.Errorf("task %d = %+v, want closed wont_do", id, task)
		}
		if !strings.Contains(task.Description, "Auto-closed: contingent on task") {
			t.Errorf("task %d missing the audit note: %q", id, task.Description)
		}
	}

	survivor, err := s.DB.GetTask(bystander)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if survivor.ClosedReason != nil {
		t.Errorf("blocks-relationship dependent must not cascade: %+v", survivor)
	}
}

func TestAutocloseCompletedUpstreamDoesNotCascade(t *testing.T) {
	s := newSweeper(t)

	upstream := seedPolicyTask(t, s, &db.Task{Summary: "Finish the groundwork"})
	dependent := seedPolicyTask(t, s, &db.Task{Summary: "Build on it"})
	if err := s.DB.InsertDependency(dependent, upstream, db.RelContingent); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := s.DB.UpdateTaskFields(upstream, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		t.Fatalf("close upstream failed: %v", err)
	}

	res, err := s.Autoclose(time.Now())
	if err != nil {
		t.Fatalf("Autoclose failed: %v", err)
	}
	if len(res.Moot) != 0 {
		t.Errorf("completed upstream cascaded: %+v", res.Moot)
	}
}

func TestScanReport(t *testing.T) {
	s := newSweeper(t)
	now := time.Now().UTC()

	assignee := "dev"
	size := "M"
	seedPolicyTask(t, s, &db.Task{
		Summary: "Rotate the signing keys", Assignee: &assignee, Complexity: &size,
	})
	bare := seedPolicyTask(t, s, &db.Task{Summary: "Upgrade the build image"})

	soon := now.Add(48 * time.Hour)
	expiring := seedPolicyTask(t, s, &db.Task{
		Summary: "[Deferred] About to lapse", Assignee: &assignee, Complexity: &size,
		ExpiresAt: &soon,
	})
	blocked := seedPolicyTask(t, s, &db.Task{
		Summary: "Waiting on vendor", Assignee: &assignee, Complexity: &size,
	})
	external := "external"
	if _, err := s.DB.InsertBlocker(&db.Blocker{
		TaskID: blocked, Description: "vendor credentials", BlockerType: &external,
	}); err != nil {
		t.Fatalf("InsertBlocker failed: %v", err)
	}

	report, err := s.Scan(now)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("report should flag findings")
	}
	if len(report.Unassigned) != 1 || report.Unassigned[0].ID != bare {
		t.Errorf("unassigned = %+v", report.Unassigned)
	}
	if len(report.Unsized) != 1 || report.Unsized[0].ID != bare {
		t.Errorf("unsized = %+v", report.Unsized)
	}
	if len(report.Expiring) != 1 || report.Expiring[0].ID != expiring {
		t.Errorf("expiring = %+v", report.Expiring)
	}
	if len(report.Blocked) != 1 || report.Blocked[0].ID != blocked {
		t.Errorf("blocked = %+v", report.Blocked)
	}
	if len(report.Duplicates) != 0 {
		t.Errorf("duplicates = %+v", report.Duplicates)
	}
}

func TestScanCleanBacklog(t *testing.T) {
	s := newSweeper(t)
	assignee := "dev"
	size := "S"
	seedPolicyTask(t, s, &db.Task{
		Summary: "Groomed and ready", Assignee: &assignee, Complexity: &size,
	})

	report, err := s.Scan(time.Now())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("clean backlog flagged: %+v", report)
	}
}
