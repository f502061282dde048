package task

import (
	"context"
	"strings"
	"testing"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(db.TestDB(t), config.Default())
}

func insertTask(t *testing.T, s *Service, summary string) *InsertResult {
	t.Helper()
	res, err := s.Insert(InsertRequest{
		Summary:   summary,
		Criteria:  []CriterionDraft{{Text: "it works"}},
		SkipDupes: true,
	})
	if err != nil {
		t.Fatalf("Insert(%q) failed: %v", summary, err)
	}
	return res
}

func errCode(t *testing.T, err error) errors.Code {
	t.Helper()
	te := errors.AsTuskError(err)
	if te == nil {
		t.Fatalf("expected a structured error, got %v", err)
	}
	return te.Code
}

func TestInsertDefaults(t *testing.T) {
	s := newTestService(t)
	res, err := s.Insert(InsertRequest{
		Summary: "Add rate limiting to the API",
		Criteria: []CriterionDraft{
			{Text: "unit tests pass", Type: "test", Spec: "go test ./..."},
		},
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if res.Task.Status != "To Do" {
		t.Errorf("status = %q, want To Do", res.Task.Status)
	}
	if res.Task.Priority != "Medium" {
		t.Errorf("priority = %q, want Medium (middle of the ladder)", res.Task.Priority)
	}
	if res.Task.TaskType != "feature" {
		t.Errorf("task_type = %q, want feature", res.Task.TaskType)
	}
	// Medium weighs 2, unsized tasks score as M (3 points).
	if res.Task.PriorityScore != 6.67 {
		t.Errorf("score = %v, want 6.67", res.Task.PriorityScore)
	}

	criteria, err := s.DB.ListCriteria(res.Task.ID)
	if err != nil {
		t.Fatalf("ListCriteria failed: %v", err)
	}
	if len(criteria) != 1 {
		t.Fatalf("got %d criteria, want 1", len(criteria))
	}
	c := criteria[0]
	if c.CriterionType != "test" || c.Source != "original" {
		t.Errorf("criterion type/source = %q/%q, want test/original", c.CriterionType, c.Source)
	}
	if c.VerificationSpec == nil || *c.VerificationSpec != "go test ./..." {
		t.Errorf("verification spec not persisted: %v", c.VerificationSpec)
	}
}

func TestInsertRequiresCriteria(t *testing.T) {
	s := newTestService(t)
	_, err := s.Insert(InsertRequest{Summary: "No criteria"})
	if errCode(t, err) != errors.CodeInvalidInput {
		t.Errorf("code = %v, want INVALID_INPUT", errCode(t, err))
	}
}

func TestInsertSpecRequiredForCodeCriteria(t *testing.T) {
	s := newTestService(t)
	_, err := s.Insert(InsertRequest{
		Summary:  "Spec gate",
		Criteria: []CriterionDraft{{Text: "compiles", Type: "code"}},
	})
	if errCode(t, err) != errors.CodeInvalidInput {
		t.Errorf("code = %v, want INVALID_INPUT", errCode(t, err))
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	s := newTestService(t)
	insertTask(t, s, "Add error handling")

	_, err := s.Insert(InsertRequest{
		Summary:  "Add error handling for delete account",
		Criteria: []CriterionDraft{{Text: "done"}},
	})
	if errCode(t, err) != errors.CodeDuplicate {
		t.Fatalf("code = %v, want DUPLICATE_TASK", errCode(t, err))
	}
	if errors.AsTuskError(err).ExitCode() != errors.ExitNegative {
		t.Errorf("duplicate should map to the negative-outcome exit code")
	}

	// --skip-dupes bypasses the gate.
	if _, err := s.Insert(InsertRequest{
		Summary:   "Add error handling for delete account",
		Criteria:  []CriterionDraft{{Text: "done"}},
		SkipDupes: true,
	}); err != nil {
		t.Fatalf("skip-dupes insert failed: %v", err)
	}
}

func TestInsertDeferredPrefix(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "[Deferred] Someday improve logging")
	if !res.Task.IsDeferred {
		t.Error("task with [Deferred] prefix should be deferred")
	}
}

func TestUpdateRescoresOnPriorityChange(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Tune the cache")

	critical := "Critical"
	xs := "XS"
	updated, err := s.Update(res.Task.ID, UpdateRequest{Priority: &critical, Complexity: &xs})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	// Critical weighs 4, XS is 1 point.
	if updated.PriorityScore != 40 {
		t.Errorf("score = %v, want 40", updated.PriorityScore)
	}
}

func TestStartAndResume(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Wire up the webhook")

	started, err := s.Start(res.Task.ID, "claude", false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Task.Status != "In Progress" {
		t.Errorf("status = %q, want In Progress", started.Task.Status)
	}
	if started.Resumed || started.SessionID == 0 {
		t.Errorf("first start should open a fresh session, got %+v", started)
	}

	again, err := s.Start(res.Task.ID, "claude", false)
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if !again.Resumed || again.SessionID != started.SessionID {
		t.Errorf("second start should resume session %d, got %+v", started.SessionID, again)
	}
}

func TestStartRefusedWithUnresolvedBlocker(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Blocked work")
	if _, err := s.AddBlocker(res.Task.ID, "external", "waiting on vendor API keys"); err != nil {
		t.Fatalf("AddBlocker failed: %v", err)
	}

	_, err := s.Start(res.Task.ID, "", false)
	if errCode(t, err) != errors.CodeRefused {
		t.Fatalf("code = %v, want POLICY_REFUSED", errCode(t, err))
	}
}

func TestCloseForceGate(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Half-finished work")
	if _, err := s.Start(res.Task.ID, "", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err := s.Close(res.Task.ID, "completed", false)
	if errCode(t, err) != errors.CodeForceRequired {
		t.Fatalf("code = %v, want FORCE_REQUIRED", errCode(t, err))
	}

	closed, err := s.Close(res.Task.ID, "wont_do", true)
	if err != nil {
		t.Fatalf("forced Close failed: %v", err)
	}
	if closed.Task.Status != "Done" {
		t.Errorf("status = %q, want Done", closed.Task.Status)
	}
	if closed.SessionsClosed != 1 {
		t.Errorf("sessions closed = %d, want 1", closed.SessionsClosed)
	}
	if !strings.Contains(closed.Task.Description, "Force-closed") {
		t.Errorf("forced closure should annotate the description, got %q", closed.Task.Description)
	}
}

func TestCloseUnblocksDependents(t *testing.T) {
	s := newTestService(t)
	a := insertTask(t, s, "Build the schema")
	b := insertTask(t, s, "Build the API on top")
	if err := s.AddDependency(b.Task.ID, a.Task.ID, db.RelBlocks); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	if _, err := s.CompleteCriterion(a.Criteria[0].ID, "", nil); err != nil {
		t.Fatalf("CompleteCriterion failed: %v", err)
	}
	closed, err := s.Close(a.Task.ID, "completed", false)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Task.ClosedReason == nil || *closed.Task.ClosedReason != "completed" {
		t.Errorf("closed_reason = %v, want completed", closed.Task.ClosedReason)
	}
	if len(closed.NewlyReady) != 1 || closed.NewlyReady[0].ID != b.Task.ID {
		t.Errorf("newly ready = %+v, want just task %d", closed.NewlyReady, b.Task.ID)
	}
}

func TestCloseAlreadyClosed(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "One-shot close")
	if _, err := s.Close(res.Task.ID, "wont_do", true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err := s.Close(res.Task.ID, "wont_do", true)
	if errCode(t, err) != errors.CodeRefused {
		t.Errorf("code = %v, want POLICY_REFUSED", errCode(t, err))
	}
}

func TestReopen(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Close then reopen")
	if _, err := s.Start(res.Task.ID, "", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.Close(res.Task.ID, "wont_do", true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	_, err := s.Reopen(ctx, res.Task.ID, false)
	if errCode(t, err) != errors.CodeForceRequired {
		t.Fatalf("code = %v, want FORCE_REQUIRED", errCode(t, err))
	}

	reopened, err := s.Reopen(ctx, res.Task.ID, true)
	if err != nil {
		t.Fatalf("forced Reopen failed: %v", err)
	}
	if reopened.Status != "To Do" {
		t.Errorf("status = %q, want To Do", reopened.Status)
	}
	if reopened.ClosedReason != nil {
		t.Errorf("closed_reason should be cleared, got %v", *reopened.ClosedReason)
	}

	// The status guard must be back after the rewind.
	err = s.DB.UpdateTaskFields(res.Task.ID, map[string]any{"status": "Done", "closed_reason": "wont_do"})
	if err != nil {
		t.Fatalf("forward transition should still work: %v", err)
	}
	err = s.DB.UpdateTaskFields(res.Task.ID, map[string]any{"status": "To Do"})
	if !db.IsTriggerViolation(err) {
		t.Errorf("backward transition should trip the regenerated guard, got %v", err)
	}
}

func TestReopenInitialRefused(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Still in the backlog")
	_, err := s.Reopen(context.Background(), res.Task.ID, true)
	if errCode(t, err) != errors.CodeRefused {
		t.Errorf("code = %v, want POLICY_REFUSED", errCode(t, err))
	}
}

func TestSelect(t *testing.T) {
	s := newTestService(t)
	low, err := s.Insert(InsertRequest{
		Summary: "Low value chore", Priority: "Low",
		Criteria: []CriterionDraft{{Text: "done"}}, SkipDupes: true,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	high, err := s.Insert(InsertRequest{
		Summary: "Critical hotfix", Priority: "Critical", Complexity: "XS",
		Criteria: []CriterionDraft{{Text: "done"}}, SkipDupes: true,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	insertTask(t, s, "[Deferred] Not yet on the queue")

	got, err := s.Select("", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.ID != high.Task.ID {
		t.Errorf("selected %d, want the top-scored task %d", got.ID, high.Task.ID)
	}

	got, err = s.Select("", map[int64]bool{high.Task.ID: true})
	if err != nil {
		t.Fatalf("Select with exclusion failed: %v", err)
	}
	if got.ID != low.Task.ID {
		t.Errorf("selected %d, want %d", got.ID, low.Task.ID)
	}

	_, err = s.Select("", map[int64]bool{high.Task.ID: true, low.Task.ID: true})
	if errCode(t, err) != errors.CodeNoReadyTasks {
		t.Errorf("code = %v, want NO_READY_TASKS", errCode(t, err))
	}
}

func TestSelectMaxComplexity(t *testing.T) {
	s := newTestService(t)
	big, err := s.Insert(InsertRequest{
		Summary: "Huge migration", Priority: "Critical", Complexity: "XL",
		Criteria: []CriterionDraft{{Text: "done"}}, SkipDupes: true,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	small, err := s.Insert(InsertRequest{
		Summary: "Small fix", Priority: "Low", Complexity: "S",
		Criteria: []CriterionDraft{{Text: "done"}}, SkipDupes: true,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.Select("M", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.ID != small.Task.ID {
		t.Errorf("selected %d, want %d; %d is above the complexity cap", got.ID, small.Task.ID, big.Task.ID)
	}
}

func TestReopenIntermediateStatusRefused(t *testing.T) {
	d := db.TestDB(t)
	cfg := config.Default()
	cfg.Statuses = []string{"To Do", "In Progress", "In Review", "Done"}
	if err := d.SyncStatusRanks(cfg.Statuses); err != nil {
		t.Fatalf("SyncStatusRanks failed: %v", err)
	}
	s := NewService(d, cfg)

	res := insertTask(t, s, "Stuck in review")
	if _, err := s.Start(res.Task.ID, "", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.UpdateTaskFields(res.Task.ID, map[string]any{"status": "In Review"}); err != nil {
		t.Fatalf("advance to review failed: %v", err)
	}

	_, err := s.Reopen(context.Background(), res.Task.ID, true)
	if errCode(t, err) != errors.CodeRefused {
		t.Errorf("code = %v, want POLICY_REFUSED for a mid-ladder status", errCode(t, err))
	}
}
