package finalize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/git"
)

type fakeRunner struct {
	out   map[string]string
	calls []string
}

func (r *fakeRunner) Run(workDir, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, key)
	return r.out[key], nil
}

func newFinalizer(t *testing.T, r git.Runner) (*Finalizer, *db.DB) {
	t.Helper()
	d := db.TestDB(t)
	cfg := config.Default()
	return New(d, cfg, git.New("/repo", r), nil), d
}

func seedFinalizeTask(t *testing.T, d *db.DB, summary string) int64 {
	t.Helper()
	id, err := d.InsertTask(nil, &db.Task{
		Summary: summary, Status: "To Do", Priority: "Medium", TaskType: "feature",
	})
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func branchListKey(taskID int64) string {
	return fmt.Sprintf("git branch --list feature/TASK-%d-* --format=%%(refname:short)", taskID)
}

func TestRunRefusesWithoutBranch(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Branchless work")

	_, err := f.Run(id, 0)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeRefused {
		t.Fatalf("err = %v, want POLICY_REFUSED", err)
	}
	if !strings.Contains(te.What, "no branch matches") {
		t.Errorf("What = %q", te.What)
	}
}

func TestRunRefusesAmbiguousBranches(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Two branches")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-one\nfeature/TASK-%d-two", id, id)

	_, err := f.Run(id, 0)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeRefused {
		t.Fatalf("err = %v, want POLICY_REFUSED", err)
	}
}

func TestRunRefusesDirtyTreeInLocalMode(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"git status --porcelain": " M internal/task/service.go",
	}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Dirty tree")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-dirty-tree", id)

	_, err := f.Run(id, 0)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeRefused {
		t.Fatalf("err = %v, want POLICY_REFUSED", err)
	}
	if !strings.Contains(te.What, "uncommitted changes") {
		t.Errorf("What = %q", te.What)
	}
}

func TestRunRefusesWithoutSessions(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Never started")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-never-started", id)

	_, err := f.Run(id, 0)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeRefused {
		t.Fatalf("err = %v, want POLICY_REFUSED", err)
	}
	if !strings.Contains(te.What, "no sessions") {
		t.Errorf("What = %q", te.What)
	}
}

func TestRunLocalMergeHappyPath(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"git diff --numstat main": "12\t4\tinternal/task/service.go",
	}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Mergeable work")
	branch := fmt.Sprintf("feature/TASK-%d-mergeable-work", id)
	r.out[branchListKey(id)] = branch

	sid, err := d.InsertSession(id, time.Now().Add(-time.Hour), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	res, err := f.Run(id, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Merged || res.Branch != branch || res.MergeMode != "local" {
		t.Errorf("result = %+v", res)
	}
	if res.Task.Status != "Done" || res.Task.ClosedReason == nil || *res.Task.ClosedReason != "completed" {
		t.Errorf("task = %+v", res.Task)
	}
	if res.Diff == nil || res.Diff.LinesAdded != 12 || res.Diff.LinesRemoved != 4 {
		t.Errorf("diff = %+v", res.Diff)
	}

	s, err := d.GetSession(sid)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.EndedAt == nil {
		t.Error("the open session must be closed")
	}
	if s.LinesAdded != 12 || s.LinesRemoved != 4 {
		t.Errorf("session diff stats = +%d/-%d", s.LinesAdded, s.LinesRemoved)
	}

	var sawMerge, sawDelete bool
	for _, call := range r.calls {
		if call == "git merge --ff-only "+branch {
			sawMerge = true
		}
		if call == "git branch -d "+branch {
			sawDelete = true
		}
	}
	if !sawMerge || !sawDelete {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestRunForcesPastCriteriaGateWithWarning(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Gated work")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-gated-work", id)

	c := &db.Criterion{TaskID: id, Criterion: "still open", Source: "original", CriterionType: "manual"}
	if _, err := d.InsertCriterion(nil, c); err != nil {
		t.Fatalf("InsertCriterion failed: %v", err)
	}
	if _, err := d.InsertSession(id, time.Now().Add(-time.Minute), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	res, err := f.Run(id, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Task.ClosedReason == nil || *res.Task.ClosedReason != "completed" {
		t.Errorf("task = %+v", res.Task)
	}
	var warned bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "closing despite gate") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("warnings = %v, want the forced-close audit entry", res.Warnings)
	}
}

func TestRunRefusesClosedTask(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Already done")
	if err := d.UpdateTaskFields(id, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		t.Fatalf("close task failed: %v", err)
	}

	_, err := f.Run(id, 0)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeRefused {
		t.Fatalf("err = %v, want POLICY_REFUSED", err)
	}
}

func TestRunPRModeUsesGh(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	d := db.TestDB(t)
	cfg := config.Default()
	cfg.Merge.Mode = "pr"
	f := New(d, cfg, git.New("/repo", r), nil)

	id := seedFinalizeTask(t, d, "PR flow")
	branch := fmt.Sprintf("feature/TASK-%d-pr-flow", id)
	r.out[branchListKey(id)] = branch
	if _, err := d.InsertSession(id, time.Now().Add(-time.Minute), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	res, err := f.Run(id, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Merged || res.MergeMode != "pr" {
		t.Errorf("result = %+v", res)
	}
	var sawGh bool
	for _, call := range r.calls {
		if call == "gh pr merge "+branch+" --squash --delete-branch" {
			sawGh = true
		}
		if strings.HasPrefix(call, "git merge") {
			t.Errorf("pr mode ran a local merge: %v", r.calls)
		}
	}
	if !sawGh {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestRunExplicitSession(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Picked session")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-picked-session", id)

	first, err := d.InsertSession(id, time.Now().Add(-2*time.Hour), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if _, err := d.CloseSession(first, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	second, err := d.InsertSession(id, time.Now().Add(-30*time.Minute), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	res, err := f.Run(id, first)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Session == nil || res.Session.ID != first {
		t.Errorf("finalized session %+v, want the explicit one", res.Session)
	}
	// The open session closes with the task, not through detection.
	s, err := d.GetSession(second)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.EndedAt == nil {
		t.Error("task closure must close the remaining open session")
	}
}

func TestRunRejectsForeignSession(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	f, d := newFinalizer(t, r)
	id := seedFinalizeTask(t, d, "Own work")
	other := seedFinalizeTask(t, d, "Someone else")
	r.out[branchListKey(id)] = fmt.Sprintf("feature/TASK-%d-own-work", id)

	sid, err := d.InsertSession(other, time.Now().Add(-time.Hour), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	_, err = f.Run(id, sid)
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeInvalidInput {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}

	_, err = f.Run(id, 9999)
	te = errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}
