package db

import (
	"testing"
	"time"
)

func seedTask(t *testing.T, d *DB, summary string, score float64) int64 {
	t.Helper()
	id, err := d.InsertTask(nil, &Task{
		Summary:       summary,
		Status:        "To Do",
		Priority:      "Medium",
		TaskType:      "feature",
		PriorityScore: score,
	})
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func TestStatusGuardRejectsBackwardTransition(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Guarded", 1)

	if err := d.UpdateTaskFields(id, map[string]any{"status": "In Progress"}); err != nil {
		t.Fatalf("forward transition failed: %v", err)
	}
	err := d.UpdateTaskFields(id, map[string]any{"status": "To Do"})
	if !IsTriggerViolation(err) {
		t.Errorf("backward transition: err = %v, want trigger violation", err)
	}
}

func TestTerminalStatusRequiresClosedReason(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Needs a reason", 1)

	err := d.UpdateTaskFields(id, map[string]any{"status": "Done"})
	if !IsTriggerViolation(err) {
		t.Errorf("terminal without reason: err = %v, want trigger violation", err)
	}
	if err := d.UpdateTaskFields(id, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		t.Fatalf("terminal with reason failed: %v", err)
	}
}

func TestOpenTaskRejectsClosedReason(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Still open", 1)

	err := d.UpdateTaskFields(id, map[string]any{"closed_reason": "completed"})
	if !IsTriggerViolation(err) {
		t.Errorf("reason on open task: err = %v, want trigger violation", err)
	}
}

func TestDeferredFlagTracksSummaryPrefix(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "[Deferred] Maybe later", 1)

	task, err := d.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !task.IsDeferred {
		t.Error("insert with [Deferred] prefix should set is_deferred")
	}

	if err := d.UpdateTaskFields(id, map[string]any{"summary": "Do it now"}); err != nil {
		t.Fatalf("UpdateTaskFields failed: %v", err)
	}
	task, err = d.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.IsDeferred {
		t.Error("dropping the prefix should clear is_deferred")
	}
}

func TestOneOpenSessionPerTask(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Session owner", 1)

	sid, err := d.InsertSession(id, time.Now(), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if _, err := d.InsertSession(id, time.Now(), ""); !IsUniqueViolation(err) {
		t.Errorf("second open session: err = %v, want unique violation", err)
	}

	if _, err := d.CloseSession(sid, time.Now()); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := d.InsertSession(id, time.Now(), ""); err != nil {
		t.Errorf("open session after close failed: %v", err)
	}
}

func TestCloseSessionDuration(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Timed work", 1)

	start := time.Now().Add(-90 * time.Second)
	sid, err := d.InsertSession(id, start, "")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	s, err := d.CloseSession(sid, start.Add(90*time.Second))
	if err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if s.DurationSeconds == nil || *s.DurationSeconds != 90 {
		t.Errorf("duration = %v, want 90", s.DurationSeconds)
	}

	// Closing again keeps the original end time.
	again, err := d.CloseSession(sid, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("idempotent close failed: %v", err)
	}
	if !again.EndedAt.Equal(*s.EndedAt) {
		t.Errorf("re-close moved ended_at from %v to %v", s.EndedAt, again.EndedAt)
	}
}

func TestCloseOpenSessionsCount(t *testing.T) {
	d := TestDB(t)
	a := seedTask(t, d, "One", 1)
	b := seedTask(t, d, "Two", 1)

	if _, err := d.InsertSession(a, time.Now(), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if _, err := d.InsertSession(b, time.Now(), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	n, err := d.CloseOpenSessions(a, time.Now())
	if err != nil {
		t.Fatalf("CloseOpenSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("closed %d sessions for task %d, want 1", n, a)
	}
	open, err := d.OpenSession(b)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if open == nil {
		t.Error("other task's session should still be open")
	}
}

func TestReadyTasksOrderingAndExclusions(t *testing.T) {
	d := TestDB(t)
	low := seedTask(t, d, "Low value", 2)
	high := seedTask(t, d, "High value", 40)
	deferred := seedTask(t, d, "[Deferred] Someday", 99)
	blocked := seedTask(t, d, "Blocked by upstream", 50)
	upstream := seedTask(t, d, "Upstream", 10)
	if err := d.InsertDependency(blocked, upstream, RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	externally := seedTask(t, d, "Waiting on vendor", 60)
	external := "external"
	if _, err := d.InsertBlocker(&Blocker{TaskID: externally, Description: "vendor API key", BlockerType: &external}); err != nil {
		t.Fatalf("InsertBlocker failed: %v", err)
	}

	ready, err := d.ReadyTasks()
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	got := make([]int64, 0, len(ready))
	for _, r := range ready {
		got = append(got, r.ID)
	}
	want := []int64{high, upstream, low}
	if len(got) != len(want) {
		t.Fatalf("ready queue = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready queue = %v, want %v", got, want)
		}
	}
	_ = deferred
}

func TestNewlyReadyDependents(t *testing.T) {
	d := TestDB(t)
	up := seedTask(t, d, "Upstream", 1)
	down := seedTask(t, d, "Downstream", 1)
	other := seedTask(t, d, "Doubly blocked", 1)
	second := seedTask(t, d, "Second upstream", 1)
	if err := d.InsertDependency(down, up, RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := d.InsertDependency(other, up, RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	if err := d.InsertDependency(other, second, RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}

	if err := d.UpdateTaskFields(up, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		t.Fatalf("close upstream failed: %v", err)
	}

	newly, err := d.NewlyReadyDependents(up)
	if err != nil {
		t.Fatalf("NewlyReadyDependents failed: %v", err)
	}
	if len(newly) != 1 || newly[0].ID != down {
		t.Errorf("newly ready = %+v, want just task %d", newly, down)
	}
}

func TestChainHeads(t *testing.T) {
	d := TestDB(t)
	head := seedTask(t, d, "Head", 10)
	tail := seedTask(t, d, "Tail", 5)
	seedTask(t, d, "Standalone", 20)
	if err := d.InsertDependency(tail, head, RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}

	heads, err := d.ChainHeads()
	if err != nil {
		t.Fatalf("ChainHeads failed: %v", err)
	}
	if len(heads) != 1 || heads[0].ID != head {
		t.Errorf("chain heads = %+v, want just task %d", heads, head)
	}
	ok, err := d.IsChainHead(head)
	if err != nil {
		t.Fatalf("IsChainHead failed: %v", err)
	}
	if !ok {
		t.Errorf("task %d should be a chain head", head)
	}
}

func TestOpenReusesExistingStore(t *testing.T) {
	d := TestDB(t)
	id := seedTask(t, d, "Persistent", 1)

	path := d.Path()
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("re-open failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	task, err := reopened.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task == nil || task.Summary != "Persistent" {
		t.Errorf("task after reopen = %+v", task)
	}
}
