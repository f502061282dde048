package loop

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// fakeAgent stands in for the spawned agent binary. It receives the
// skill and task id the loop passes and manipulates the store while the
// loop holds it closed, exactly like the real child process.
type fakeAgent struct {
	t      *testing.T
	dbPath string
	calls  []string
	// close makes the agent finish the task it was handed.
	close bool
	// fail makes the agent exit non-zero.
	fail error
}

func (a *fakeAgent) Run(workDir, name string, args ...string) (string, error) {
	a.calls = append(a.calls, name+" "+args[0]+" "+args[1]+" "+args[2])
	if a.fail != nil {
		return "", a.fail
	}
	if !a.close {
		return "", nil
	}
	taskID, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		a.t.Fatalf("loop passed a non-numeric task id: %v", args)
	}
	store, err := db.Open(a.dbPath)
	if err != nil {
		a.t.Fatalf("agent could not open store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.UpdateTaskFields(taskID, map[string]any{
		"status": "Done", "closed_reason": "completed",
	}); err != nil {
		a.t.Fatalf("agent could not close task %d: %v", taskID, err)
	}
	return "done", nil
}

func newLoopProject(t *testing.T) (*config.Paths, *config.Config) {
	t.Helper()
	root := t.TempDir()
	paths := &config.Paths{
		Root: root,
		DB:   filepath.Join(root, config.TuskDir, config.DBFileName),
	}
	cfg := config.Default()

	store, err := db.Open(paths.DB)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.SyncStatusRanks(cfg.Statuses); err != nil {
		t.Fatalf("SyncStatusRanks failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return paths, cfg
}

func seedLoopTask(t *testing.T, dbPath, summary string, score float64) int64 {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()
	id, err := store.InsertTask(nil, &db.Task{
		Summary: summary, Status: "To Do", Priority: "Medium",
		TaskType: "feature", PriorityScore: score,
	})
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func TestRunDrainsQueue(t *testing.T) {
	paths, cfg := newLoopProject(t)
	first := seedLoopTask(t, paths.DB, "High value", 20)
	second := seedLoopTask(t, paths.DB, "Low value", 5)

	agent := &fakeAgent{t: t, dbPath: paths.DB, close: true}
	l := New(paths, cfg, agent)

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stopped != "queue drained" {
		t.Errorf("stopped = %q, want queue drained", res.Stopped)
	}
	if res.Completed != 2 || res.Excluded != 0 {
		t.Errorf("completed/excluded = %d/%d", res.Completed, res.Excluded)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].TaskID != first || res.Attempts[1].TaskID != second {
		t.Errorf("attempts = %+v, want highest score first", res.Attempts)
	}
}

func TestRunExcludesTaskLeftOpen(t *testing.T) {
	paths, cfg := newLoopProject(t)
	id := seedLoopTask(t, paths.DB, "Sticky task", 10)

	agent := &fakeAgent{t: t, dbPath: paths.DB}
	l := New(paths, cfg, agent)

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stopped != "queue drained" {
		t.Errorf("stopped = %q, want queue drained after the exclusion", res.Stopped)
	}
	if res.Excluded != 1 || res.Completed != 0 {
		t.Errorf("completed/excluded = %d/%d", res.Completed, res.Excluded)
	}
	if len(res.Attempts) != 1 || !res.Attempts[0].Excluded || res.Attempts[0].TaskID != id {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	if len(agent.calls) != 1 {
		t.Errorf("agent ran %d times, must not retry within a run", len(agent.calls))
	}
}

func TestRunStopsOnAgentFailure(t *testing.T) {
	paths, cfg := newLoopProject(t)
	id := seedLoopTask(t, paths.DB, "Doomed task", 10)
	seedLoopTask(t, paths.DB, "Never reached", 5)

	agent := &fakeAgent{t: t, dbPath: paths.DB, fail: fmt.Errorf("exit status 1")}
	l := New(paths, cfg, agent)

	res, err := l.Run(context.Background())
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeAgentFailed {
		t.Fatalf("err = %v, want AGENT_FAILED", err)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].TaskID != id || res.Attempts[0].Error == "" {
		t.Errorf("attempts = %+v", res.Attempts)
	}
}

func TestRunHonorsTaskBudget(t *testing.T) {
	paths, cfg := newLoopProject(t)
	seedLoopTask(t, paths.DB, "First", 10)
	seedLoopTask(t, paths.DB, "Second", 5)

	agent := &fakeAgent{t: t, dbPath: paths.DB, close: true}
	l := New(paths, cfg, agent)
	l.MaxTasks = 1

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stopped != "task budget reached" || len(res.Attempts) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunPicksChainSkillForChainHeads(t *testing.T) {
	paths, cfg := newLoopProject(t)
	head := seedLoopTask(t, paths.DB, "Chain head", 10)
	tail := seedLoopTask(t, paths.DB, "Chain tail", 5)

	store, err := db.Open(paths.DB)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.InsertDependency(tail, head, db.RelBlocks); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}
	_ = store.Close()

	agent := &fakeAgent{t: t, dbPath: paths.DB, close: true}
	l := New(paths, cfg, agent)
	l.MaxTasks = 1

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Skill != "chain" {
		t.Errorf("attempts = %+v, want the chain skill", res.Attempts)
	}
	if agent.calls[0] != "claude -p /chain "+strconv.FormatInt(head, 10) {
		t.Errorf("agent call = %q", agent.calls[0])
	}
}

func TestAgentBinaryResolution(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = map[string]string{"claude": "/usr/local/bin/claude"}
	l := New(&config.Paths{}, cfg, &fakeAgent{})
	if got := l.agentBinary(); got != "/usr/local/bin/claude" {
		t.Errorf("agentBinary = %q, want the mapped path", got)
	}

	l.Agent = "aider"
	if got := l.agentBinary(); got != "aider" {
		t.Errorf("unmapped agent = %q, want the bare name", got)
	}
}
