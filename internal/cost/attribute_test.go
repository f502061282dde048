package cost

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/transcript"
)

func testEngine(t *testing.T) (*Engine, *db.DB, string) {
	t.Helper()
	d := db.TestDB(t)
	dir := t.TempDir()
	return NewEngine(d, DefaultPricing(), dir), d, dir
}

func seedCostTask(t *testing.T, d *db.DB) int64 {
	t.Helper()
	id, err := d.InsertTask(nil, &db.Task{
		Summary: "Costed work", Status: "To Do", Priority: "Medium", TaskType: "feature",
	})
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	return id
}

func writeJSONL(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func reqLine(id, model, ts string, in, out int64, tools ...string) string {
	var blocks []string
	for i, name := range tools {
		blocks = append(blocks, `{"type":"tool_use","id":"tu_`+id+`_`+string(rune('a'+i))+`","name":"`+name+`"}`)
	}
	return `{"type":"assistant","requestId":"` + id + `","timestamp":"` + ts + `",` +
		`"message":{"model":"` + model + `","usage":{"input_tokens":` + strconv.FormatInt(in, 10) +
		`,"output_tokens":` + strconv.FormatInt(out, 10) + `},"content":[` + strings.Join(blocks, ",") + `]}}`
}

func TestTallyAllocation(t *testing.T) {
	e := &Engine{Pricing: DefaultPricing()}
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	reqs := []*transcript.Request{
		{
			ID: "r1", Model: "claude-sonnet-4", Timestamp: ts,
			Usage: transcript.Usage{InputTokens: 1000, OutputTokens: 10},
			ToolCalls: []transcript.ToolCall{
				{BlockID: "a", Name: "Read"},
				{BlockID: "b", Name: "Edit"},
				{BlockID: "c", Name: "Read"},
			},
		},
		{
			ID: "r2", Model: "claude-sonnet-4", Timestamp: ts.Add(time.Minute),
			Usage: transcript.Usage{InputTokens: 500, OutputTokens: 7},
			ToolCalls: []transcript.ToolCall{
				{BlockID: "d", Name: "Bash"},
				{BlockID: "e", Name: "Bash"},
			},
		},
	}

	tally := e.tally(reqs, nil)
	if len(tally.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(tally.Events))
	}
	for i, ev := range tally.Events {
		if ev.CallSequence != int64(i+1) {
			t.Errorf("event %d sequence = %d", i, ev.CallSequence)
		}
	}

	// Output tokens split evenly with the remainder on the earliest calls.
	wantOut := []int64{4, 3, 3, 4, 3}
	for i, ev := range tally.Events {
		if ev.TokensOut != wantOut[i] {
			t.Errorf("event %d tokens_out = %d, want %d", i, ev.TokensOut, wantOut[i])
		}
	}

	// The first call of each request carries the input side.
	if tally.Events[0].TokensIn != 1000 || tally.Events[3].TokensIn != 500 {
		t.Errorf("input tokens landed wrong: %+v", tally.Events)
	}
	if tally.Events[1].TokensIn != 0 {
		t.Errorf("later calls must not carry input tokens: %+v", tally.Events[1])
	}

	// Per-request event costs sum exactly to the request cost.
	sonnet := e.Pricing.Lookup("claude-sonnet-4")
	r1Cost := RequestCost(reqs[0].Usage, sonnet)
	var sum float64
	for _, ev := range tally.Events[:3] {
		sum += ev.CostDollars
	}
	if round6(sum) != r1Cost {
		t.Errorf("event costs sum to %v, request cost is %v", round6(sum), r1Cost)
	}

	// Stats aggregate by tool.
	byTool := map[string]*db.ToolCallStat{}
	for _, s := range tally.Stats {
		byTool[s.ToolName] = s
	}
	if byTool["Read"].CallCount != 2 || byTool["Bash"].CallCount != 2 || byTool["Edit"].CallCount != 1 {
		t.Errorf("stats = %+v", tally.Stats)
	}
	if tally.TokensIn != 1500 || tally.TokensOut != 17 {
		t.Errorf("totals = %d in / %d out", tally.TokensIn, tally.TokensOut)
	}
}

func TestDominantModelByRequestCount(t *testing.T) {
	reqs := map[string]int64{"model-big": 1, "model-small": 2}
	tokens := map[string]int64{"model-big": 1000000, "model-small": 40}
	if got := dominantModel(reqs, tokens); got != "model-small" {
		t.Errorf("dominant model = %q, want the most-requests winner model-small", got)
	}
}

func TestDominantModelTieBreaks(t *testing.T) {
	// Equal request counts: tokens decide.
	reqs := map[string]int64{"claude-opus-4": 2, "claude-sonnet-4": 2}
	tokens := map[string]int64{"claude-opus-4": 500, "claude-sonnet-4": 100}
	if got := dominantModel(reqs, tokens); got != "claude-opus-4" {
		t.Errorf("token tie-break picked %q, want claude-opus-4", got)
	}

	// Full tie: the lexicographically greater id, stable across reruns.
	tokens["claude-sonnet-4"] = 500
	if got := dominantModel(reqs, tokens); got != "claude-sonnet-4" {
		t.Errorf("full tie broke to %q, want the lexicographically greater id", got)
	}
}

func TestAttributeSession(t *testing.T) {
	e, d, dir := testEngine(t)
	taskID := seedCostTask(t, d)

	start := time.Now().UTC().Add(-time.Hour)
	sid, err := d.InsertSession(taskID, start, "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	inWindow := start.Add(10 * time.Minute).Format(time.RFC3339)
	before := start.Add(-10 * time.Minute).Format(time.RFC3339)
	writeJSONL(t, dir, "session.jsonl",
		reqLine("r1", "claude-sonnet-4", inWindow, 1000, 10, "Read", "Edit"),
		reqLine("r0", "claude-sonnet-4", before, 9999, 9999, "Bash"),
	)

	tally, err := e.AttributeSession(sid)
	if err != nil {
		t.Fatalf("AttributeSession failed: %v", err)
	}
	if tally.Requests != 1 || tally.TokensIn != 1000 || tally.TokensOut != 10 {
		t.Errorf("tally = %+v, pre-session request must not count", tally)
	}

	s, err := d.GetSession(sid)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.CostDollars != tally.Cost || s.TokensIn != 1000 || s.Model == nil || *s.Model != "claude-sonnet-4" {
		t.Errorf("session totals = %+v", s)
	}

	owner := db.Owner{Kind: db.OwnerSession, ID: sid}
	events, err := d.ListToolCallEvents(owner)
	if err != nil {
		t.Fatalf("ListToolCallEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].ToolName != "Read" || events[1].ToolName != "Edit" {
		t.Fatalf("events = %+v", events)
	}

	// Re-running attribution replaces rows instead of stacking them.
	if _, err := e.AttributeSession(sid); err != nil {
		t.Fatalf("second AttributeSession failed: %v", err)
	}
	events, err = d.ListToolCallEvents(owner)
	if err != nil {
		t.Fatalf("ListToolCallEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("re-attribution left %d events, want 2", len(events))
	}
}

func TestAttributeCommitGroupSplitsEvenly(t *testing.T) {
	e, d, dir := testEngine(t)
	taskID := seedCostTask(t, d)

	c1 := &db.Criterion{TaskID: taskID, Criterion: "first", Source: "original", CriterionType: "manual"}
	c2 := &db.Criterion{TaskID: taskID, Criterion: "second", Source: "original", CriterionType: "manual"}
	if _, err := d.InsertCriterion(nil, c1); err != nil {
		t.Fatalf("InsertCriterion failed: %v", err)
	}
	if _, err := d.InsertCriterion(nil, c2); err != nil {
		t.Fatalf("InsertCriterion failed: %v", err)
	}

	completed := time.Now().UTC().Add(time.Hour)
	committed := completed.Add(time.Minute)
	for _, id := range []int64{c1.ID, c2.ID} {
		if err := d.CompleteCriterion(id, completed, "deadbeef", &committed); err != nil {
			t.Fatalf("CompleteCriterion failed: %v", err)
		}
	}

	inWindow := time.Now().UTC().Add(10 * time.Minute).Format(time.RFC3339)
	writeJSONL(t, dir, "session.jsonl",
		reqLine("r1", "claude-sonnet-4", inWindow, 1000, 8, "Read", "Edit", "Read", "Edit"),
	)

	tallies, err := e.AttributeCommitGroup(taskID, "deadbeef")
	if err != nil {
		t.Fatalf("AttributeCommitGroup failed: %v", err)
	}
	if len(tallies) != 2 {
		t.Fatalf("got %d tallies, want 2", len(tallies))
	}

	for _, id := range []int64{c1.ID, c2.ID} {
		share := tallies[id]
		if share.TokensIn != 500 || share.TokensOut != 4 {
			t.Errorf("criterion %d share = %d in / %d out, want 500/4", id, share.TokensIn, share.TokensOut)
		}

		events, err := d.ListToolCallEvents(db.Owner{Kind: db.OwnerCriterion, ID: id})
		if err != nil {
			t.Fatalf("ListToolCallEvents failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("criterion %d got %d events, want 2 dealt round-robin", id, len(events))
		}
		if events[0].CallSequence != 1 || events[1].CallSequence != 2 {
			t.Errorf("criterion %d sequences = %d,%d, want renumbered 1,2",
				id, events[0].CallSequence, events[1].CallSequence)
		}

		stored, err := d.GetCriterion(id)
		if err != nil {
			t.Fatalf("GetCriterion failed: %v", err)
		}
		if stored.CostDollars == nil || *stored.CostDollars != share.Cost {
			t.Errorf("criterion %d cost = %v, want %v", id, stored.CostDollars, share.Cost)
		}
	}

	// Every member stores the identical whole-window aggregate divided
	// by the group size, not a rebuild of its dealt hand.
	for _, id := range []int64{c1.ID, c2.ID} {
		stats, err := d.ListToolCallStats(db.Owner{Kind: db.OwnerCriterion, ID: id})
		if err != nil {
			t.Fatalf("ListToolCallStats failed: %v", err)
		}
		if len(stats) != 2 {
			t.Fatalf("criterion %d stats = %+v, want Edit and Read rows", id, stats)
		}
		edit, read := stats[0], stats[1]
		if read.ToolName != "Read" || read.CallCount != 1 || read.TokensIn != 500 || read.TokensOut != 2 {
			t.Errorf("criterion %d Read stat = %+v, want whole-window counters halved", id, read)
		}
		if edit.ToolName != "Edit" || edit.CallCount != 1 || edit.TokensIn != 0 || edit.TokensOut != 2 {
			t.Errorf("criterion %d Edit stat = %+v, want whole-window counters halved", id, edit)
		}
	}

	// Round-robin dealing: member one gets calls 1 and 3, member two 2 and 4.
	first, _ := d.ListToolCallEvents(db.Owner{Kind: db.OwnerCriterion, ID: c1.ID})
	if first[0].ToolName != "Read" || first[1].ToolName != "Read" {
		t.Errorf("first member's hand = %+v", first)
	}
	second, _ := d.ListToolCallEvents(db.Owner{Kind: db.OwnerCriterion, ID: c2.ID})
	if second[0].ToolName != "Edit" || second[1].ToolName != "Edit" {
		t.Errorf("second member's hand = %+v", second)
	}
}

func TestAttributeSessionEmptyWindowKeepsTotals(t *testing.T) {
	e, d, _ := testEngine(t)
	taskID := seedCostTask(t, d)

	sid, err := d.InsertSession(taskID, time.Now().UTC().Add(-time.Hour), "claude")
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if err := d.SetSessionTotals(nil, sid, 1.25, 100, 40, "claude-sonnet-4"); err != nil {
		t.Fatalf("SetSessionTotals failed: %v", err)
	}

	tally, err := e.AttributeSession(sid)
	if err != nil {
		t.Fatalf("AttributeSession failed: %v", err)
	}
	if tally.Requests != 0 {
		t.Fatalf("tally = %+v, want an empty window", tally)
	}

	s, err := d.GetSession(sid)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.CostDollars != 1.25 || s.TokensIn != 100 || s.TokensOut != 40 {
		t.Errorf("empty-window attribution overwrote totals: cost=%v tokens_in=%d tokens_out=%d",
			s.CostDollars, s.TokensIn, s.TokensOut)
	}
}

func TestAttributeCriterionWindowEndsAtCompletion(t *testing.T) {
	e, d, dir := testEngine(t)
	taskID := seedCostTask(t, d)

	c := &db.Criterion{TaskID: taskID, Criterion: "done", Source: "original", CriterionType: "manual"}
	if _, err := d.InsertCriterion(nil, c); err != nil {
		t.Fatalf("InsertCriterion failed: %v", err)
	}
	completed := time.Now().UTC().Add(time.Hour)
	committed := completed.Add(10 * time.Minute)
	if err := d.CompleteCriterion(c.ID, completed, "cafebabe", &committed); err != nil {
		t.Fatalf("CompleteCriterion failed: %v", err)
	}

	during := completed.Add(-30 * time.Minute).Format(time.RFC3339)
	afterCompletion := completed.Add(5 * time.Minute).Format(time.RFC3339)
	writeJSONL(t, dir, "session.jsonl",
		reqLine("r1", "claude-sonnet-4", during, 100, 4, "Read"),
		reqLine("r2", "claude-sonnet-4", afterCompletion, 9999, 9999, "Bash"),
	)

	tally, err := e.AttributeCriterion(c.ID)
	if err != nil {
		t.Fatalf("AttributeCriterion failed: %v", err)
	}
	if tally.Requests != 1 || tally.TokensIn != 100 {
		t.Errorf("tally = %+v, work between completion and commit must not count", tally)
	}
}
