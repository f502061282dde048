package cost

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/transcript"
)

// Engine attributes transcript spend to database rows.
type Engine struct {
	DB            *db.DB
	Pricing       *Pricing
	TranscriptDir string
}

// NewEngine wires an attribution engine.
func NewEngine(d *db.DB, p *Pricing, transcriptDir string) *Engine {
	return &Engine{DB: d, Pricing: p, TranscriptDir: transcriptDir}
}

func (e *Engine) files() ([]string, error) {
	return transcript.Files(e.TranscriptDir)
}

// Tally is the priced rollup of one attribution window.
type Tally struct {
	Cost      float64             `json:"cost_dollars"`
	TokensIn  int64               `json:"tokens_in"`
	TokensOut int64               `json:"tokens_out"`
	Model     string              `json:"model,omitempty"`
	Requests  int                 `json:"requests"`
	Stats     []*db.ToolCallStat  `json:"stats,omitempty"`
	Events    []*db.ToolCallEvent `json:"events,omitempty"`
}

// tally prices a window's requests and allocates per-tool-call shares.
// Within a request, the input side lands on the first tool call and
// output tokens split evenly with the remainder going to the earliest
// calls; the final call absorbs the rounding residue so event costs sum
// to the request cost. Requests without tool calls count toward totals
// only.
func (e *Engine) tally(reqs []*transcript.Request, taskID *int64) *Tally {
	t := &Tally{Requests: len(reqs)}
	modelReqs := make(map[string]int64)
	modelTokens := make(map[string]int64)
	statByTool := make(map[string]*db.ToolCallStat)
	var seq int64

	for _, req := range reqs {
		price := e.Pricing.Lookup(req.Model)
		reqCost := RequestCost(req.Usage, price)
		tIn := TokensIn(req.Usage)
		tOut := req.Usage.OutputTokens

		t.Cost += reqCost
		t.TokensIn += tIn
		t.TokensOut += tOut
		if req.Model != "" {
			modelReqs[req.Model]++
			modelTokens[req.Model] += tIn + tOut
		}

		n := int64(len(req.ToolCalls))
		if n == 0 {
			continue
		}
		outShare := tOut / n
		outRem := tOut % n
		outRate := price.Output / 1e6
		inCost := inputCost(req.Usage, price)

		var assigned float64
		for i, tc := range req.ToolCalls {
			seq++
			ev := &db.ToolCallEvent{
				TaskID:       taskID,
				ToolName:     tc.Name,
				TokensOut:    outShare,
				CallSequence: seq,
				CalledAt:     req.Timestamp,
			}
			if int64(i) < outRem {
				ev.TokensOut++
			}
			if i == 0 {
				ev.TokensIn = tIn
				ev.CostDollars = round6(inCost + float64(ev.TokensOut)*outRate)
			} else {
				ev.CostDollars = round6(float64(ev.TokensOut) * outRate)
			}
			if int64(i) == n-1 {
				ev.CostDollars = round6(reqCost - assigned)
			}
			assigned += ev.CostDollars
			t.Events = append(t.Events, ev)

			s, ok := statByTool[tc.Name]
			if !ok {
				s = &db.ToolCallStat{ToolName: tc.Name}
				statByTool[tc.Name] = s
				t.Stats = append(t.Stats, s)
			}
			s.CallCount++
			s.TotalCost = round6(s.TotalCost + ev.CostDollars)
			if ev.CostDollars > s.MaxCost {
				s.MaxCost = ev.CostDollars
			}
			s.TokensIn += ev.TokensIn
			s.TokensOut += ev.TokensOut
		}
	}

	t.Cost = round6(t.Cost)
	t.Model = dominantModel(modelReqs, modelTokens)
	return t
}

// dominantModel picks the model with the most deduplicated requests in
// the window. Ties break by attributed tokens, then by the
// lexicographically greater id so reruns stay stable.
func dominantModel(reqs, tokens map[string]int64) string {
	var best string
	var bestReqs, bestTokens int64 = -1, -1
	for model, n := range reqs {
		tk := tokens[model]
		switch {
		case n > bestReqs:
		case n == bestReqs && tk > bestTokens:
		case n == bestReqs && tk == bestTokens && model > best:
		default:
			continue
		}
		best = model
		bestReqs = n
		bestTokens = tk
	}
	return best
}

// AttributeSession prices the window from a session's start to its end
// (or now, while still open) and writes the totals and per-tool rows
// back atomically. An empty window writes nothing so previously stored
// totals survive.
func (e *Engine) AttributeSession(sessionID int64) (*Tally, error) {
	s, err := e.DB.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.ErrNotFound("session", sessionID)
	}
	files, err := e.files()
	if err != nil {
		return nil, err
	}
	reqs, err := transcript.Collect(files, []transcript.Window{{
		Key: "session", Start: s.StartedAt, End: s.EndedAt,
	}})
	if err != nil {
		return nil, err
	}
	t := e.tally(reqs["session"], &s.TaskID)
	if t.Requests == 0 {
		slog.Warn("no transcript requests in session window; keeping stored totals",
			"session", sessionID)
		return t, nil
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.DB.SetSessionTotals(tx, sessionID, t.Cost, t.TokensIn, t.TokensOut, t.Model); err != nil {
		return nil, err
	}
	owner := db.Owner{Kind: db.OwnerSession, ID: sessionID}
	if err := e.DB.ReplaceAttribution(tx, owner, t.Stats, t.Events); err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// AttributeSkillRun prices a skill run's window the same way.
func (e *Engine) AttributeSkillRun(runID int64) (*Tally, error) {
	r, err := e.DB.GetSkillRun(runID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.ErrNotFound("skill run", runID)
	}
	files, err := e.files()
	if err != nil {
		return nil, err
	}
	reqs, err := transcript.CollectWindow(files, transcript.Window{
		Key: "run", Start: r.StartedAt, End: r.EndedAt,
	})
	if err != nil {
		return nil, err
	}
	t := e.tally(reqs, nil)
	if t.Requests == 0 {
		slog.Warn("no transcript requests in skill run window; keeping stored totals",
			"run", runID)
		return t, nil
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.DB.SetSkillRunTotals(tx, runID, t.Cost, t.TokensIn, t.TokensOut, t.Model); err != nil {
		return nil, err
	}
	owner := db.Owner{Kind: db.OwnerSkillRun, ID: runID}
	if err := e.DB.ReplaceAttribution(tx, owner, t.Stats, t.Events); err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// criterionWindow computes the attribution interval for one completed
// criterion: from the previous completion on the task (or, failing
// that, the most recent session start, or the task's creation) up to
// the criterion's completion time. Commit time orders criteria but
// never extends the window; work done between completion and commit
// belongs to the next criterion.
func (e *Engine) criterionWindow(c *db.Criterion, exclude []int64) (time.Time, *time.Time, error) {
	end := c.CompletedAt
	if end == nil {
		return time.Time{}, nil, errors.ErrRefused(
			fmt.Sprintf("criterion %d is not completed", c.ID),
			"complete the criterion before attributing cost")
	}

	bound, err := e.DB.PriorCompletionBound(c.TaskID, exclude)
	if err != nil {
		return time.Time{}, nil, err
	}
	if bound != nil && bound.Before(*end) {
		return *bound, end, nil
	}
	start, err := e.DB.MostRecentSessionStart(c.TaskID)
	if err != nil {
		return time.Time{}, nil, err
	}
	if start != nil && start.Before(*end) {
		return *start, end, nil
	}
	t, err := e.DB.GetTask(c.TaskID)
	if err != nil {
		return time.Time{}, nil, err
	}
	if t == nil {
		return time.Time{}, nil, errors.ErrTaskNotFound(c.TaskID)
	}
	return t.CreatedAt, end, nil
}

// AttributeCriterion prices the window ending at a criterion's
// completion and writes its cost rows.
func (e *Engine) AttributeCriterion(criterionID int64) (*Tally, error) {
	c, err := e.DB.GetCriterion(criterionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.ErrNotFound("criterion", criterionID)
	}
	if c.CommitHash != nil {
		group, err := e.DB.CommitGroup(c.TaskID, *c.CommitHash)
		if err != nil {
			return nil, err
		}
		if len(group) > 1 {
			tallies, err := e.AttributeCommitGroup(c.TaskID, *c.CommitHash)
			if err != nil {
				return nil, err
			}
			return tallies[criterionID], nil
		}
	}

	start, end, err := e.criterionWindow(c, []int64{c.ID})
	if err != nil {
		return nil, err
	}
	files, err := e.files()
	if err != nil {
		return nil, err
	}
	reqs, err := transcript.CollectWindow(files, transcript.Window{
		Key: "criterion", Start: start, End: end,
	})
	if err != nil {
		return nil, err
	}
	t := e.tally(reqs, &c.TaskID)
	if t.Requests == 0 {
		slog.Warn("no transcript requests in criterion window; keeping stored totals",
			"criterion", criterionID)
		return t, nil
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.DB.SetCriterionCost(tx, c.ID, t.Cost, t.TokensIn, t.TokensOut); err != nil {
		return nil, err
	}
	owner := db.Owner{Kind: db.OwnerCriterion, ID: c.ID}
	if err := e.DB.ReplaceAttribution(tx, owner, t.Stats, t.Events); err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// AttributeCommitGroup splits one commit's window evenly across the
// criteria that landed in it: token counts divide with integer
// truncation, cost divides as a float, and every member carries the
// identical whole-window per-tool aggregate divided by the group size.
// Tool-call events deal out round-robin in member order with per-member
// sequence numbers, so each event is attributed exactly once.
func (e *Engine) AttributeCommitGroup(taskID int64, commitHash string) (map[int64]*Tally, error) {
	group, err := e.DB.CommitGroup(taskID, commitHash)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, errors.ErrRefused(
			fmt.Sprintf("no completed criteria on task %d reference commit %s", taskID, commitHash),
			"")
	}

	exclude := make([]int64, len(group))
	for i, c := range group {
		exclude[i] = c.ID
	}
	// The group shares one window: from the completion preceding the
	// whole group to the latest completion inside it.
	latest := group[0]
	for _, c := range group[1:] {
		if c.CompletedAt != nil &&
			(latest.CompletedAt == nil || c.CompletedAt.After(*latest.CompletedAt)) {
			latest = c
		}
	}
	start, end, err := e.criterionWindow(latest, exclude)
	if err != nil {
		return nil, err
	}

	files, err := e.files()
	if err != nil {
		return nil, err
	}
	reqs, err := transcript.CollectWindow(files, transcript.Window{
		Key: "commit", Start: start, End: end,
	})
	if err != nil {
		return nil, err
	}
	whole := e.tally(reqs, &taskID)

	n := int64(len(group))
	share := &Tally{
		Cost:      round6(whole.Cost / float64(n)),
		TokensIn:  whole.TokensIn / n,
		TokensOut: whole.TokensOut / n,
		Model:     whole.Model,
		Requests:  whole.Requests,
	}

	// Deal events round-robin in member order, renumbering sequences
	// per member.
	memberEvents := make([][]*db.ToolCallEvent, n)
	for i, ev := range whole.Events {
		m := i % int(n)
		dup := *ev
		dup.CallSequence = int64(len(memberEvents[m]) + 1)
		memberEvents[m] = append(memberEvents[m], &dup)
	}

	out := make(map[int64]*Tally, n)
	if whole.Requests == 0 {
		slog.Warn("no transcript requests in commit group window; keeping stored totals",
			"task", taskID, "commit", commitHash)
		for _, c := range group {
			out[c.ID] = &Tally{Model: share.Model}
		}
		return out, nil
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for i, c := range group {
		t := &Tally{
			Cost:      share.Cost,
			TokensIn:  share.TokensIn,
			TokensOut: share.TokensOut,
			Model:     share.Model,
			Requests:  share.Requests,
			Events:    memberEvents[i],
			Stats:     splitStats(whole.Stats, n),
		}
		if err := e.DB.SetCriterionCost(tx, c.ID, t.Cost, t.TokensIn, t.TokensOut); err != nil {
			return nil, err
		}
		owner := db.Owner{Kind: db.OwnerCriterion, ID: c.ID}
		if err := e.DB.ReplaceAttribution(tx, owner, t.Stats, t.Events); err != nil {
			return nil, err
		}
		out[c.ID] = t
	}
	return out, tx.Commit()
}

// splitStats copies the whole-window per-tool aggregates with every
// counter divided by the group size, so each member stores the same
// rows and member sums stay within one unit of the window totals.
func splitStats(whole []*db.ToolCallStat, n int64) []*db.ToolCallStat {
	out := make([]*db.ToolCallStat, 0, len(whole))
	for _, s := range whole {
		out = append(out, &db.ToolCallStat{
			ToolName:  s.ToolName,
			CallCount: s.CallCount / n,
			TotalCost: round6(s.TotalCost / float64(n)),
			MaxCost:   s.MaxCost,
			TokensIn:  s.TokensIn / n,
			TokensOut: s.TokensOut / n,
		})
	}
	return out
}
