// Package finalize drives the end-of-task workflow: close the work
// session, attribute its cost, merge the task branch, and close the
// task.
package finalize

import (
	"fmt"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/cost"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/git"
	"github.com/tuskdev/tusk/internal/task"
)

// Finalizer wires the subsystems the workflow touches.
type Finalizer struct {
	DB    *db.DB
	Cfg   *config.Config
	Tasks *task.Service
	Git   *git.Git
	Costs *cost.Engine
}

// New returns a Finalizer.
func New(d *db.DB, cfg *config.Config, g *git.Git, costs *cost.Engine) *Finalizer {
	return &Finalizer{DB: d, Cfg: cfg, Tasks: task.NewService(d, cfg), Git: g, Costs: costs}
}

// Result is the finalize outcome.
type Result struct {
	Task           *db.Task     `json:"task"`
	Session        *db.Session  `json:"session,omitempty"`
	Branch         string       `json:"branch"`
	MergeMode      string       `json:"merge_mode"`
	Merged         bool         `json:"merged"`
	Tally          *cost.Tally  `json:"cost,omitempty"`
	Diff           *git.DiffStats `json:"diff,omitempty"`
	SessionsClosed int          `json:"sessions_closed"`
	NewlyReady     []*db.Task   `json:"newly_ready,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// detectSession picks the session to finalize. An explicit id wins
// after validation against the task; otherwise the open session when
// one exists, otherwise the most recent closed one with a warning. No
// sessions at all is an error.
func (f *Finalizer) detectSession(taskID, sessionID int64, result *Result) (*db.Session, error) {
	if sessionID > 0 {
		s, err := f.DB.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.ErrNotFound("session", sessionID)
		}
		if s.TaskID != taskID {
			return nil, errors.ErrInvalidInput(
				fmt.Sprintf("session %d belongs to task %d, not task %d", sessionID, s.TaskID, taskID),
				"pass a session id from this task, or omit --session to auto-detect")
		}
		return s, nil
	}
	open, err := f.DB.OpenSession(taskID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}
	sessions, err := f.DB.ListSessions(taskID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, errors.ErrRefused(
			fmt.Sprintf("task %d has no sessions to finalize", taskID),
			"start work with task-start before finalizing")
	}
	last := sessions[len(sessions)-1]
	result.Warnings = append(result.Warnings, fmt.Sprintf(
		"no open session; using most recent closed session %d", last.ID))
	return last, nil
}

// preflight verifies the repository is mergeable: exactly one task
// branch exists, and in local mode the tree is clean.
func (f *Finalizer) preflight(taskID int64) (string, error) {
	branches, err := f.Git.TaskBranches(taskID)
	if err != nil {
		return "", err
	}
	switch len(branches) {
	case 0:
		return "", errors.ErrRefused(
			fmt.Sprintf("no branch matches feature/TASK-%d-*", taskID),
			"create the task branch before finalizing")
	case 1:
	default:
		return "", errors.ErrRefused(
			fmt.Sprintf("%d branches match feature/TASK-%d-*", len(branches), taskID),
			fmt.Sprintf("delete the extras; found %v", branches))
	}
	if f.Cfg.Merge.Mode == "local" {
		clean, err := f.Git.IsClean()
		if err != nil {
			return "", err
		}
		if !clean {
			return "", errors.ErrRefused("working tree has uncommitted changes",
				"commit or stash before a local merge")
		}
	}
	return branches[0], nil
}

// Run executes the workflow. A sessionID of zero auto-detects the
// session to finalize. A failure after the merge leaves recovery
// guidance in the error so the caller can finish by hand.
func (f *Finalizer) Run(taskID, sessionID int64) (*Result, error) {
	t, err := f.DB.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.ErrTaskNotFound(taskID)
	}
	if t.Status == f.Cfg.TerminalStatus() {
		return nil, errors.ErrRefused(fmt.Sprintf("task %d is already closed", taskID), "")
	}

	result := &Result{Task: t, MergeMode: f.Cfg.Merge.Mode}

	branch, err := f.preflight(taskID)
	if err != nil {
		return nil, err
	}
	result.Branch = branch

	session, err := f.detectSession(taskID, sessionID, result)
	if err != nil {
		return nil, err
	}
	if session.EndedAt == nil {
		session, err = f.DB.CloseSession(session.ID, time.Now())
		if err != nil {
			return nil, err
		}
	}
	result.Session = session

	if f.Costs != nil {
		tally, err := f.Costs.AttributeSession(session.ID)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("cost attribution failed: %v", err))
		} else {
			result.Tally = tally
		}
	}

	if diff, err := f.Git.DiffAgainst(f.Cfg.Merge.TargetBranch); err == nil {
		result.Diff = diff
		if err := f.DB.SetSessionDiffStats(session.ID, diff.LinesAdded, diff.LinesRemoved); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("recording diff stats failed: %v", err))
		}
	}

	switch f.Cfg.Merge.Mode {
	case "pr":
		err = f.Git.MergePR(branch)
	default:
		err = f.Git.MergeFF(f.Cfg.Merge.TargetBranch, branch)
	}
	if err != nil {
		return nil, err
	}
	result.Merged = true

	closed, err := f.closeTask(taskID, result)
	if err != nil {
		return nil, recoveryError(taskID, branch, err)
	}
	result.Task = closed.Task
	result.SessionsClosed = closed.SessionsClosed
	result.NewlyReady = closed.NewlyReady
	return result, nil
}

// closeTask closes the task, retrying with force when uncompleted
// criteria gate it. The surfaced warnings keep the audit trail honest.
func (f *Finalizer) closeTask(taskID int64, result *Result) (*task.CloseResult, error) {
	closed, err := f.Tasks.Close(taskID, "completed", false)
	if err == nil {
		return closed, nil
	}
	te := errors.AsTuskError(err)
	if te == nil || te.Code != errors.CodeForceRequired {
		return nil, err
	}
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("closing despite gate: %s", te.Error()))
	return f.Tasks.Close(taskID, "completed", true)
}

// recoveryError wraps a post-merge failure with manual recovery steps.
func recoveryError(taskID int64, branch string, err error) error {
	te := errors.AsTuskError(err)
	if te == nil {
		te = errors.Wrap(err, "finalize failed after merge")
	}
	return &errors.TuskError{
		Code: te.Code,
		What: te.What,
		Why:  te.Why,
		Fix: fmt.Sprintf("branch %s is already merged; finish with "+
			"'tusk task-done %d --reason completed --force'", branch, taskID),
		Cause: te.Cause,
	}
}
