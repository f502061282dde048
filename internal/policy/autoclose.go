// Package policy implements unattended backlog hygiene: expiry sweeps,
// moot-contingent cascades, and backlog scans.
package policy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/task"
)

// Sweeper runs policy sweeps over the task store.
type Sweeper struct {
	DB    *db.DB
	Cfg   *config.Config
	Tasks *task.Service
}

// NewSweeper wires a policy sweeper.
func NewSweeper(d *db.DB, cfg *config.Config) *Sweeper {
	return &Sweeper{DB: d, Cfg: cfg, Tasks: task.NewService(d, cfg)}
}

// Closure records one auto-closed task.
type Closure struct {
	Task   *db.Task `json:"task"`
	Reason string   `json:"reason"`
	Note   string   `json:"note"`
}

// AutocloseResult is the outcome of one sweep.
type AutocloseResult struct {
	Expired []Closure `json:"expired"`
	Moot    []Closure `json:"moot"`
}

// Autoclose closes expired deferred tasks and cascades closure to tasks
// whose contingent prerequisite closed without completing. Policy
// closes bypass the criteria gate: the annotation carries the audit
// trail instead.
func (s *Sweeper) Autoclose(now time.Time) (*AutocloseResult, error) {
	out := &AutocloseResult{}

	expired, err := s.expiredDeferred(now)
	if err != nil {
		return nil, err
	}
	for _, t := range expired {
		days := int(now.Sub(t.CreatedAt).Hours() / 24)
		note := fmt.Sprintf("Auto-closed: Deferred task expired after %d days without action.", days)
		if err := s.close(t.ID, "expired", note, now); err != nil {
			return nil, err
		}
		slog.Info("auto-closed expired deferred task", "task", t.ID, "days", days)
		out.Expired = append(out.Expired, Closure{Task: t, Reason: "expired", Note: note})
	}

	// Cascade until no task becomes newly moot; each round can expose
	// the next layer of contingent dependents.
	for {
		moot, err := s.mootContingent()
		if err != nil {
			return nil, err
		}
		if len(moot) == 0 {
			break
		}
		for _, m := range moot {
			note := fmt.Sprintf("Auto-closed: contingent on task %d, which closed as %s.",
				m.upstream.ID, *m.upstream.ClosedReason)
			if err := s.close(m.task.ID, "wont_do", note, now); err != nil {
				return nil, err
			}
			slog.Info("auto-closed moot contingent task",
				"task", m.task.ID, "upstream", m.upstream.ID)
			out.Moot = append(out.Moot, Closure{Task: m.task, Reason: "wont_do", Note: note})
		}
	}
	return out, nil
}

// expiredDeferred returns initial-status deferred tasks whose
// expires_at has passed. In-progress work never expires out from under
// an agent.
func (s *Sweeper) expiredDeferred(now time.Time) ([]*db.Task, error) {
	open, err := s.DB.ListTasks(s.Cfg.InitialStatus())
	if err != nil {
		return nil, err
	}
	var out []*db.Task
	for _, t := range open {
		if t.IsDeferred && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

type mootPair struct {
	task     *db.Task
	upstream *db.Task
}

// mootContingent finds open tasks with a contingent dependency on a
// task that closed for any reason other than completed.
func (s *Sweeper) mootContingent() ([]mootPair, error) {
	open, err := s.DB.OpenTasks()
	if err != nil {
		return nil, err
	}
	terminal := s.Cfg.TerminalStatus()
	var out []mootPair
	for _, t := range open {
		deps, err := s.DB.DependenciesOf(t.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if d.RelationshipType != db.RelContingent {
				continue
			}
			up, err := s.DB.GetTask(d.DependsOnID)
			if err != nil {
				return nil, err
			}
			if up == nil || up.Status != terminal || up.ClosedReason == nil {
				continue
			}
			if *up.ClosedReason != "completed" {
				out = append(out, mootPair{task: t, upstream: up})
				break
			}
		}
	}
	return out, nil
}

// close is the policy-side closure: annotate, close sessions, move to
// terminal with the reason.
func (s *Sweeper) close(id int64, reason, note string, now time.Time) error {
	if _, err := s.DB.CloseOpenSessions(id, now); err != nil {
		return err
	}
	if err := s.DB.AppendTaskDescription(id, note); err != nil {
		return err
	}
	return s.DB.UpdateTaskFields(id, map[string]any{
		"status":        s.Cfg.TerminalStatus(),
		"closed_reason": reason,
	})
}
