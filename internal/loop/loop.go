// Package loop runs the unattended work loop: pick the next ready
// task, hand it to an agent, verify the outcome, repeat.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/git"
	"github.com/tuskdev/tusk/internal/task"
)

// Loop drives bounded agent iterations over the ready queue.
type Loop struct {
	Paths    *config.Paths
	Cfg      *config.Config
	Runner   git.Runner
	MaxTasks int
	Agent    string
}

// New returns a loop bound to a project. Zero MaxTasks and empty Agent
// fall back to the configured values.
func New(paths *config.Paths, cfg *config.Config, runner git.Runner) *Loop {
	if runner == nil {
		runner = git.NewExecRunner()
	}
	return &Loop{
		Paths:    paths,
		Cfg:      cfg,
		Runner:   runner,
		MaxTasks: cfg.Loop.MaxTasks,
		Agent:    cfg.Loop.Agent,
	}
}

// Attempt records one loop iteration.
type Attempt struct {
	TaskID    int64  `json:"task_id"`
	Skill     string `json:"skill"`
	Completed bool   `json:"completed"`
	Excluded  bool   `json:"excluded"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the loop tally.
type RunResult struct {
	RunID     string    `json:"run_id"`
	Attempts  []Attempt `json:"attempts"`
	Completed int       `json:"completed"`
	Excluded  int       `json:"excluded"`
	Stopped   string    `json:"stopped"`
}

// Run iterates until the queue drains, the task budget is spent, or an
// agent fails hard. The database stays closed while the agent runs so
// the child process gets exclusive access.
func (l *Loop) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{RunID: uuid.NewString()}
	exclude := map[int64]bool{}
	agentBin := l.agentBinary()

	for len(result.Attempts) < l.MaxTasks {
		if err := ctx.Err(); err != nil {
			result.Stopped = "canceled"
			return result, nil
		}

		taskID, skill, err := l.selectNext(exclude)
		if err != nil {
			te := errors.AsTuskError(err)
			if te != nil && te.Code == errors.CodeNoReadyTasks {
				result.Stopped = "queue drained"
				return result, nil
			}
			return result, err
		}

		slog.Info("loop dispatching task",
			"run", result.RunID, "task", taskID, "skill", skill, "agent", agentBin)
		attempt := Attempt{TaskID: taskID, Skill: skill}
		_, runErr := l.Runner.Run(l.Paths.Root, agentBin,
			"-p", "/"+skill, strconv.FormatInt(taskID, 10))

		if runErr != nil {
			attempt.Error = runErr.Error()
			result.Attempts = append(result.Attempts, attempt)
			result.Stopped = fmt.Sprintf("agent failed on task %d", taskID)
			return result, &errors.TuskError{
				Code:  errors.CodeAgentFailed,
				What:  fmt.Sprintf("agent exited non-zero on task %d", taskID),
				Why:   attempt.Error,
				Fix:   "inspect the agent output, then re-run the loop",
				Cause: runErr,
			}
		}

		terminal, err := l.taskTerminal(taskID)
		if err != nil {
			return result, err
		}
		if terminal {
			attempt.Completed = true
			result.Completed++
		} else {
			// The agent claimed success but left the task open; keep
			// going without retrying it this run.
			attempt.Excluded = true
			exclude[taskID] = true
			result.Excluded++
			slog.Warn("agent exited clean but task is still open, excluding",
				"run", result.RunID, "task", taskID)
		}
		result.Attempts = append(result.Attempts, attempt)
	}
	result.Stopped = "task budget reached"
	return result, nil
}

// agentBinary resolves the agent name through the configured agent map.
func (l *Loop) agentBinary() string {
	if bin, ok := l.Cfg.Agents[l.Agent]; ok && bin != "" {
		return bin
	}
	return l.Agent
}

// selectNext opens the store just long enough to pick a task and
// classify it: chain heads run the chain skill, everything else the
// single-task skill.
func (l *Loop) selectNext(exclude map[int64]bool) (int64, string, error) {
	store, err := db.Open(l.Paths.DB)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = store.Close() }()

	svc := task.NewService(store, l.Cfg)
	t, err := svc.Select("", exclude)
	if err != nil {
		return 0, "", err
	}
	head, err := store.IsChainHead(t.ID)
	if err != nil {
		return 0, "", err
	}
	skill := "tusk"
	if head {
		skill = "chain"
	}
	return t.ID, skill, nil
}

// taskTerminal reopens the store and checks whether the agent closed
// the task.
func (l *Loop) taskTerminal(taskID int64) (bool, error) {
	store, err := db.Open(l.Paths.DB)
	if err != nil {
		return false, err
	}
	defer func() { _ = store.Close() }()

	t, err := store.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, errors.ErrTaskNotFound(taskID)
	}
	return t.Status == l.Cfg.TerminalStatus(), nil
}
