package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/task"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrInvalidInput(fmt.Sprintf("invalid id %q", arg), "ids are positive integers")
	}
	return id, nil
}

// parseCriterionFlag splits "text::type::spec" into a draft; type and
// spec are optional.
func parseCriterionFlag(raw string) task.CriterionDraft {
	parts := strings.SplitN(raw, "::", 3)
	draft := task.CriterionDraft{Text: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		draft.Type = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		draft.Spec = strings.TrimSpace(parts[2])
	}
	return draft
}

// newTaskInsertCmd creates the task-insert command
func newTaskInsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-insert <summary>",
		Short: "Insert a task with acceptance criteria",
		Long: `Insert a task and its acceptance criteria in one transaction.

A summary too similar to an existing open task aborts the insert and
exits 1 with the match. Criteria use "text", or "text::type", or
"text::type::spec"; code, test, and file criteria require a spec.

Examples:
  tusk task-insert "Fix login bug" -c "login works"
  tusk task-insert "Add rate limits" -c "unit tests pass::test::go test ./..." \
      --priority High --complexity M`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			req := task.InsertRequest{Summary: args[0]}
			req.Description, _ = cmd.Flags().GetString("description")
			req.Priority, _ = cmd.Flags().GetString("priority")
			req.Domain, _ = cmd.Flags().GetString("domain")
			req.TaskType, _ = cmd.Flags().GetString("type")
			req.Assignee, _ = cmd.Flags().GetString("assignee")
			req.Complexity, _ = cmd.Flags().GetString("complexity")
			req.SkipDupes, _ = cmd.Flags().GetBool("skip-dupes")
			if expires, _ := cmd.Flags().GetString("expires"); expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return errors.ErrInvalidInput("invalid --expires value", "use RFC3339, e.g. 2026-09-01T00:00:00Z")
				}
				req.ExpiresAt = &t
			}
			rawCriteria, _ := cmd.Flags().GetStringArray("criterion")
			for _, raw := range rawCriteria {
				req.Criteria = append(req.Criteria, parseCriterionFlag(raw))
			}

			svc := task.NewService(p.DB, p.Cfg)
			result, err := svc.Insert(req)
			if err != nil {
				return err
			}
			return emit(result, func() {
				successf("Created task %d: %s (score %.2f)",
					result.Task.ID, result.Task.Summary, result.Task.PriorityScore)
				for _, c := range result.Criteria {
					infof("  criterion %d: %s", c.ID, c.Criterion)
				}
			})
		},
	}

	cmd.Flags().StringP("description", "d", "", "Task description")
	cmd.Flags().StringArrayP("criterion", "c", nil, "Acceptance criterion (repeatable; text[::type[::spec]])")
	cmd.Flags().String("priority", "", "Priority")
	cmd.Flags().String("domain", "", "Domain")
	cmd.Flags().String("type", "", "Task type")
	cmd.Flags().String("assignee", "", "Assignee agent")
	cmd.Flags().String("complexity", "", "Complexity tier")
	cmd.Flags().String("expires", "", "Expiry timestamp (RFC3339)")
	cmd.Flags().Bool("skip-dupes", false, "Skip the duplicate check")
	return cmd
}

// newTaskUpdateCmd creates the task-update command
func newTaskUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-update <id>",
		Short: "Update task fields",
		Long: `Update task fields in place. Only flags you pass change; priority or
complexity changes rescore the whole open backlog.

Example:
  tusk task-update 3 --priority Critical --assignee claude`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			var req task.UpdateRequest
			strFlag := func(name string, dst **string) {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetString(name)
					*dst = &v
				}
			}
			strFlag("summary", &req.Summary)
			strFlag("description", &req.Description)
			strFlag("priority", &req.Priority)
			strFlag("domain", &req.Domain)
			strFlag("type", &req.TaskType)
			strFlag("assignee", &req.Assignee)
			strFlag("complexity", &req.Complexity)
			strFlag("github-pr", &req.GithubPR)
			if cmd.Flags().Changed("expires") {
				raw, _ := cmd.Flags().GetString("expires")
				t, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return errors.ErrInvalidInput("invalid --expires value", "use RFC3339")
				}
				req.ExpiresAt = &t
			}

			svc := task.NewService(p.DB, p.Cfg)
			updated, err := svc.Update(id, req)
			if err != nil {
				return err
			}
			return emit(updated, func() {
				successf("Updated task %d (score %.2f)", updated.ID, updated.PriorityScore)
			})
		},
	}

	cmd.Flags().String("summary", "", "New summary")
	cmd.Flags().String("description", "", "New description")
	cmd.Flags().String("priority", "", "New priority")
	cmd.Flags().String("domain", "", "New domain")
	cmd.Flags().String("type", "", "New task type")
	cmd.Flags().String("assignee", "", "New assignee")
	cmd.Flags().String("complexity", "", "New complexity")
	cmd.Flags().String("expires", "", "New expiry (RFC3339)")
	cmd.Flags().String("github-pr", "", "Linked pull request URL")
	return cmd
}

// newTaskShowCmd creates the task-show command
func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task-show <id>",
		Short: "Show one task with criteria, sessions, and blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			t, err := p.DB.GetTask(id)
			if err != nil {
				return err
			}
			if t == nil {
				return errors.ErrTaskNotFound(id)
			}
			criteria, err := p.DB.ListCriteria(id)
			if err != nil {
				return err
			}
			sessions, err := p.DB.ListSessions(id)
			if err != nil {
				return err
			}
			blockers, err := p.DB.ListBlockers(id, false)
			if err != nil {
				return err
			}
			progress, err := p.DB.ListProgress(id)
			if err != nil {
				return err
			}

			payload := map[string]any{
				"task":     t,
				"criteria": criteria,
				"sessions": sessions,
				"blockers": blockers,
				"progress": progress,
			}
			return emit(payload, func() {
				infof("#%d %s [%s] %s score=%.2f", t.ID, t.Summary, t.Status, t.Priority, t.PriorityScore)
				if t.Description != "" {
					infof("%s", t.Description)
				}
				for _, c := range criteria {
					mark := " "
					if c.IsCompleted {
						mark = "x"
					}
					infof("  [%s] %d %s (%s)", mark, c.ID, c.Criterion, c.CriterionType)
				}
				for _, b := range blockers {
					state := "open"
					if b.IsResolved {
						state = "resolved"
					}
					infof("  blocker %d (%s): %s", b.ID, state, b.Description)
				}
				infof("  sessions: %d, progress notes: %d", len(sessions), len(progress))
			})
		},
	}
}

// newTaskListCmd creates the task-list command
func newTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task-list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			status, _ := cmd.Flags().GetString("status")
			tasks, err := p.DB.ListTasks(status)
			if err != nil {
				return err
			}
			return emit(tasks, func() {
				if len(tasks) == 0 {
					infof("No tasks. Create one with: tusk task-insert \"Your task\" -c \"done when...\"")
					return
				}
				w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSCORE\tSUMMARY")
				for _, t := range tasks {
					fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\n",
						t.ID, t.Status, t.Priority, t.PriorityScore, t.Summary)
				}
				_ = w.Flush()
			})
		},
	}
	cmd.Flags().String("status", "", "Filter by status")
	return cmd
}
