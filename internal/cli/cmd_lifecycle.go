package cli

import (
	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/task"
)

// newTaskStartCmd creates the task-start command
func newTaskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-start <id>",
		Short: "Begin or resume a work session",
		Long: `Move a task to the in-progress status and open a work session.

Refuses while the task has unresolved external blockers, and requires
at least one non-deferred acceptance criterion unless forced. Starting
an already-started task resumes its open session.

Example:
  tusk task-start 3 --agent claude`,
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

			agent, _ := cmd.Flags().GetString("agent")
			force, _ := cmd.Flags().GetBool("force")
			svc := task.NewService(p.DB, p.Cfg)
			result, err := svc.Start(id, agent, force)
			if err != nil {
				return err
			}
			return emit(result, func() {
				verb := "Started"
				if result.Resumed {
					verb = "Resumed"
				}
				successf("%s session %d on task %d: %s",
					verb, result.SessionID, result.Task.ID, result.Task.Summary)
				for _, c := range result.Criteria {
					mark := " "
					if c.IsCompleted {
						mark = "x"
					}
					infof("  [%s] %d %s", mark, c.ID, c.Criterion)
				}
			})
		},
	}
	cmd.Flags().String("agent", "", "Agent name for the session")
	cmd.Flags().Bool("force", false, "Start without acceptance criteria")
	return cmd
}

// newTaskDoneCmd creates the task-done command
func newTaskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-done <id>",
		Short: "Close a task with a reason",
		Long: `Close a task: set the terminal status, record the reason, and end any
open sessions. Refuses while non-deferred criteria are incomplete
unless forced; forced closes leave an annotation in the description.
The output includes tasks the closure unblocked.

Example:
  tusk task-done 3 --reason completed`,
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

			reason, _ := cmd.Flags().GetString("reason")
			force, _ := cmd.Flags().GetBool("force")
			svc := task.NewService(p.DB, p.Cfg)
			result, err := svc.Close(id, reason, force)
			if err != nil {
				return err
			}
			return emit(result, func() {
				successf("Closed task %d as %s (%d sessions closed)",
					result.Task.ID, reason, result.SessionsClosed)
				for _, t := range result.NewlyReady {
					infof("  now ready: #%d %s", t.ID, t.Summary)
				}
			})
		},
	}
	cmd.Flags().String("reason", "completed", "Closed reason")
	cmd.Flags().Bool("force", false, "Close despite uncompleted criteria")
	return cmd
}

// newTaskReopenCmd creates the task-reopen command
func newTaskReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-reopen <id>",
		Short: "Reset a task to the initial status",
		Long: `Move an in-progress or closed task back to the initial status,
clearing its closed reason and ending open sessions. Rewinding the
lifecycle always requires --force.`,
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

			force, _ := cmd.Flags().GetBool("force")
			svc := task.NewService(p.DB, p.Cfg)
			t, err := svc.Reopen(cmd.Context(), id, force)
			if err != nil {
				return err
			}
			return emit(t, func() {
				successf("Reopened task %d: now %s", t.ID, t.Status)
			})
		},
	}
	cmd.Flags().Bool("force", false, "Confirm the status rewind")
	return cmd
}

// newTaskSelectCmd creates the task-select command
func newTaskSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-select",
		Short: "Pick the highest-value ready task",
		Long: `Return the top-scored ready task: open, not deferred, not blocked by
an open prerequisite or unresolved external blocker. Exits 1 when the
ready queue is empty.

Example:
  tusk task-select --max-complexity M --exclude 4 --exclude 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			maxComplexity, _ := cmd.Flags().GetString("max-complexity")
			excludeIDs, _ := cmd.Flags().GetInt64Slice("exclude")
			exclude := make(map[int64]bool, len(excludeIDs))
			for _, id := range excludeIDs {
				exclude[id] = true
			}

			svc := task.NewService(p.DB, p.Cfg)
			t, err := svc.Select(maxComplexity, exclude)
			if err != nil {
				return err
			}
			return emit(t, func() {
				successf("#%d %s (priority %s, score %.2f)",
					t.ID, t.Summary, t.Priority, t.PriorityScore)
			})
		},
	}
	cmd.Flags().String("max-complexity", "", "Highest complexity tier to consider")
	cmd.Flags().Int64Slice("exclude", nil, "Task ids to skip (repeatable)")
	return cmd
}
