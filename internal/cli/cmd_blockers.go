package cli

import (
	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/task"
)

// newBlockersCmd creates the blockers command group
func newBlockersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockers",
		Short: "Manage external blockers",
	}
	cmd.AddCommand(newBlockersAddCmd())
	cmd.AddCommand(newBlockersListCmd())
	cmd.AddCommand(newBlockersResolveCmd())
	cmd.AddCommand(newBlockersRemoveCmd())
	cmd.AddCommand(newBlockersBlockedCmd())
	cmd.AddCommand(newBlockersAllCmd())
	return cmd
}

func newBlockersAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <task-id> <description>",
		Short: "Record an external blocker on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			btype, _ := cmd.Flags().GetString("type")
			svc := task.NewService(p.DB, p.Cfg)
			b, err := svc.AddBlocker(taskID, btype, args[1])
			if err != nil {
				return err
			}
			return emit(b, func() {
				successf("Recorded blocker %d on task %d", b.ID, taskID)
			})
		},
	}
	cmd.Flags().String("type", "", "Blocker type")
	return cmd
}

func newBlockersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			unresolvedOnly, _ := cmd.Flags().GetBool("unresolved")
			blockers, err := p.DB.ListBlockers(taskID, unresolvedOnly)
			if err != nil {
				return err
			}
			return emit(blockers, func() {
				for _, b := range blockers {
					state := "open"
					if b.IsResolved {
						state = "resolved"
					}
					infof("blocker %d (%s): %s", b.ID, state, b.Description)
				}
			})
		},
	}
	cmd.Flags().Bool("unresolved", false, "Only unresolved blockers")
	return cmd
}

func newBlockersResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <blocker-id>",
		Short: "Mark a blocker resolved",
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

			svc := task.NewService(p.DB, p.Cfg)
			b, err := svc.ResolveBlocker(id)
			if err != nil {
				return err
			}
			return emit(b, func() {
				successf("Resolved blocker %d", b.ID)
			})
		},
	}
}

func newBlockersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <blocker-id>",
		Short: "Delete a blocker record",
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

			svc := task.NewService(p.DB, p.Cfg)
			if err := svc.RemoveBlocker(id); err != nil {
				return err
			}
			return emit(map[string]any{"removed": true}, func() {
				successf("Removed blocker %d", id)
			})
		},
	}
}

func newBlockersBlockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List open tasks stuck behind unresolved blockers",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			tasks, err := p.DB.BlockedTasks()
			if err != nil {
				return err
			}
			return emit(tasks, func() {
				for _, t := range tasks {
					infof("#%d %s [%s]", t.ID, t.Summary, t.Status)
				}
			})
		},
	}
}

func newBlockersAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "List every blocker in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			unresolvedOnly, _ := cmd.Flags().GetBool("unresolved")
			blockers, err := p.DB.ListBlockers(0, unresolvedOnly)
			if err != nil {
				return err
			}
			return emit(blockers, func() {
				for _, b := range blockers {
					state := "open"
					if b.IsResolved {
						state = "resolved"
					}
					infof("blocker %d task %d (%s): %s", b.ID, b.TaskID, state, b.Description)
				}
			})
		},
	}
	cmd.Flags().Bool("unresolved", false, "Only unresolved blockers")
	return cmd
}
