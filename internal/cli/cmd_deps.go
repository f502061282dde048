package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/task"
)

// newDepsCmd creates the deps command group
func newDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Manage task dependencies",
	}
	cmd.AddCommand(newDepsAddCmd())
	cmd.AddCommand(newDepsRemoveCmd())
	cmd.AddCommand(newDepsListCmd())
	return cmd
}

func newDepsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <task-id> <depends-on-id>",
		Short: "Add a dependency edge",
		Long: `Make one task depend on another. A "blocks" edge keeps the dependent
out of the ready queue until the prerequisite closes; a "contingent"
edge additionally auto-closes the dependent if the prerequisite closes
without completing. Edges that would close a cycle are rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			dependsOn, err := parseID(args[1])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			relType, _ := cmd.Flags().GetString("type")
			svc := task.NewService(p.DB, p.Cfg)
			if err := svc.AddDependency(taskID, dependsOn, relType); err != nil {
				return err
			}
			return emit(map[string]any{
				"task_id":           taskID,
				"depends_on_id":     dependsOn,
				"relationship_type": relType,
			}, func() {
				successf("Task %d now %s on task %d", taskID, relType, dependsOn)
			})
		},
	}
	cmd.Flags().String("type", db.RelBlocks, "Relationship type (blocks, contingent)")
	return cmd
}

func newDepsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id> <depends-on-id>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			dependsOn, err := parseID(args[1])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			if err := svc.RemoveDependency(taskID, dependsOn); err != nil {
				return err
			}
			return emit(map[string]any{"removed": true}, func() {
				successf("Removed dependency %d -> %d", taskID, dependsOn)
			})
		},
	}
}

func newDepsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [task-id]",
		Short: "Show dependency rollups",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskID int64
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				taskID = id
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			summaries, err := svc.ListDependencies(taskID)
			if err != nil {
				return err
			}
			return emit(summaries, func() {
				for _, s := range summaries {
					infof("#%d %s: blocked by %d (%d open), %d dependents",
						s.Task.ID, s.Task.Summary, len(s.BlockedBy), s.OpenUpstream, s.DownstreamCnt)
				}
			})
		},
	}
	return cmd
}

// newChainCmd creates the chain command group
func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect downstream dependency chains",
	}
	cmd.AddCommand(newChainScopeCmd())
	cmd.AddCommand(newChainFrontierCmd())
	cmd.AddCommand(newChainStatusCmd())
	return cmd
}

func parseHeads(args []string) ([]int64, error) {
	heads := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		heads = append(heads, id)
	}
	return heads, nil
}

func newChainScopeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scope <head-id>...",
		Short: "List the downstream sub-DAG of one or more heads",
		Long: `Walk the dependents direction from the given head tasks, listing
each reachable task with its minimum depth. Multiple heads must share
at least one common downstream task.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			heads, err := parseHeads(args)
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			scope, err := svc.DownstreamScope(heads)
			if err != nil {
				return err
			}
			return emit(scope, func() {
				for _, e := range scope {
					infof("%s#%d %s [%s]",
						strings.Repeat("  ", e.Depth), e.Task.ID, e.Task.Summary, e.Task.Status)
				}
			})
		},
	}
}

func newChainFrontierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frontier <head-id>...",
		Short: "List the ready tasks inside a chain scope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			heads, err := parseHeads(args)
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			frontier, err := svc.Frontier(heads)
			if err != nil {
				return err
			}
			return emit(frontier, func() {
				for _, t := range frontier {
					infof("#%d %s (score %.2f)", t.ID, t.Summary, t.PriorityScore)
				}
			})
		},
	}
}

func newChainStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <head-id>...",
		Short: "Summarize a chain scope's progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			heads, err := parseHeads(args)
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			st, err := svc.Status(heads)
			if err != nil {
				return err
			}
			return emit(st, func() {
				infof("%d tasks: %d done, %d in progress, %d to do",
					st.Total, st.Done, st.InProgress, st.ToDo)
			})
		},
	}
}
