package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/cost"
	"github.com/tuskdev/tusk/internal/git"
	"github.com/tuskdev/tusk/internal/task"
)

// newCriteriaCmd creates the criteria command group
func newCriteriaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Manage acceptance criteria",
	}
	cmd.AddCommand(newCriteriaAddCmd())
	cmd.AddCommand(newCriteriaListCmd())
	cmd.AddCommand(newCriteriaDoneCmd())
	cmd.AddCommand(newCriteriaResetCmd())
	return cmd
}

func newCriteriaAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <task-id> <text>",
		Short: "Add a criterion to an existing task",
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

			source, _ := cmd.Flags().GetString("source")
			ctype, _ := cmd.Flags().GetString("type")
			spec, _ := cmd.Flags().GetString("spec")
			svc := task.NewService(p.DB, p.Cfg)
			c, err := svc.AddCriterion(taskID, args[1], source, ctype, spec)
			if err != nil {
				return err
			}
			return emit(c, func() {
				successf("Added criterion %d to task %d", c.ID, taskID)
			})
		},
	}
	cmd.Flags().String("source", "", "Criterion source (original, subsumption, pr_review)")
	cmd.Flags().String("type", "", "Criterion type")
	cmd.Flags().String("spec", "", "Verification spec (required for code, test, file)")
	return cmd
}

func newCriteriaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's criteria",
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

			criteria, err := p.DB.ListCriteria(taskID)
			if err != nil {
				return err
			}
			return emit(criteria, func() {
				for _, c := range criteria {
					mark := " "
					if c.IsCompleted {
						mark = "x"
					}
					line := fmt.Sprintf("[%s] %d %s (%s)", mark, c.ID, c.Criterion, c.CriterionType)
					if c.CostDollars != nil {
						line += fmt.Sprintf(" $%.4f", *c.CostDollars)
					}
					infof("%s", line)
				}
			})
		},
	}
}

func newCriteriaDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <criterion-id>",
		Short: "Mark a criterion complete",
		Long: `Mark a criterion complete, optionally recording the commit that
satisfied it, and attribute its share of transcript spend. Cost capture
is best-effort: a failure there never blocks the completion.`,
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

			commitHash, _ := cmd.Flags().GetString("commit")
			var committedAt *time.Time
			if commitHash != "" {
				now := time.Now()
				committedAt = &now
			}
			svc := task.NewService(p.DB, p.Cfg)
			c, err := svc.CompleteCriterion(id, commitHash, committedAt)
			if err != nil {
				return err
			}

			engine, err := costEngine(p)
			if err == nil {
				if _, err := engine.AttributeCriterion(c.ID); err != nil {
					slog.Warn("criterion cost capture failed", "criterion", c.ID, "err", err)
				} else if fresh, err := p.DB.GetCriterion(c.ID); err == nil && fresh != nil {
					c = fresh
				}
			} else {
				slog.Warn("criterion cost capture skipped", "criterion", c.ID, "err", err)
			}

			return emit(c, func() {
				successf("Completed criterion %d", c.ID)
				if c.CostDollars != nil {
					infof("  attributed $%.4f (%d in / %d out tokens)",
						*c.CostDollars, orZero(c.TokensIn), orZero(c.TokensOut))
				}
			})
		},
	}
	cmd.Flags().String("commit", "", "Commit hash that satisfied the criterion")
	return cmd
}

func newCriteriaResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <criterion-id>",
		Short: "Revert a criterion to incomplete",
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
			c, err := svc.ResetCriterion(id)
			if err != nil {
				return err
			}
			return emit(c, func() {
				successf("Reset criterion %d", c.ID)
			})
		},
	}
}

// newCommitCmd creates the commit command
func newCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <task-id>",
		Short: "Stamp the current VCS head onto completed criteria",
		Long: `Record the repository's HEAD commit on the task's completed-but-
unstamped criteria, forming a commit group for shared cost splitting.`,
		Args: cobra.ExactArgs(1),
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

			repo := git.New(p.Paths.Root, nil)
			head, err := repo.HeadCommit()
			if err != nil {
				return err
			}
			svc := task.NewService(p.DB, p.Cfg)
			stamped, err := svc.RecordCommit(taskID, head, time.Now())
			if err != nil {
				return err
			}
			return emit(map[string]any{"commit": head, "criteria": stamped}, func() {
				successf("Stamped commit %.12s onto %d criteria", head, len(stamped))
			})
		},
	}
}

// costEngine builds a cost engine for a project, resolving the
// transcript directory.
func costEngine(p *project) (*cost.Engine, error) {
	pricing, err := cost.LoadPricing(p.Paths.Pricing)
	if err != nil {
		return nil, err
	}
	dir := p.Cfg.Transcripts.Dir
	if dir == "" {
		dir, err = transcriptDefaultDir(p.Paths.Root)
		if err != nil {
			return nil, err
		}
	}
	return cost.NewEngine(p.DB, pricing, dir), nil
}

func orZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
