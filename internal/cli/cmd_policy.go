package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/policy"
	"github.com/tuskdev/tusk/internal/task"
)

// newAutocloseCmd creates the autoclose command
func newAutocloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autoclose",
		Short: "Close expired deferred tasks and moot contingent work",
		Long: `Run the unattended closure sweep: deferred backlog tasks past their
expiry close as expired, and tasks contingent on a prerequisite that
closed without completing close as wont_do. Cascades until stable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			sweeper := policy.NewSweeper(p.DB, p.Cfg)
			result, err := sweeper.Autoclose(time.Now())
			if err != nil {
				return err
			}
			return emit(result, func() {
				if len(result.Expired) == 0 && len(result.Moot) == 0 {
					infof("Nothing to close")
					return
				}
				for _, c := range result.Expired {
					successf("Closed #%d as expired: %s", c.Task.ID, c.Task.Summary)
				}
				for _, c := range result.Moot {
					successf("Closed #%d as wont_do (moot): %s", c.Task.ID, c.Task.Summary)
				}
			})
		},
	}
}

// newBacklogScanCmd creates the backlog-scan command
func newBacklogScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog-scan",
		Short: "Scan the backlog for hygiene problems",
		Long: `Report duplicate summary pairs, unassigned and unsized backlog
tasks, deferred tasks close to expiry, and blocked tasks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			sweeper := policy.NewSweeper(p.DB, p.Cfg)
			report, err := sweeper.Scan(time.Now())
			if err != nil {
				return err
			}
			return emit(report, func() {
				if report.Clean() {
					successf("Backlog is clean")
					return
				}
				for _, pair := range report.Duplicates {
					warnf("possible duplicates: #%d %q and #%d %q (%.0f%%)",
						pair.TaskA, pair.SummaryA, pair.TaskB, pair.SummaryB, pair.Similarity*100)
				}
				for _, t := range report.Unassigned {
					infof("unassigned: #%d %s", t.ID, t.Summary)
				}
				for _, t := range report.Unsized {
					infof("unsized: #%d %s", t.ID, t.Summary)
				}
				for _, t := range report.Expiring {
					warnf("expiring soon: #%d %s", t.ID, t.Summary)
				}
				for _, t := range report.Blocked {
					infof("blocked: #%d %s", t.ID, t.Summary)
				}
			})
		},
	}
}

// newDupesCmd creates the dupes command group
func newDupesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dupes",
		Short: "Fuzzy duplicate detection",
	}

	check := &cobra.Command{
		Use:   "check <summary>",
		Short: "Check a candidate summary against open tasks",
		Long: `Check whether a summary would be rejected as a duplicate at the
insert threshold. Exits 1 with the match when one exists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			match, err := svc.FindDuplicate(args[0], p.Cfg.Dupes.CheckThreshold, 0)
			if err != nil {
				return err
			}
			if match != nil {
				return errors.ErrDuplicate(match.TaskID, match.Summary, match.Similarity)
			}
			return emit(map[string]any{"duplicate": false}, func() {
				successf("No duplicate at %.2f", p.Cfg.Dupes.CheckThreshold)
			})
		},
	}

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Find duplicate pairs across the open backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			pairs, err := svc.ScanDuplicatePairs(p.Cfg.Dupes.SimilarThreshold)
			if err != nil {
				return err
			}
			return emit(pairs, func() {
				for _, pair := range pairs {
					infof("#%d %q ~ #%d %q (%.0f%%)",
						pair.TaskA, pair.SummaryA, pair.TaskB, pair.SummaryB, pair.Similarity*100)
				}
			})
		},
	}

	similar := &cobra.Command{
		Use:   "similar <summary>",
		Short: "List open tasks similar to a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			svc := task.NewService(p.DB, p.Cfg)
			matches, err := svc.SimilarTasks(args[0], p.Cfg.Dupes.SimilarThreshold)
			if err != nil {
				return err
			}
			return emit(matches, func() {
				for _, m := range matches {
					infof("#%d %q (%.0f%%)", m.TaskID, m.Summary, m.Similarity*100)
				}
			})
		},
	}

	cmd.AddCommand(check, scan, similar)
	return cmd
}
