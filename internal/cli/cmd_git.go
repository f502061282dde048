package cli

import (
	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/finalize"
	"github.com/tuskdev/tusk/internal/git"
	"github.com/tuskdev/tusk/internal/task"
)

// newProgressCmd creates the progress command
func newProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Append a commit checkpoint from the current VCS head",
		Long: `Record the repository's HEAD commit as a progress checkpoint on a
task, with optional next steps for whoever picks the work up.`,
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
			message, err := repo.HeadMessage()
			if err != nil {
				return err
			}
			var filesChanged int64
			if diff, err := repo.DiffAgainst("HEAD~1"); err == nil {
				filesChanged = diff.FilesChanged
			}

			nextSteps, _ := cmd.Flags().GetString("next")
			svc := task.NewService(p.DB, p.Cfg)
			checkpoint, err := svc.AddProgress(taskID, head, message, filesChanged, nextSteps)
			if err != nil {
				return err
			}
			return emit(checkpoint, func() {
				successf("Checkpoint %d on task %d: %.12s %s",
					checkpoint.ID, taskID, head, message)
			})
		},
	}
	cmd.Flags().String("next", "", "Next steps note")
	return cmd
}

// newBranchCmd creates the branch command
func newBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch <task-id>",
		Short: "Create and check out the task's feature branch",
		Long: `Create feature/TASK-<id>-<slug> from the current HEAD and check it
out. The slug comes from the task summary. Reuses the branch when it
already exists.`,
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

			t, err := p.DB.GetTask(taskID)
			if err != nil {
				return err
			}
			if t == nil {
				return errors.ErrTaskNotFound(taskID)
			}

			repo := git.New(p.Paths.Root, nil)
			existing, err := repo.TaskBranches(taskID)
			if err != nil {
				return err
			}
			var branch string
			switch len(existing) {
			case 0:
				branch = git.TaskBranchName(taskID, t.Summary)
				if err := repo.CreateBranch(branch); err != nil {
					return err
				}
			case 1:
				branch = existing[0]
				if err := repo.Checkout(branch); err != nil {
					return err
				}
			default:
				return errors.ErrRefused("multiple branches exist for this task",
					"delete the extras before branching again")
			}
			return emit(map[string]any{"branch": branch}, func() {
				successf("On branch %s", branch)
			})
		},
	}
}

// newMergeCmd creates the merge command
func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <task-id>",
		Short: "Merge the task branch per the configured merge mode",
		Long: `Merge the task's feature branch: a fast-forward into the target
branch in local mode, or a squash-merge through the forge CLI in pr
mode. The branch is deleted after a successful merge.`,
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
			branches, err := repo.TaskBranches(taskID)
			if err != nil {
				return err
			}
			if len(branches) != 1 {
				return errors.ErrRefused("expected exactly one task branch",
					"create one with 'tusk branch', or delete the extras")
			}
			branch := branches[0]

			if p.Cfg.Merge.Mode == "pr" {
				err = repo.MergePR(branch)
			} else {
				err = repo.MergeFF(p.Cfg.Merge.TargetBranch, branch)
			}
			if err != nil {
				return err
			}
			return emit(map[string]any{
				"branch": branch,
				"mode":   p.Cfg.Merge.Mode,
				"merged": true,
			}, func() {
				successf("Merged %s (%s)", branch, p.Cfg.Merge.Mode)
			})
		},
	}
}

// newFinalizeCmd creates the finalize command
func newFinalizeCmd() *cobra.Command {
	var sessionID int64
	cmd := &cobra.Command{
		Use:   "finalize <task-id>",
		Short: "Close the session, attribute cost, merge, and close the task",
		Long: `Run the whole end-of-task workflow: close the work session,
attribute its transcript spend, record diff stats, merge the task
branch, and close the task. The session is auto-detected unless
--session names one. A post-merge failure prints the recovery
commands to finish by hand.`,
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

			engine, engineErr := costEngine(p)
			if engineErr != nil {
				engine = nil
			}
			repo := git.New(p.Paths.Root, nil)
			f := finalize.New(p.DB, p.Cfg, repo, engine)
			result, err := f.Run(taskID, sessionID)
			if err != nil {
				return err
			}
			return emit(result, func() {
				successf("Finalized task %d: merged %s, closed as completed",
					result.Task.ID, result.Branch)
				if result.Tally != nil {
					infof("  spend $%.4f across %d requests", result.Tally.Cost, result.Tally.Requests)
				}
				for _, w := range result.Warnings {
					warnf("  warning: %s", w)
				}
			})
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "finalize this session instead of auto-detecting")
	return cmd
}
