package cli

import (
	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/task"
)

// newReviewCmd creates the review command group
func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage code reviews",
	}
	cmd.AddCommand(newReviewStartCmd())
	cmd.AddCommand(newReviewAddCommentCmd())
	cmd.AddCommand(newReviewListCmd())
	cmd.AddCommand(newReviewResolveCmd())
	cmd.AddCommand(newReviewApproveCmd())
	cmd.AddCommand(newReviewRequestChangesCmd())
	cmd.AddCommand(newReviewStatusCmd())
	cmd.AddCommand(newReviewSummaryCmd())
	return cmd
}

func newReviewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Open the next review pass for a task",
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

			reviewer, _ := cmd.Flags().GetString("reviewer")
			diffSummary, _ := cmd.Flags().GetString("diff-summary")
			svc := task.NewService(p.DB, p.Cfg)
			r, err := svc.StartReview(taskID, reviewer, diffSummary)
			if err != nil {
				return err
			}
			return emit(r, func() {
				successf("Started review %d (pass %d) on task %d", r.ID, r.ReviewPass, taskID)
			})
		},
	}
	cmd.Flags().String("reviewer", "", "Reviewer name")
	cmd.Flags().String("diff-summary", "", "What the pass covers")
	return cmd
}

func newReviewAddCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-comment <review-id> <comment>",
		Short: "Attach a finding to a review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewID, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			category, _ := cmd.Flags().GetString("category")
			severity, _ := cmd.Flags().GetString("severity")
			file, _ := cmd.Flags().GetString("file")
			line, _ := cmd.Flags().GetInt("line")
			svc := task.NewService(p.DB, p.Cfg)
			c, err := svc.AddReviewComment(reviewID, category, severity, file, line, args[1])
			if err != nil {
				return err
			}
			return emit(c, func() {
				successf("Added comment %d to review %d", c.ID, reviewID)
			})
		},
	}
	cmd.Flags().String("category", "", "Finding category")
	cmd.Flags().String("severity", "", "Finding severity")
	cmd.Flags().String("file", "", "File the finding points at")
	cmd.Flags().Int("line", 0, "Line the finding points at")
	return cmd
}

func newReviewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's reviews and findings",
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

			reviews, err := p.DB.ListReviews(taskID)
			if err != nil {
				return err
			}
			comments, err := p.DB.ListReviewComments(taskID)
			if err != nil {
				return err
			}
			return emit(map[string]any{"reviews": reviews, "comments": comments}, func() {
				for _, r := range reviews {
					infof("review %d pass %d [%s]", r.ID, r.ReviewPass, r.Status)
				}
				for _, c := range comments {
					infof("  comment %d [%s/%s] %s: %s",
						c.ID, c.Category, c.Severity, c.Resolution, c.Comment)
				}
			})
		},
	}
}

func newReviewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <comment-id>",
		Short: "Record how a finding was handled",
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

			resolution, _ := cmd.Flags().GetString("as")
			svc := task.NewService(p.DB, p.Cfg)
			c, err := svc.ResolveReviewComment(id, resolution)
			if err != nil {
				return err
			}
			return emit(c, func() {
				successf("Comment %d resolved as %s", c.ID, c.Resolution)
			})
		},
	}
	cmd.Flags().String("as", "fixed", "Resolution (fixed, deferred, dismissed)")
	return cmd
}

func newReviewApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <review-id>",
		Short: "Approve a review pass",
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
			r, err := svc.ApproveReview(id)
			if err != nil {
				return err
			}
			return emit(r, func() {
				successf("Approved review %d (pass %d)", r.ID, r.ReviewPass)
			})
		},
	}
}

func newReviewRequestChangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-changes <review-id>",
		Short: "Close a review pass asking for changes",
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
			r, err := svc.RequestChanges(id)
			if err != nil {
				return err
			}
			return emit(r, func() {
				successf("Review %d closed: changes requested", r.ID)
			})
		},
	}
}

func newReviewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <review-id>",
		Short: "Show one review's state",
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

			r, err := p.DB.GetReview(id)
			if err != nil {
				return err
			}
			if r == nil {
				return errors.ErrNotFound("review", id)
			}
			return emit(r, func() {
				infof("review %d on task %d: %s (pass %d)", r.ID, r.TaskID, r.Status, r.ReviewPass)
			})
		},
	}
}

func newReviewSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <task-id>",
		Short: "Roll up a task's review history",
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

			svc := task.NewService(p.DB, p.Cfg)
			sum, err := svc.SummarizeReviews(taskID)
			if err != nil {
				return err
			}
			return emit(sum, func() {
				infof("task %d: %d passes, %d pending / %d fixed / %d deferred findings, approved=%v",
					taskID, len(sum.Reviews), sum.Pending, sum.Fixed, sum.Deferred, sum.Approved)
			})
		},
	}
}
