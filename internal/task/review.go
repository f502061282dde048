package task

import (
	"fmt"
	"strings"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// StartReview opens the next review pass for a task.
func (s *Service) StartReview(taskID int64, reviewer, diffSummary string) (*db.Review, error) {
	if _, err := s.mustGetTask(taskID); err != nil {
		return nil, err
	}
	if err := s.validateEnum("reviewer", reviewer, s.Cfg.Review.Reviewers); err != nil {
		return nil, err
	}
	last, err := s.DB.MaxReviewPass(taskID)
	if err != nil {
		return nil, err
	}
	id, err := s.DB.InsertReview(taskID, reviewer, last+1, diffSummary)
	if err != nil {
		return nil, err
	}
	return s.DB.GetReview(id)
}

// AddReviewComment attaches a categorized finding to a review.
func (s *Service) AddReviewComment(reviewID int64, category, severity, file string, line int, comment string) (*db.ReviewComment, error) {
	r, err := s.DB.GetReview(reviewID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.ErrNotFound("review", reviewID)
	}
	if strings.TrimSpace(comment) == "" {
		return nil, errors.ErrInvalidInput("review comment text is required", "")
	}
	if err := s.validateEnum("category", category, s.Cfg.ReviewCategories); err != nil {
		return nil, err
	}
	if err := s.validateEnum("severity", severity, s.Cfg.ReviewSeverities); err != nil {
		return nil, err
	}
	c := &db.ReviewComment{
		ReviewID: reviewID,
		FilePath: file,
		Category: category,
		Severity: severity,
		Comment:  comment,
	}
	if line > 0 {
		v := int64(line)
		c.LineStart = &v
	}
	if _, err := s.DB.InsertReviewComment(c); err != nil {
		return nil, err
	}
	return s.DB.GetReviewComment(c.ID)
}

// ResolveReviewComment records how a finding was handled.
func (s *Service) ResolveReviewComment(id int64, resolution string) (*db.ReviewComment, error) {
	c, err := s.DB.GetReviewComment(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.ErrNotFound("review comment", id)
	}
	valid := []string{db.ResolutionFixed, db.ResolutionDeferred, db.ResolutionDismissed}
	if !contains(valid, resolution) {
		return nil, errors.ErrInvalidEnum("resolution", resolution, valid)
	}
	if err := s.DB.ResolveReviewComment(id, resolution); err != nil {
		return nil, err
	}
	return s.DB.GetReviewComment(id)
}

// ApproveReview closes a review as approved. Refuses while findings are
// still pending.
func (s *Service) ApproveReview(reviewID int64) (*db.Review, error) {
	r, err := s.DB.GetReview(reviewID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.ErrNotFound("review", reviewID)
	}
	comments, err := s.DB.ListReviewComments(r.TaskID)
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, c := range comments {
		if c.ReviewID == reviewID && c.Resolution == db.ResolutionPending {
			pending++
		}
	}
	if pending > 0 {
		return nil, errors.ErrRefused(
			fmt.Sprintf("review %d has %d unresolved comments", reviewID, pending),
			"resolve every comment before approving")
	}
	if err := s.DB.SetReviewStatus(reviewID, db.ReviewApproved, r.ReviewPass); err != nil {
		return nil, err
	}
	return s.DB.GetReview(reviewID)
}

// RequestChanges closes a review as changes-requested.
func (s *Service) RequestChanges(reviewID int64) (*db.Review, error) {
	r, err := s.DB.GetReview(reviewID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.ErrNotFound("review", reviewID)
	}
	if err := s.DB.SetReviewStatus(reviewID, db.ReviewChangesRequested, r.ReviewPass); err != nil {
		return nil, err
	}
	return s.DB.GetReview(reviewID)
}

// ReviewSummary rolls up a task's review history.
type ReviewSummary struct {
	Task     *db.Task            `json:"task"`
	Reviews  []*db.Review        `json:"reviews"`
	Comments []*db.ReviewComment `json:"comments"`
	Pending  int                 `json:"pending"`
	Fixed    int                 `json:"fixed"`
	Deferred int                 `json:"deferred"`
	Approved bool                `json:"approved"`
}

// SummarizeReviews builds the per-task review rollup: every pass, every
// comment, and whether the latest pass was approved.
func (s *Service) SummarizeReviews(taskID int64) (*ReviewSummary, error) {
	t, err := s.mustGetTask(taskID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.DB.ListReviews(taskID)
	if err != nil {
		return nil, err
	}
	comments, err := s.DB.ListReviewComments(taskID)
	if err != nil {
		return nil, err
	}
	sum := &ReviewSummary{Task: t, Reviews: reviews, Comments: comments}
	for _, c := range comments {
		switch c.Resolution {
		case db.ResolutionPending:
			sum.Pending++
		case db.ResolutionFixed:
			sum.Fixed++
		case db.ResolutionDeferred:
			sum.Deferred++
		}
	}
	if len(reviews) > 0 {
		latest := reviews[len(reviews)-1]
		sum.Approved = latest.Status == db.ReviewApproved
	}
	return sum, nil
}
