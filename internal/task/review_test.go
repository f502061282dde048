package task

import (
	"testing"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

func TestReviewPassNumbering(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Reviewed work")

	first, err := s.StartReview(res.Task.ID, "claude", "initial diff")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	if first.ReviewPass != 1 {
		t.Errorf("first pass = %d, want 1", first.ReviewPass)
	}
	if first.Status != db.ReviewPending {
		t.Errorf("status = %q, want pending", first.Status)
	}

	second, err := s.StartReview(res.Task.ID, "claude", "follow-up diff")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	if second.ReviewPass != 2 {
		t.Errorf("second pass = %d, want 2", second.ReviewPass)
	}
}

func TestApproveBlockedByPendingComments(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Review gate")
	r, err := s.StartReview(res.Task.ID, "", "")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	c, err := s.AddReviewComment(r.ID, "correctness", "major", "main.go", 42, "off-by-one in the loop")
	if err != nil {
		t.Fatalf("AddReviewComment failed: %v", err)
	}

	_, err = s.ApproveReview(r.ID)
	if errCode(t, err) != errors.CodeRefused {
		t.Fatalf("approve with pending comments: code = %v, want POLICY_REFUSED", errCode(t, err))
	}

	if _, err := s.ResolveReviewComment(c.ID, "fixed"); err != nil {
		t.Fatalf("ResolveReviewComment failed: %v", err)
	}
	approved, err := s.ApproveReview(r.ID)
	if err != nil {
		t.Fatalf("ApproveReview failed: %v", err)
	}
	if approved.Status != db.ReviewApproved {
		t.Errorf("status = %q, want approved", approved.Status)
	}
}

func TestResolveReviewCommentValidatesResolution(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Resolution enum")
	r, err := s.StartReview(res.Task.ID, "", "")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	c, err := s.AddReviewComment(r.ID, "style", "nit", "", 0, "rename the helper")
	if err != nil {
		t.Fatalf("AddReviewComment failed: %v", err)
	}
	if _, err := s.ResolveReviewComment(c.ID, "maybe"); err == nil {
		t.Fatal("unknown resolution should be rejected")
	}
}

func TestSummarizeReviews(t *testing.T) {
	s := newTestService(t)
	res := insertTask(t, s, "Review rollup")

	r1, err := s.StartReview(res.Task.ID, "", "pass one")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	c1, err := s.AddReviewComment(r1.ID, "testing", "minor", "", 0, "missing edge case")
	if err != nil {
		t.Fatalf("AddReviewComment failed: %v", err)
	}
	if _, err := s.ResolveReviewComment(c1.ID, "fixed"); err != nil {
		t.Fatalf("ResolveReviewComment failed: %v", err)
	}
	if _, err := s.RequestChanges(r1.ID); err != nil {
		t.Fatalf("RequestChanges failed: %v", err)
	}

	r2, err := s.StartReview(res.Task.ID, "", "pass two")
	if err != nil {
		t.Fatalf("StartReview failed: %v", err)
	}
	if _, err := s.ApproveReview(r2.ID); err != nil {
		t.Fatalf("ApproveReview failed: %v", err)
	}

	sum, err := s.SummarizeReviews(res.Task.ID)
	if err != nil {
		t.Fatalf("SummarizeReviews failed: %v", err)
	}
	if len(sum.Reviews) != 2 {
		t.Errorf("reviews = %d, want 2", len(sum.Reviews))
	}
	if sum.Fixed != 1 || sum.Pending != 0 {
		t.Errorf("fixed/pending = %d/%d, want 1/0", sum.Fixed, sum.Pending)
	}
	if !sum.Approved {
		t.Error("latest pass approved, summary should say so")
	}
}
