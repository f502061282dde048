package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// AddCriterion appends a criterion to an existing task. Source defaults
// to subsumption for post-insert additions unless the caller names one.
func (s *Service) AddCriterion(taskID int64, text, source, criterionType, spec string) (*db.Criterion, error) {
	if _, err := s.mustGetTask(taskID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.ErrInvalidInput("criterion text is required", "")
	}
	if source == "" {
		source = "subsumption"
	}
	if err := s.validateEnum("source", source,
		[]string{"original", "subsumption", "pr_review"}); err != nil {
		return nil, err
	}
	if criterionType == "" {
		criterionType = "manual"
	}
	if err := s.ValidateCriterionType(criterionType, spec); err != nil {
		return nil, err
	}

	c := &db.Criterion{
		TaskID:        taskID,
		Criterion:     text,
		Source:        source,
		CriterionType: criterionType,
		IsDeferred:    strings.HasPrefix(text, "[Deferred]"),
	}
	if spec != "" {
		c.VerificationSpec = &spec
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := s.DB.InsertCriterion(tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// mustGetCriterion loads a criterion or returns a not-found error.
func (s *Service) mustGetCriterion(id int64) (*db.Criterion, error) {
	c, err := s.DB.GetCriterion(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.ErrNotFound("criterion", id)
	}
	return c, nil
}

// CompleteCriterion marks a criterion done, optionally recording the
// commit that satisfied it. Completing an already-complete criterion
// without a new commit hash is a no-op.
func (s *Service) CompleteCriterion(id int64, commitHash string, committedAt *time.Time) (*db.Criterion, error) {
	c, err := s.mustGetCriterion(id)
	if err != nil {
		return nil, err
	}
	if c.CompletedAt != nil && commitHash == "" {
		return c, nil
	}
	if err := s.DB.CompleteCriterion(id, time.Now(), commitHash, committedAt); err != nil {
		return nil, err
	}
	return s.mustGetCriterion(id)
}

// ResetCriterion reverts a criterion to incomplete, clearing its
// completion record and any attributed cost.
func (s *Service) ResetCriterion(id int64) (*db.Criterion, error) {
	if _, err := s.mustGetCriterion(id); err != nil {
		return nil, err
	}
	if err := s.DB.ResetCriterion(id); err != nil {
		return nil, err
	}
	return s.mustGetCriterion(id)
}

// RecordCommit stamps a commit hash onto completed-but-unstamped
// criteria of a task. Criteria completed since the previous stamped
// commit form the commit group.
func (s *Service) RecordCommit(taskID int64, commitHash string, committedAt time.Time) ([]*db.Criterion, error) {
	if _, err := s.mustGetTask(taskID); err != nil {
		return nil, err
	}
	if commitHash == "" {
		return nil, errors.ErrInvalidInput("commit hash is required", "")
	}
	all, err := s.DB.ListCriteria(taskID)
	if err != nil {
		return nil, err
	}
	var stamped []*db.Criterion
	for _, c := range all {
		if c.CompletedAt == nil || c.CommitHash != nil {
			continue
		}
		if err := s.DB.CompleteCriterion(c.ID, *c.CompletedAt, commitHash, &committedAt); err != nil {
			return nil, err
		}
		fresh, err := s.mustGetCriterion(c.ID)
		if err != nil {
			return nil, err
		}
		stamped = append(stamped, fresh)
	}
	if len(stamped) == 0 {
		return nil, errors.ErrRefused(
			fmt.Sprintf("task %d has no completed criteria awaiting a commit", taskID),
			"complete criteria first, then record the commit")
	}
	return stamped, nil
}
