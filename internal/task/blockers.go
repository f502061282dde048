package task

import (
	"strings"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// AddBlocker records an external blocker on a task.
func (s *Service) AddBlocker(taskID int64, blockerType, description string) (*db.Blocker, error) {
	if _, err := s.mustGetTask(taskID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		return nil, errors.ErrInvalidInput("blocker description is required", "")
	}
	if err := s.validateEnum("blocker_type", blockerType, s.Cfg.BlockerTypes); err != nil {
		return nil, err
	}
	b := &db.Blocker{TaskID: taskID, Description: description}
	if blockerType != "" {
		b.BlockerType = &blockerType
	}
	if _, err := s.DB.InsertBlocker(b); err != nil {
		return nil, err
	}
	return s.DB.GetBlocker(b.ID)
}

// ResolveBlocker marks a blocker resolved.
func (s *Service) ResolveBlocker(id int64) (*db.Blocker, error) {
	b, err := s.DB.GetBlocker(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.ErrNotFound("blocker", id)
	}
	if b.IsResolved {
		return nil, errors.ErrRefused("blocker is already resolved", "")
	}
	if err := s.DB.ResolveBlocker(id); err != nil {
		return nil, err
	}
	return s.DB.GetBlocker(id)
}

// RemoveBlocker deletes a blocker record outright.
func (s *Service) RemoveBlocker(id int64) error {
	b, err := s.DB.GetBlocker(id)
	if err != nil {
		return err
	}
	if b == nil {
		return errors.ErrNotFound("blocker", id)
	}
	return s.DB.DeleteBlocker(id)
}

// AddProgress appends a commit checkpoint to a task's progress log.
func (s *Service) AddProgress(taskID int64, commitHash, commitMessage string, filesChanged int64, nextSteps string) (*db.Progress, error) {
	if _, err := s.mustGetTask(taskID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(commitMessage) == "" {
		return nil, errors.ErrInvalidInput("commit message is required", "")
	}
	p := &db.Progress{
		TaskID:        taskID,
		CommitHash:    commitHash,
		CommitMessage: commitMessage,
		FilesChanged:  filesChanged,
	}
	if nextSteps != "" {
		p.NextSteps = &nextSteps
	}
	if _, err := s.DB.InsertProgress(p); err != nil {
		return nil, err
	}
	return p, nil
}
