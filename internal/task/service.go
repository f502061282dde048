// Package task implements the task engine: enum-validated CRUD, the
// WSJF-ranked ready queue, the dependency graph, and the lifecycle state
// machine.
package task

import (
	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// Service wires the task engine to the store and configuration.
type Service struct {
	DB  *db.DB
	Cfg *config.Config
}

// NewService returns a task engine over the given store and config.
func NewService(d *db.DB, cfg *config.Config) *Service {
	return &Service{DB: d, Cfg: cfg}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// validateEnum checks a value against a configured list. Empty values
// pass; enum fields are all optional at this layer.
func (s *Service) validateEnum(field, value string, valid []string) error {
	if value == "" || len(valid) == 0 {
		return nil
	}
	if !contains(valid, value) {
		return errors.ErrInvalidEnum(field, value, valid)
	}
	return nil
}

// ValidateTaskEnums checks every enum-typed field on a task draft.
func (s *Service) ValidateTaskEnums(priority, domain, taskType, assignee, complexity string) error {
	if err := s.validateEnum("priority", priority, s.Cfg.Priorities); err != nil {
		return err
	}
	if err := s.validateEnum("domain", domain, s.Cfg.Domains); err != nil {
		return err
	}
	if err := s.validateEnum("task_type", taskType, s.Cfg.TaskTypes); err != nil {
		return err
	}
	if err := s.validateEnum("assignee", assignee, s.Cfg.AgentNames()); err != nil {
		return err
	}
	if err := s.validateEnum("complexity", complexity, s.Cfg.Complexity); err != nil {
		return err
	}
	return nil
}

// ValidateCriterionType checks a criterion type and its verification
// spec requirement: code, test, and file criteria need a non-empty spec.
func (s *Service) ValidateCriterionType(criterionType, spec string) error {
	if err := s.validateEnum("criterion_type", criterionType, s.Cfg.CriterionTypes); err != nil {
		return err
	}
	switch criterionType {
	case "code", "test", "file":
		if spec == "" {
			return errors.ErrInvalidInput(
				"criterion type "+criterionType+" requires a verification spec",
				"pass the spec alongside the criterion text")
		}
	}
	return nil
}

// ValidateClosedReason checks a closure reason.
func (s *Service) ValidateClosedReason(reason string) error {
	if reason == "" {
		return errors.ErrInvalidInput("closed_reason is required", "")
	}
	return s.validateEnum("closed_reason", reason, s.Cfg.ClosedReasons)
}

// mustGetTask loads a task or returns a not-found error.
func (s *Service) mustGetTask(id int64) (*db.Task, error) {
	t, err := s.DB.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.ErrTaskNotFound(id)
	}
	return t, nil
}
