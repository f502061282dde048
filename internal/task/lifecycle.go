package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// CriterionDraft is one acceptance criterion supplied at insert time.
type CriterionDraft struct {
	Text string `json:"text"`
	Type string `json:"type,omitempty"`
	Spec string `json:"spec,omitempty"`
}

// InsertRequest carries the inputs to task insertion.
type InsertRequest struct {
	Summary     string
	Description string
	Priority    string
	Domain      string
	TaskType    string
	Assignee    string
	Complexity  string
	ExpiresAt   *time.Time
	Criteria    []CriterionDraft
	SkipDupes   bool
}

// InsertResult is the outcome of a successful insertion.
type InsertResult struct {
	Task     *db.Task        `json:"task"`
	Criteria []*db.Criterion `json:"criteria"`
}

// Insert atomically creates a task with its criteria. A duplicate match
// at or above the check threshold aborts the insert and surfaces the
// match; no writes happen in that case.
func (s *Service) Insert(req InsertRequest) (*InsertResult, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return nil, errors.ErrInvalidInput("summary is required", "")
	}
	if len(req.Criteria) == 0 {
		return nil, errors.ErrInvalidInput("at least one acceptance criterion is required",
			"tasks without criteria cannot be started or closed cleanly")
	}
	if err := s.ValidateTaskEnums(req.Priority, req.Domain, req.TaskType,
		req.Assignee, req.Complexity); err != nil {
		return nil, err
	}
	for i := range req.Criteria {
		if req.Criteria[i].Type == "" {
			req.Criteria[i].Type = "manual"
		}
		if err := s.ValidateCriterionType(req.Criteria[i].Type, req.Criteria[i].Spec); err != nil {
			return nil, err
		}
	}

	if !req.SkipDupes {
		match, err := s.FindDuplicate(req.Summary, s.Cfg.Dupes.CheckThreshold, 0)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return nil, errors.ErrDuplicate(match.TaskID, match.Summary, match.Similarity)
		}
	}

	priority := req.Priority
	if priority == "" && len(s.Cfg.Priorities) > 0 {
		// Default to the middle of the configured ladder.
		priority = s.Cfg.Priorities[len(s.Cfg.Priorities)/2]
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = "feature"
	}

	t := &db.Task{
		Summary:       req.Summary,
		Description:   req.Description,
		Status:        s.Cfg.InitialStatus(),
		Priority:      priority,
		TaskType:      taskType,
		PriorityScore: s.Score(priority, req.Complexity),
		IsDeferred:    strings.HasPrefix(req.Summary, "[Deferred]"),
		ExpiresAt:     req.ExpiresAt,
	}
	if req.Domain != "" {
		t.Domain = &req.Domain
	}
	if req.Assignee != "" {
		t.Assignee = &req.Assignee
	}
	if req.Complexity != "" {
		t.Complexity = &req.Complexity
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.DB.InsertTask(tx, t); err != nil {
		return nil, err
	}
	criteria := make([]*db.Criterion, 0, len(req.Criteria))
	for _, draft := range req.Criteria {
		c := &db.Criterion{
			TaskID:        t.ID,
			Criterion:     draft.Text,
			Source:        "original",
			CriterionType: draft.Type,
		}
		if draft.Spec != "" {
			c.VerificationSpec = &draft.Spec
		}
		if _, err := s.DB.InsertCriterion(tx, c); err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := s.RescoreAll(); err != nil {
		return nil, err
	}
	stored, err := s.mustGetTask(t.ID)
	if err != nil {
		return nil, err
	}
	return &InsertResult{Task: stored, Criteria: criteria}, nil
}

// UpdateRequest carries optional field updates; nil means "leave alone".
type UpdateRequest struct {
	Summary     *string
	Description *string
	Priority    *string
	Domain      *string
	TaskType    *string
	Assignee    *string
	Complexity  *string
	ExpiresAt   *time.Time
	GithubPR    *string
}

// Update writes only the specified fields, revalidates enums, and
// rescores WSJF when priority or complexity changed.
func (s *Service) Update(id int64, req UpdateRequest) (*db.Task, error) {
	if _, err := s.mustGetTask(id); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	rescore := false
	if req.Summary != nil {
		if strings.TrimSpace(*req.Summary) == "" {
			return nil, errors.ErrInvalidInput("summary cannot be empty", "")
		}
		fields["summary"] = *req.Summary
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Priority != nil {
		if err := s.validateEnum("priority", *req.Priority, s.Cfg.Priorities); err != nil {
			return nil, err
		}
		fields["priority"] = *req.Priority
		rescore = true
	}
	if req.Domain != nil {
		if err := s.validateEnum("domain", *req.Domain, s.Cfg.Domains); err != nil {
			return nil, err
		}
		fields["domain"] = *req.Domain
	}
	if req.TaskType != nil {
		if err := s.validateEnum("task_type", *req.TaskType, s.Cfg.TaskTypes); err != nil {
			return nil, err
		}
		fields["task_type"] = *req.TaskType
	}
	if req.Assignee != nil {
		if err := s.validateEnum("assignee", *req.Assignee, s.Cfg.AgentNames()); err != nil {
			return nil, err
		}
		fields["assignee"] = *req.Assignee
	}
	if req.Complexity != nil {
		if err := s.validateEnum("complexity", *req.Complexity, s.Cfg.Complexity); err != nil {
			return nil, err
		}
		fields["complexity"] = *req.Complexity
		rescore = true
	}
	if req.ExpiresAt != nil {
		fields["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if req.GithubPR != nil {
		fields["github_pr"] = *req.GithubPR
	}

	if err := s.DB.UpdateTaskFields(id, fields); err != nil {
		return nil, err
	}
	if rescore {
		if err := s.RescoreAll(); err != nil {
			return nil, err
		}
	}
	return s.mustGetTask(id)
}

// CloseResult is the outcome of a task closure.
type CloseResult struct {
	Task           *db.Task   `json:"task"`
	SessionsClosed int        `json:"sessions_closed"`
	NewlyReady     []*db.Task `json:"newly_ready"`
}

// Close moves a task to the terminal status with a reason. Refuses when
// non-deferred criteria remain uncompleted unless forced; forced closures
// leave an audit annotation in the description.
func (s *Service) Close(id int64, reason string, force bool) (*CloseResult, error) {
	t, err := s.mustGetTask(id)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateClosedReason(reason); err != nil {
		return nil, err
	}
	terminal := s.Cfg.TerminalStatus()
	if t.Status == terminal {
		return nil, errors.ErrRefused(fmt.Sprintf("task %d is already closed", id), "")
	}

	uncompleted, err := s.DB.UncompletedCriteria(id)
	if err != nil {
		return nil, err
	}
	if len(uncompleted) > 0 && !force {
		var lines []string
		for _, c := range uncompleted {
			lines = append(lines, fmt.Sprintf("#%d %s", c.ID, c.Criterion))
		}
		return nil, errors.ErrForceRequired(
			fmt.Sprintf("task %d has %d uncompleted criteria", id, len(uncompleted)),
			strings.Join(lines, "; "))
	}

	now := time.Now()
	closed, err := s.DB.CloseOpenSessions(id, now)
	if err != nil {
		return nil, err
	}
	if err := s.DB.UpdateTaskFields(id, map[string]any{
		"status":        terminal,
		"closed_reason": reason,
	}); err != nil {
		if db.IsTriggerViolation(err) {
			return nil, errors.ErrIntegrity("task closure rejected by status guard", err)
		}
		return nil, err
	}
	if len(uncompleted) > 0 && force {
		annotation := fmt.Sprintf("Force-closed %s with %d uncompleted criteria.",
			now.UTC().Format(time.RFC3339), len(uncompleted))
		if err := s.DB.AppendTaskDescription(id, annotation); err != nil {
			return nil, err
		}
	}

	newlyReady, err := s.DB.NewlyReadyDependents(id)
	if err != nil {
		return nil, err
	}
	updated, err := s.mustGetTask(id)
	if err != nil {
		return nil, err
	}
	return &CloseResult{Task: updated, SessionsClosed: closed, NewlyReady: newlyReady}, nil
}

// Reopen moves an In Progress or terminal task back to the initial
// status, clearing closed_reason and closing any open sessions. The
// forward-only status guard is dropped inside a BEGIN IMMEDIATE
// transaction and regenerated afterwards whether or not the transaction
// committed.
func (s *Service) Reopen(ctx context.Context, id int64, force bool) (*db.Task, error) {
	t, err := s.mustGetTask(id)
	if err != nil {
		return nil, err
	}
	initial := s.Cfg.InitialStatus()
	if t.Status == initial {
		return nil, errors.ErrRefused(fmt.Sprintf("task %d is already %s", id, initial), "")
	}
	if t.Status != s.Cfg.TerminalStatus() && (len(s.Cfg.Statuses) < 2 || t.Status != s.Cfg.Statuses[1]) {
		return nil, errors.ErrRefused(
			fmt.Sprintf("task %d is %s; only in-progress or closed tasks reopen", id, t.Status),
			"")
	}
	if !force {
		return nil, errors.ErrForceRequired(
			fmt.Sprintf("reopening task %d rewinds its status to %s", id, initial),
			"reopen moves a task backward through the lifecycle")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	txErr := s.DB.WithImmediate(ctx, func(conn *sql.Conn) error {
		if err := db.DropStatusGuard(ctx, conn); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `UPDATE tasks
			SET status = ?, closed_reason = NULL, updated_at = ?
			WHERE id = ?`, initial, now, id); err != nil {
			return fmt.Errorf("reopen task %d: %w", id, err)
		}
		if _, err := conn.ExecContext(ctx, `UPDATE task_sessions
			SET ended_at = ?,
			    duration_seconds = MAX(0, CAST(strftime('%s', ?) AS INTEGER) - CAST(strftime('%s', started_at) AS INTEGER))
			WHERE task_id = ? AND ended_at IS NULL`, now, now, id); err != nil {
			return fmt.Errorf("close open sessions: %w", err)
		}
		return nil
	})

	// The guard must come back even when the transaction rolled back;
	// a failure here is surfaced loudly, not swallowed.
	db.WarnTriggerRegenFailure(s.DB.RegenerateTriggers())

	if txErr != nil {
		return nil, txErr
	}
	return s.mustGetTask(id)
}

// StartResult is the outcome of task-start.
type StartResult struct {
	Task      *db.Task        `json:"task"`
	SessionID int64           `json:"session_id"`
	Resumed   bool            `json:"resumed"`
	Progress  []*db.Progress  `json:"progress"`
	Criteria  []*db.Criterion `json:"criteria"`
}

// Start begins or resumes a work session on a task, moving it to the
// in-progress status. Requires at least one non-deferred criterion
// unless forced, and refuses while unresolved external blockers exist.
func (s *Service) Start(id int64, agentName string, force bool) (*StartResult, error) {
	t, err := s.mustGetTask(id)
	if err != nil {
		return nil, err
	}
	terminal := s.Cfg.TerminalStatus()
	if t.Status == terminal {
		return nil, errors.ErrRefused(fmt.Sprintf("task %d is closed", id),
			"reopen it before starting new work")
	}

	blockers, err := s.DB.ListBlockers(id, true)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		var lines []string
		for _, b := range blockers {
			lines = append(lines, fmt.Sprintf("#%d %s", b.ID, b.Description))
		}
		return nil, errors.ErrRefused(
			fmt.Sprintf("task %d has %d unresolved external blockers", id, len(blockers)),
			strings.Join(lines, "; "))
	}

	criteria, err := s.DB.ListCriteria(id)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, c := range criteria {
		if !c.IsDeferred {
			active++
		}
	}
	if active == 0 && !force {
		return nil, errors.ErrForceRequired(
			fmt.Sprintf("task %d has no non-deferred acceptance criteria", id),
			"add criteria first so done-ness is checkable")
	}

	inProgress := t.Status
	if t.Status == s.Cfg.InitialStatus() && len(s.Cfg.Statuses) > 1 {
		inProgress = s.Cfg.Statuses[1]
		if err := s.DB.UpdateTaskFields(id, map[string]any{"status": inProgress}); err != nil {
			return nil, err
		}
	}

	result := &StartResult{Criteria: criteria}

	session, err := s.DB.OpenSession(id)
	if err != nil {
		return nil, err
	}
	if session != nil {
		result.SessionID = session.ID
		result.Resumed = true
	} else {
		sid, err := s.DB.InsertSession(id, time.Now(), agentName)
		if err != nil {
			if db.IsUniqueViolation(err) {
				// Another invocation opened a session first; reuse it.
				winner, werr := s.DB.OpenSession(id)
				if werr != nil {
					return nil, werr
				}
				if winner == nil {
					return nil, errors.ErrIntegrity("open session vanished after unique violation", err)
				}
				result.SessionID = winner.ID
				result.Resumed = true
			} else {
				return nil, err
			}
		} else {
			result.SessionID = sid
		}
	}

	result.Progress, err = s.DB.ListProgress(id)
	if err != nil {
		return nil, err
	}
	result.Task, err = s.mustGetTask(id)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Select returns the highest-scored ready task, optionally bounded by a
// maximum complexity tier and an exclusion set. Returns the
// no-ready-tasks outcome when the queue is empty.
func (s *Service) Select(maxComplexity string, exclude map[int64]bool) (*db.Task, error) {
	if maxComplexity != "" {
		if err := s.validateEnum("complexity", maxComplexity, s.Cfg.Complexity); err != nil {
			return nil, err
		}
	}
	ready, err := s.DB.ReadyTasks()
	if err != nil {
		return nil, err
	}

	maxTier := len(s.Cfg.Complexity)
	if maxComplexity != "" {
		for i, c := range s.Cfg.Complexity {
			if c == maxComplexity {
				maxTier = i
				break
			}
		}
	}

	for _, t := range ready {
		if exclude[t.ID] {
			continue
		}
		if maxComplexity != "" && t.Complexity != nil {
			tier := maxTier
			for i, c := range s.Cfg.Complexity {
				if c == *t.Complexity {
					tier = i
					break
				}
			}
			if tier > maxTier {
				continue
			}
		}
		return t, nil
	}
	return nil, errors.ErrNoReadyTasks()
}
