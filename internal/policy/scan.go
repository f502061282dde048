package policy

import (
	"time"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/task"
)

// ScanReport is the backlog hygiene rollup.
type ScanReport struct {
	Duplicates []task.Pair `json:"duplicates,omitempty"`
	Unassigned []*db.Task  `json:"unassigned,omitempty"`
	Unsized    []*db.Task  `json:"unsized,omitempty"`
	Expiring   []*db.Task  `json:"expiring,omitempty"`
	Blocked    []*db.Task  `json:"blocked,omitempty"`
}

// Clean reports whether the scan found nothing to flag.
func (r *ScanReport) Clean() bool {
	return len(r.Duplicates) == 0 && len(r.Unassigned) == 0 &&
		len(r.Unsized) == 0 && len(r.Expiring) == 0 && len(r.Blocked) == 0
}

// Scan runs every backlog check: fuzzy duplicate pairs at the similar
// threshold, open tasks missing an assignee or size, deferred tasks
// within seven days of expiry, and tasks stuck behind unresolved
// external blockers.
func (s *Sweeper) Scan(now time.Time) (*ScanReport, error) {
	report := &ScanReport{}

	pairs, err := s.Tasks.ScanDuplicatePairs(s.Cfg.Dupes.SimilarThreshold)
	if err != nil {
		return nil, err
	}
	report.Duplicates = pairs

	backlog, err := s.DB.ListTasks(s.Cfg.InitialStatus())
	if err != nil {
		return nil, err
	}
	horizon := now.Add(7 * 24 * time.Hour)
	for _, t := range backlog {
		if t.Assignee == nil {
			report.Unassigned = append(report.Unassigned, t)
		}
		if t.Complexity == nil {
			report.Unsized = append(report.Unsized, t)
		}
		if t.IsDeferred && t.ExpiresAt != nil && t.ExpiresAt.Before(horizon) {
			report.Expiring = append(report.Expiring, t)
		}
	}

	blocked, err := s.DB.BlockedTasks()
	if err != nil {
		return nil, err
	}
	report.Blocked = blocked
	return report, nil
}
