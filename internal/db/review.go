package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Review statuses.
const (
	ReviewPending          = "pending"
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
)

// Comment resolutions.
const (
	ResolutionPending   = "pending"
	ResolutionFixed     = "fixed"
	ResolutionDeferred  = "deferred"
	ResolutionDismissed = "dismissed"
)

// Review represents a code-review row.
type Review struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	Reviewer    *string   `json:"reviewer,omitempty"`
	Status      string    `json:"status"`
	ReviewPass  int64     `json:"review_pass"`
	DiffSummary string    `json:"diff_summary"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReviewComment represents a finding within a review.
type ReviewComment struct {
	ID         int64     `json:"id"`
	ReviewID   int64     `json:"review_id"`
	FilePath   string    `json:"file_path"`
	LineStart  *int64    `json:"line_start,omitempty"`
	LineEnd    *int64    `json:"line_end,omitempty"`
	Category   string    `json:"category"`
	Severity   string    `json:"severity"`
	Comment    string    `json:"comment"`
	Resolution string    `json:"resolution"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const reviewColumns = `id, task_id, reviewer, status, review_pass, diff_summary, created_at, updated_at`

func scanReview(r rowScanner) (*Review, error) {
	var rv Review
	var reviewer sql.NullString
	var createdAt, updatedAt string
	if err := r.Scan(&rv.ID, &rv.TaskID, &reviewer, &rv.Status, &rv.ReviewPass,
		&rv.DiffSummary, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rv.Reviewer = nullStr(reviewer)
	rv.CreatedAt = parseTime(createdAt)
	rv.UpdatedAt = parseTime(updatedAt)
	return &rv, nil
}

// InsertReview creates a review row.
func (d *DB) InsertReview(taskID int64, reviewer string, pass int64, diffSummary string) (int64, error) {
	var rev *string
	if reviewer != "" {
		rev = &reviewer
	}
	now := fmtTime(time.Now())
	res, err := d.Exec(`INSERT INTO code_reviews
		(task_id, reviewer, review_pass, diff_summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, rev, pass, diffSummary, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert review: %w", err)
	}
	return res.LastInsertId()
}

// GetReview loads one review by id.
func (d *DB) GetReview(id int64) (*Review, error) {
	row := d.QueryRow("SELECT "+reviewColumns+" FROM code_reviews WHERE id = ?", id)
	rv, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}
	return rv, nil
}

// ListReviews returns the reviews for a task, oldest first.
func (d *DB) ListReviews(taskID int64) ([]*Review, error) {
	rows, err := d.Query("SELECT "+reviewColumns+` FROM code_reviews
		WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// MaxReviewPass returns the highest review_pass recorded for a task.
func (d *DB) MaxReviewPass(taskID int64) (int64, error) {
	var pass sql.NullInt64
	if err := d.QueryRow(`SELECT MAX(review_pass) FROM code_reviews WHERE task_id = ?`,
		taskID).Scan(&pass); err != nil {
		return 0, fmt.Errorf("max review pass: %w", err)
	}
	return pass.Int64, nil
}

// SetReviewStatus sets approve / request-changes and the pass number.
func (d *DB) SetReviewStatus(id int64, status string, pass int64) error {
	res, err := d.Exec(`UPDATE code_reviews
		SET status = ?, review_pass = ?, updated_at = ? WHERE id = ?`,
		status, pass, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const commentColumns = `id, review_id, file_path, line_start, line_end,
	category, severity, comment, resolution, created_at, updated_at`

func scanReviewComment(r rowScanner) (*ReviewComment, error) {
	var c ReviewComment
	var lineStart, lineEnd sql.NullInt64
	var createdAt, updatedAt string
	if err := r.Scan(&c.ID, &c.ReviewID, &c.FilePath, &lineStart, &lineEnd,
		&c.Category, &c.Severity, &c.Comment, &c.Resolution, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if lineStart.Valid {
		v := lineStart.Int64
		c.LineStart = &v
	}
	if lineEnd.Valid {
		v := lineEnd.Int64
		c.LineEnd = &v
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// InsertReviewComment records a finding.
func (d *DB) InsertReviewComment(c *ReviewComment) (int64, error) {
	now := fmtTime(time.Now())
	res, err := d.Exec(`INSERT INTO review_comments
		(review_id, file_path, line_start, line_end, category, severity,
		 comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ReviewID, c.FilePath, c.LineStart, c.LineEnd, c.Category, c.Severity,
		c.Comment, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert review comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// GetReviewComment loads one finding by id.
func (d *DB) GetReviewComment(id int64) (*ReviewComment, error) {
	row := d.QueryRow("SELECT "+commentColumns+" FROM review_comments WHERE id = ?", id)
	c, err := scanReviewComment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get review comment %d: %w", id, err)
	}
	return c, nil
}

// ListReviewComments returns findings for a task across all its reviews,
// grouped by category then severity.
func (d *DB) ListReviewComments(taskID int64) ([]*ReviewComment, error) {
	rows, err := d.Query("SELECT "+commentColumns+` FROM review_comments
		WHERE review_id IN (SELECT id FROM code_reviews WHERE task_id = ?)
		ORDER BY category, severity, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list review comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ReviewComment
	for rows.Next() {
		c, err := scanReviewComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveReviewComment sets a finding's resolution.
func (d *DB) ResolveReviewComment(id int64, resolution string) error {
	res, err := d.Exec(`UPDATE review_comments
		SET resolution = ?, updated_at = ? WHERE id = ?`,
		resolution, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("resolve review comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
