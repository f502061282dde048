package git

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tuskdev/tusk/internal/errors"
)

// Git runs repository operations rooted at a working directory.
type Git struct {
	runner  Runner
	workDir string
}

// New returns a Git bound to workDir.
func New(workDir string, runner Runner) *Git {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Git{runner: runner, workDir: workDir}
}

func (g *Git) git(args ...string) (string, error) {
	return g.runner.Run(g.workDir, "git", args...)
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.ErrGit("rev-parse", err)
	}
	return out, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.git("status", "--porcelain")
	if err != nil {
		return false, errors.ErrGit("status", err)
	}
	return out == "", nil
}

// HeadCommit returns the full HEAD commit hash.
func (g *Git) HeadCommit() (string, error) {
	out, err := g.git("rev-parse", "HEAD")
	if err != nil {
		return "", errors.ErrGit("rev-parse", err)
	}
	return out, nil
}

// HeadMessage returns the subject line of the HEAD commit.
func (g *Git) HeadMessage() (string, error) {
	out, err := g.git("log", "-1", "--format=%s")
	if err != nil {
		return "", errors.ErrGit("log", err)
	}
	return out, nil
}

// TaskBranchName builds the conventional branch name for a task.
func TaskBranchName(taskID int64, slug string) string {
	slug = sanitizeSlug(slug)
	if slug == "" {
		slug = "work"
	}
	return fmt.Sprintf("feature/TASK-%d-%s", taskID, slug)
}

var taskBranchRe = regexp.MustCompile(`^feature/TASK-(\d+)-`)

// ParseTaskBranch extracts the task id from a conventional branch name,
// or zero when the branch is not task-shaped.
func ParseTaskBranch(branch string) int64 {
	m := taskBranchRe.FindStringSubmatch(branch)
	if m == nil {
		return 0
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = strings.Trim(s[:48], "-")
	}
	return s
}

// TaskBranches lists local branches belonging to a task.
func (g *Git) TaskBranches(taskID int64) ([]string, error) {
	pattern := fmt.Sprintf("feature/TASK-%d-*", taskID)
	out, err := g.git("branch", "--list", pattern, "--format=%(refname:short)")
	if err != nil {
		return nil, errors.ErrGit("branch --list", err)
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// CreateBranch creates and checks out a branch.
func (g *Git) CreateBranch(name string) error {
	if _, err := g.git("checkout", "-b", name); err != nil {
		return errors.ErrGit("checkout -b", err)
	}
	return nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(name string) error {
	if _, err := g.git("checkout", name); err != nil {
		return errors.ErrGit("checkout", err)
	}
	return nil
}

// Commit stages everything and commits with the given message.
func (g *Git) Commit(message string) (string, error) {
	if _, err := g.git("add", "-A"); err != nil {
		return "", errors.ErrGit("add", err)
	}
	if _, err := g.git("commit", "-m", message); err != nil {
		return "", errors.ErrGit("commit", err)
	}
	return g.HeadCommit()
}

// MergeFF fast-forward-merges branch into target and deletes the
// branch. Refuses a non-fast-forward merge.
func (g *Git) MergeFF(target, branch string) error {
	if err := g.Checkout(target); err != nil {
		return err
	}
	if _, err := g.git("merge", "--ff-only", branch); err != nil {
		return errors.ErrGit("merge --ff-only", err)
	}
	if _, err := g.git("branch", "-d", branch); err != nil {
		return errors.ErrGit("branch -d", err)
	}
	return nil
}

// DiffStats holds aggregate line counts for a diff.
type DiffStats struct {
	FilesChanged int64 `json:"files_changed"`
	LinesAdded   int64 `json:"lines_added"`
	LinesRemoved int64 `json:"lines_removed"`
}

// DiffAgainst returns diff stats between a base ref and the working
// tree.
func (g *Git) DiffAgainst(base string) (*DiffStats, error) {
	out, err := g.git("diff", "--numstat", base)
	if err != nil {
		return nil, errors.ErrGit("diff --numstat", err)
	}
	stats := &DiffStats{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		stats.FilesChanged++
		// Binary files report "-"; count only numeric rows.
		if added, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			stats.LinesAdded += added
		}
		if removed, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			stats.LinesRemoved += removed
		}
	}
	return stats, nil
}

// MergePR squash-merges the branch's open pull request via gh and
// deletes the branch.
func (g *Git) MergePR(branch string) error {
	if _, err := g.runner.Run(g.workDir, "gh", "pr", "merge", branch,
		"--squash", "--delete-branch"); err != nil {
		return errors.ErrGit("gh pr merge", err)
	}
	return nil
}
