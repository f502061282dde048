package task

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// tagPrefix matches generic tracker tags like "TAG-123" or "ABC-7:" at
// the start of a summary.
var tagPrefix = regexp.MustCompile(`^[A-Z]+-\d+[:\s]+`)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeSummary strips configured prefix tags and generic tracker
// tags, collapses whitespace, and lowercases.
func (s *Service) NormalizeSummary(summary string) string {
	out := strings.TrimSpace(summary)
	for changed := true; changed; {
		changed = false
		for _, prefix := range s.Cfg.Dupes.StripPrefixes {
			if strings.HasPrefix(out, prefix) {
				out = strings.TrimSpace(strings.TrimPrefix(out, prefix))
				changed = true
			}
		}
		if m := tagPrefix.FindString(out); m != "" {
			out = strings.TrimSpace(strings.TrimPrefix(out, m))
			changed = true
		}
	}
	out = whitespace.ReplaceAllString(out, " ")
	return strings.ToLower(out)
}

// Similarity computes the sequence-match ratio between two normalized
// summaries: 2*common/(len(a)+len(b)) over a character diff. When the
// shorter summary is wholly contained in the longer one and is at least
// ten characters, the ratio is promoted to common/len(shorter) so that
// prefix extensions ("add X" vs "add X for Y") still register as
// duplicates.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	ratio := 2 * float64(common) / float64(len(a)+len(b))

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if common == shorter && shorter >= 10 {
		contained := float64(common) / float64(shorter)
		if contained > ratio {
			return contained
		}
	}
	return ratio
}

// Match is one fuzzy duplicate hit.
type Match struct {
	TaskID     int64   `json:"task_id"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}

// Pair is a fuzzy duplicate pair found by a backlog scan.
type Pair struct {
	TaskA      int64   `json:"task_a"`
	SummaryA   string  `json:"summary_a"`
	TaskB      int64   `json:"task_b"`
	SummaryB   string  `json:"summary_b"`
	Similarity float64 `json:"similarity"`
}

// FindDuplicate returns the best open-task match at or above the given
// threshold for a candidate summary, or nil.
func (s *Service) FindDuplicate(summary string, threshold float64, excludeID int64) (*Match, error) {
	open, err := s.DB.OpenTasks()
	if err != nil {
		return nil, err
	}
	norm := s.NormalizeSummary(summary)

	var best *Match
	for _, t := range open {
		if t.ID == excludeID {
			continue
		}
		sim := Similarity(norm, s.NormalizeSummary(t.Summary))
		if sim < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{TaskID: t.ID, Summary: t.Summary, Similarity: sim}
		}
	}
	return best, nil
}

// SimilarTasks returns every open task at or above the threshold,
// best-first.
func (s *Service) SimilarTasks(summary string, threshold float64) ([]Match, error) {
	open, err := s.DB.OpenTasks()
	if err != nil {
		return nil, err
	}
	norm := s.NormalizeSummary(summary)

	var out []Match
	for _, t := range open {
		sim := Similarity(norm, s.NormalizeSummary(t.Summary))
		if sim >= threshold {
			out = append(out, Match{TaskID: t.ID, Summary: t.Summary, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out, nil
}

// ScanDuplicatePairs finds all open-task pairs at or above the scan
// threshold.
func (s *Service) ScanDuplicatePairs(threshold float64) ([]Pair, error) {
	open, err := s.DB.OpenTasks()
	if err != nil {
		return nil, err
	}
	norms := make([]string, len(open))
	for i, t := range open {
		norms[i] = s.NormalizeSummary(t.Summary)
	}

	var out []Pair
	for i := 0; i < len(open); i++ {
		for j := i + 1; j < len(open); j++ {
			sim := Similarity(norms[i], norms[j])
			if sim >= threshold {
				out = append(out, Pair{
					TaskA: open[i].ID, SummaryA: open[i].Summary,
					TaskB: open[j].ID, SummaryB: open[j].Summary,
					Similarity: sim,
				})
			}
		}
	}
	return out, nil
}
