package task

import "math"

// complexityPoints maps complexity tiers to job-size points on the
// fibonacci ladder. Unsized tasks score as M.
var complexityPoints = map[string]float64{
	"XS": 1,
	"S":  2,
	"M":  3,
	"L":  5,
	"XL": 8,
}

const defaultPoints = 3

// Score computes the WSJF priority score from a task's priority and
// complexity: weight(priority) * 10 / points(complexity), rounded to two
// decimals. The weight is the 1-based reverse position of the priority in
// the configured list, so the first (most urgent) priority weighs most.
func (s *Service) Score(priority, complexity string) float64 {
	weight := 1.0
	for i, p := range s.Cfg.Priorities {
		if p == priority {
			weight = float64(len(s.Cfg.Priorities) - i)
			break
		}
	}
	points, ok := complexityPoints[complexity]
	if !ok {
		points = defaultPoints
	}
	return math.Round(weight*10/points*100) / 100
}

// RescoreAll recomputes priority_score for every non-terminal task. A
// change to either WSJF input triggers a full pass; the formula is cheap
// and the task count is small.
func (s *Service) RescoreAll() error {
	tasks, err := s.DB.OpenTasks()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		complexity := ""
		if t.Complexity != nil {
			complexity = *t.Complexity
		}
		score := s.Score(t.Priority, complexity)
		if score == t.PriorityScore {
			continue
		}
		if err := s.DB.SetTaskScore(t.ID, score); err != nil {
			return err
		}
	}
	return nil
}
