package task

import (
	"sort"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

// AddDependency validates both endpoints, forbids self-loops, rejects
// edges that would close a cycle, and inserts the edge.
func (s *Service) AddDependency(taskID, dependsOnID int64, relType string) error {
	if relType != db.RelBlocks && relType != db.RelContingent {
		return errors.ErrInvalidEnum("relationship_type", relType,
			[]string{db.RelBlocks, db.RelContingent})
	}
	if taskID == dependsOnID {
		return errors.ErrInvalidInput("a task cannot depend on itself", "")
	}
	if _, err := s.mustGetTask(taskID); err != nil {
		return err
	}
	if _, err := s.mustGetTask(dependsOnID); err != nil {
		return err
	}

	// Adding task -> dependsOn closes a cycle iff dependsOn already
	// reaches task through the prerequisite direction.
	deps, err := s.DB.AllDependencies()
	if err != nil {
		return err
	}
	adj := make(map[int64][]int64)
	for _, d := range deps {
		adj[d.TaskID] = append(adj[d.TaskID], d.DependsOnID)
	}
	if path := findPath(adj, dependsOnID, taskID); path != nil {
		cycle := append([]int64{taskID}, path...)
		return errors.ErrDependencyCycle(cycle)
	}

	if err := s.DB.InsertDependency(taskID, dependsOnID, relType); err != nil {
		if db.IsUniqueViolation(err) {
			return errors.ErrInvalidInput("dependency already exists", "")
		}
		return err
	}
	return nil
}

// RemoveDependency deletes an edge. Idempotent.
func (s *Service) RemoveDependency(taskID, dependsOnID int64) error {
	return s.DB.DeleteDependency(taskID, dependsOnID)
}

// findPath returns a path from -> ... -> to following adjacency edges,
// or nil when to is unreachable. DFS; the graph is small.
func findPath(adj map[int64][]int64, from, to int64) []int64 {
	if from == to {
		return []int64{from}
	}
	visited := map[int64]bool{from: true}
	var dfs func(node int64) []int64
	dfs = func(node int64) []int64 {
		for _, next := range adj[node] {
			if next == to {
				return []int64{node, next}
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if tail := dfs(next); tail != nil {
				return append([]int64{node}, tail...)
			}
		}
		return nil
	}
	return dfs(from)
}

// DepSummary is the per-task dependency rollup produced by deps-list.
type DepSummary struct {
	Task          *db.Task         `json:"task"`
	BlockedBy     []*db.Dependency `json:"blocked_by,omitempty"`
	OpenUpstream  int              `json:"open_upstream"`
	Dependents    []*db.Dependency `json:"dependents,omitempty"`
	DownstreamCnt int              `json:"downstream_count"`
}

// ListDependencies computes the dependency rollup for every task that
// participates in at least one edge, or for one task when taskID != 0.
func (s *Service) ListDependencies(taskID int64) ([]*DepSummary, error) {
	deps, err := s.DB.AllDependencies()
	if err != nil {
		return nil, err
	}

	byTask := make(map[int64][]*db.Dependency)
	byUpstream := make(map[int64][]*db.Dependency)
	for _, d := range deps {
		byTask[d.TaskID] = append(byTask[d.TaskID], d)
		byUpstream[d.DependsOnID] = append(byUpstream[d.DependsOnID], d)
	}

	ids := make([]int64, 0, len(byTask)+len(byUpstream))
	seen := make(map[int64]bool)
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if taskID != 0 {
		add(taskID)
	} else {
		for id := range byTask {
			add(id)
		}
		for id := range byUpstream {
			add(id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	terminal := s.Cfg.TerminalStatus()
	var out []*DepSummary
	for _, id := range ids {
		t, err := s.mustGetTask(id)
		if err != nil {
			return nil, err
		}
		sum := &DepSummary{
			Task:       t,
			BlockedBy:  byTask[id],
			Dependents: byUpstream[id],
		}
		sum.DownstreamCnt = len(sum.Dependents)
		for _, d := range sum.BlockedBy {
			if d.RelationshipType != db.RelBlocks {
				continue
			}
			up, err := s.mustGetTask(d.DependsOnID)
			if err != nil {
				return nil, err
			}
			if up.Status != terminal {
				sum.OpenUpstream++
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// ScopeEntry is one (task, depth) pair in a downstream sub-DAG.
type ScopeEntry struct {
	Task  *db.Task `json:"task"`
	Depth int      `json:"depth"`
}

// DownstreamScope BFSes the dependents direction from one or more head
// tasks, yielding (task, depth) with depth 0 for heads. Multiple heads
// produce the union with minimum depth per task, and must share at least
// one common non-head downstream task.
func (s *Service) DownstreamScope(headIDs []int64) ([]ScopeEntry, error) {
	if len(headIDs) == 0 {
		return nil, errors.ErrInvalidInput("at least one head task is required", "")
	}
	for _, id := range headIDs {
		if _, err := s.mustGetTask(id); err != nil {
			return nil, err
		}
	}

	deps, err := s.DB.AllDependencies()
	if err != nil {
		return nil, err
	}
	dependents := make(map[int64][]int64) // prerequisite -> dependents
	for _, d := range deps {
		dependents[d.DependsOnID] = append(dependents[d.DependsOnID], d.TaskID)
	}

	heads := make(map[int64]bool, len(headIDs))
	for _, id := range headIDs {
		heads[id] = true
	}

	// Per-head reach sets for the common-downstream requirement.
	reach := make([]map[int64]bool, len(headIDs))

	depth := make(map[int64]int)
	for i, head := range headIDs {
		reach[i] = map[int64]bool{}
		type node struct {
			id int64
			d  int
		}
		queue := []node{{head, 0}}
		local := map[int64]bool{head: true}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			reach[i][cur.id] = true
			if best, ok := depth[cur.id]; !ok || cur.d < best {
				depth[cur.id] = cur.d
			}
			for _, next := range dependents[cur.id] {
				if local[next] {
					continue
				}
				local[next] = true
				queue = append(queue, node{next, cur.d + 1})
			}
		}
	}

	if len(headIDs) > 1 {
		shared := false
		for id := range reach[0] {
			if heads[id] {
				continue
			}
			all := true
			for i := 1; i < len(reach); i++ {
				if !reach[i][id] {
					all = false
					break
				}
			}
			if all {
				shared = true
				break
			}
		}
		if !shared {
			return nil, errors.ErrRefused("heads share no downstream task",
				"multi-head scope requires at least one common non-head downstream task")
		}
	}

	ids := make([]int64, 0, len(depth))
	for id := range depth {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if depth[ids[i]] != depth[ids[j]] {
			return depth[ids[i]] < depth[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make([]ScopeEntry, 0, len(ids))
	for _, id := range ids {
		t, err := s.mustGetTask(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ScopeEntry{Task: t, Depth: depth[id]})
	}
	return out, nil
}

// Frontier returns the subset of a downstream scope that is ready.
func (s *Service) Frontier(headIDs []int64) ([]*db.Task, error) {
	scope, err := s.DownstreamScope(headIDs)
	if err != nil {
		return nil, err
	}
	ready, err := s.DB.ReadyTasks()
	if err != nil {
		return nil, err
	}
	readyIDs := make(map[int64]bool, len(ready))
	for _, t := range ready {
		readyIDs[t.ID] = true
	}
	var out []*db.Task
	for _, e := range scope {
		if readyIDs[e.Task.ID] {
			out = append(out, e.Task)
		}
	}
	return out, nil
}

// ScopeStatus summarizes a downstream scope's progress.
type ScopeStatus struct {
	Total      int          `json:"total"`
	Done       int          `json:"done"`
	InProgress int          `json:"in_progress"`
	ToDo       int          `json:"to_do"`
	Entries    []ScopeEntry `json:"entries"`
}

// Status computes done / in-progress / to-do counts over a scope.
func (s *Service) Status(headIDs []int64) (*ScopeStatus, error) {
	scope, err := s.DownstreamScope(headIDs)
	if err != nil {
		return nil, err
	}
	st := &ScopeStatus{Total: len(scope), Entries: scope}
	terminal := s.Cfg.TerminalStatus()
	initial := s.Cfg.InitialStatus()
	for _, e := range scope {
		switch e.Task.Status {
		case terminal:
			st.Done++
		case initial:
			st.ToDo++
		default:
			st.InProgress++
		}
	}
	return st, nil
}

// FindCycle looks for any cycle in the dependency graph and returns its
// path, or nil. Used by the validator; inserts are already guarded.
func FindCycle(deps []*db.Dependency) []int64 {
	adj := make(map[int64][]int64)
	nodes := make(map[int64]bool)
	for _, d := range deps {
		adj[d.TaskID] = append(adj[d.TaskID], d.DependsOnID)
		nodes[d.TaskID] = true
		nodes[d.DependsOnID] = true
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[int64]int)
	var stack []int64

	var dfs func(node int64) []int64
	dfs = func(node int64) []int64 {
		color[node] = grey
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case grey:
				// Close the loop from next to node.
				start := 0
				for i, id := range stack {
					if id == next {
						start = i
						break
					}
				}
				cycle := append([]int64{}, stack[start:]...)
				return append(cycle, next)
			case white:
				if c := dfs(next); c != nil {
					return c
				}
			}
		}
		color[node] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	ids := make([]int64, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if color[id] == white {
			if c := dfs(id); c != nil {
				return c
			}
		}
	}
	return nil
}
