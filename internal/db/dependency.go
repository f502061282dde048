package db

import (
	"fmt"
	"time"
)

// Relationship types for task dependencies.
const (
	RelBlocks     = "blocks"
	RelContingent = "contingent"
)

// Dependency represents a directed edge from a dependent task to its
// prerequisite.
type Dependency struct {
	TaskID           int64     `json:"task_id"`
	DependsOnID      int64     `json:"depends_on_id"`
	RelationshipType string    `json:"relationship_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// InsertDependency adds an edge. The caller is responsible for cycle
// checking; the store only enforces endpoint existence and no self-loops.
func (d *DB) InsertDependency(taskID, dependsOnID int64, relType string) error {
	_, err := d.Exec(`INSERT INTO task_dependencies
		(task_id, depends_on_id, relationship_type, created_at)
		VALUES (?, ?, ?, ?)`,
		taskID, dependsOnID, relType, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert dependency %d->%d: %w", taskID, dependsOnID, err)
	}
	return nil
}

// DeleteDependency removes an edge. Idempotent.
func (d *DB) DeleteDependency(taskID, dependsOnID int64) error {
	_, err := d.Exec(`DELETE FROM task_dependencies
		WHERE task_id = ? AND depends_on_id = ?`, taskID, dependsOnID)
	if err != nil {
		return fmt.Errorf("delete dependency %d->%d: %w", taskID, dependsOnID, err)
	}
	return nil
}

// AllDependencies returns every edge in the graph.
func (d *DB) AllDependencies() ([]*Dependency, error) {
	rows, err := d.Query(`SELECT task_id, depends_on_id, relationship_type, created_at
		FROM task_dependencies ORDER BY task_id, depends_on_id`)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dependency
	for rows.Next() {
		var dep Dependency
		var createdAt string
		if err := rows.Scan(&dep.TaskID, &dep.DependsOnID, &dep.RelationshipType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		dep.CreatedAt = parseTime(createdAt)
		out = append(out, &dep)
	}
	return out, rows.Err()
}

// DependenciesOf returns the edges whose dependent is taskID.
func (d *DB) DependenciesOf(taskID int64) ([]*Dependency, error) {
	rows, err := d.Query(`SELECT task_id, depends_on_id, relationship_type, created_at
		FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("dependencies of %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dependency
	for rows.Next() {
		var dep Dependency
		var createdAt string
		if err := rows.Scan(&dep.TaskID, &dep.DependsOnID, &dep.RelationshipType, &createdAt); err != nil {
			return nil, err
		}
		dep.CreatedAt = parseTime(createdAt)
		out = append(out, &dep)
	}
	return out, rows.Err()
}

// DependentsOf returns the edges whose prerequisite is taskID.
func (d *DB) DependentsOf(taskID int64) ([]*Dependency, error) {
	rows, err := d.Query(`SELECT task_id, depends_on_id, relationship_type, created_at
		FROM task_dependencies WHERE depends_on_id = ? ORDER BY task_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("dependents of %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dependency
	for rows.Next() {
		var dep Dependency
		var createdAt string
		if err := rows.Scan(&dep.TaskID, &dep.DependsOnID, &dep.RelationshipType, &createdAt); err != nil {
			return nil, err
		}
		dep.CreatedAt = parseTime(createdAt)
		out = append(out, &dep)
	}
	return out, rows.Err()
}

// NewlyReadyDependents returns the dependents of taskID that appear in
// v_ready_tasks, i.e. the tasks a closure just unblocked.
func (d *DB) NewlyReadyDependents(taskID int64) ([]*Task, error) {
	return d.queryTasks("SELECT "+taskColumns+` FROM v_ready_tasks
		WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = ?)
		ORDER BY priority_score DESC, id`, taskID)
}
