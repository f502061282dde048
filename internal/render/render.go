// Package render writes the static HTML dashboard and dependency
// graph pages.
package render

import (
	"fmt"
	"html/template"
	"os"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
)

// DashboardData feeds the dashboard template.
type DashboardData struct {
	Project  string
	Metrics  []*db.TaskMetrics
	Velocity []*db.VelocityBucket
	Open     int
	Done     int
	Cost     float64
}

// Dashboard writes the metrics dashboard to path.
func Dashboard(store *db.DB, cfg *config.Config, project, path string) error {
	metrics, err := store.TaskMetricsAll()
	if err != nil {
		return err
	}
	velocity, err := store.Velocity()
	if err != nil {
		return err
	}
	data := DashboardData{Project: project, Metrics: metrics, Velocity: velocity}
	terminal := cfg.TerminalStatus()
	for _, m := range metrics {
		if m.Status == terminal {
			data.Done++
		} else {
			data.Open++
		}
		data.Cost += m.TotalCostDollars
	}
	return writeTemplate(path, dashboardTmpl, data)
}

// edge is one rendered dependency arrow.
type edge struct {
	From    *db.Task
	To      *db.Task
	RelType string
}

// dagData feeds the graph template.
type dagData struct {
	Project string
	Tasks   []*db.Task
	Edges   []edge
}

// DAG writes the dependency graph page to path.
func DAG(store *db.DB, project, path string) error {
	tasks, err := store.ListTasks("")
	if err != nil {
		return err
	}
	byID := make(map[int64]*db.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	deps, err := store.AllDependencies()
	if err != nil {
		return err
	}
	data := dagData{Project: project, Tasks: tasks}
	for _, d := range deps {
		from, to := byID[d.TaskID], byID[d.DependsOnID]
		if from == nil || to == nil {
			continue
		}
		data.Edges = append(data.Edges, edge{From: from, To: to, RelType: d.RelationshipType})
	}
	return writeTemplate(path, dagTmpl, data)
}

func writeTemplate(path string, tmpl *template.Template, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return nil
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Project}} dashboard</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1a1a1a; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #ccc; padding: 0.35rem 0.7rem; text-align: left; }
th { background: #f2f2f2; }
.kpi { display: inline-block; margin-right: 2rem; }
.kpi b { font-size: 1.6rem; display: block; }
</style>
</head>
<body>
<h1>{{.Project}}</h1>
<div>
  <span class="kpi"><b>{{.Open}}</b>open tasks</span>
  <span class="kpi"><b>{{.Done}}</b>done</span>
  <span class="kpi"><b>${{printf "%.2f" .Cost}}</b>total spend</span>
</div>
<h2>Tasks</h2>
<table>
<tr><th>ID</th><th>Summary</th><th>Status</th><th>Sessions</th><th>Tokens in</th><th>Tokens out</th><th>Cost</th><th>+/-</th></tr>
{{range .Metrics}}<tr>
<td>{{.TaskID}}</td><td>{{.Summary}}</td><td>{{.Status}}</td>
<td>{{.SessionCount}}</td><td>{{.TotalTokensIn}}</td><td>{{.TotalTokensOut}}</td>
<td>${{printf "%.4f" .TotalCostDollars}}</td>
<td>+{{.TotalLinesAdded}}/-{{.TotalLinesRemoved}}</td>
</tr>{{end}}
</table>
<h2>Velocity</h2>
<table>
<tr><th>Week</th><th>Tasks done</th><th>Avg cost</th></tr>
{{range .Velocity}}<tr>
<td>{{.Week}}</td><td>{{.TasksDone}}</td><td>${{printf "%.4f" .AvgCostDollars}}</td>
</tr>{{end}}
</table>
</body>
</html>
`))

var dagTmpl = template.Must(template.New("dag").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Project}} dependency graph</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1a1a1a; }
ul { list-style: none; padding-left: 0; }
li { margin: 0.25rem 0; }
.rel { color: #888; font-size: 0.85rem; }
.task { font-family: ui-monospace, monospace; }
</style>
</head>
<body>
<h1>{{.Project}} dependencies</h1>
<ul>
{{range .Edges}}<li>
<span class="task">#{{.From.ID}} {{.From.Summary}}</span>
<span class="rel">&rarr; {{.RelType}} on &rarr;</span>
<span class="task">#{{.To.ID}} {{.To.Summary}}</span>
</li>{{end}}
</ul>
<h2>All tasks</h2>
<ul>
{{range .Tasks}}<li><span class="task">#{{.ID}}</span> {{.Summary}} [{{.Status}}]</li>{{end}}
</ul>
</body>
</html>
`))
