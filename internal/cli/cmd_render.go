package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/render"
)

// newDashboardCmd creates the dashboard command
func newDashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Render the project dashboard to HTML",
		Long: `Render a static HTML dashboard: open and closed work, velocity, and
spend per task. Written next to the store unless --out says otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(filepath.Dir(p.Paths.DB), "dashboard.html")
			}
			project := filepath.Base(p.Paths.Root)
			if err := render.Dashboard(p.DB, p.Cfg, project, out); err != nil {
				return err
			}
			return emit(map[string]any{"path": out}, func() {
				successf("Wrote %s", out)
			})
		},
	}
	cmd.Flags().String("out", "", "Output file (default .tusk/dashboard.html)")
	return cmd
}

// newDagCmd creates the dag command
func newDagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Render the dependency graph to HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(filepath.Dir(p.Paths.DB), "dag.html")
			}
			project := filepath.Base(p.Paths.Root)
			if err := render.DAG(p.DB, project, out); err != nil {
				return err
			}
			return emit(map[string]any{"path": out}, func() {
				successf("Wrote %s", out)
			})
		},
	}
	cmd.Flags().String("out", "", "Output file (default .tusk/dag.html)")
	return cmd
}
