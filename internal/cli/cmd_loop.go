package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/loop"
)

// newLoopCmd creates the loop command
func newLoopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run the unattended work loop",
		Long: `Repeatedly pick the highest-value ready task and hand it to the
configured agent until the queue drains, the task budget is spent, or
an agent fails. The store stays closed while an agent runs so the
child process has it to itself.

Examples:
  tusk loop
  tusk loop --max-tasks 3 --agent claude`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			paths, err := config.ResolvePaths(cwd)
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if dbFile != "" {
				paths.DB = dbFile
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			l := loop.New(paths, cfg, nil)
			if maxTasks, _ := cmd.Flags().GetInt("max-tasks"); maxTasks > 0 {
				l.MaxTasks = maxTasks
			}
			if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
				l.Agent = agent
			}

			result, runErr := l.Run(cmd.Context())
			emitErr := emit(result, func() {
				for _, a := range result.Attempts {
					switch {
					case a.Completed:
						successf("task %d completed (%s)", a.TaskID, a.Skill)
					case a.Excluded:
						warnf("task %d left open, excluded for this run", a.TaskID)
					default:
						warnf("task %d failed: %s", a.TaskID, a.Error)
					}
				}
				infof("loop %s stopped: %s (%d completed, %d excluded)",
					result.RunID, result.Stopped, result.Completed, result.Excluded)
			})
			if runErr != nil {
				return runErr
			}
			return emitErr
		},
	}
	cmd.Flags().Int("max-tasks", 0, "Cap tasks attempted this run")
	cmd.Flags().String("agent", "", "Agent to dispatch (overrides config)")
	return cmd
}
