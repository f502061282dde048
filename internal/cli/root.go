// Package cli implements the tusk command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

var (
	cfgFile string
	dbFile  string
	verbose bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tusk",
	Short: "Local task tracking for AI-assisted coding",
	Long: `tusk tracks tasks, dependencies, and AI spend for a single project.

Everything lives in .tusk/ next to your code: a SQLite store, a JSON
config, and a model pricing catalog. Agents drive tusk over its CLI;
machine output goes to stdout as JSON, human output goes to stderr.

Quick start:
  tusk init                           Initialize tusk in current project
  tusk task-insert "Fix login bug" -c "login works"
  tusk task-select                    Pick the highest-value ready task
  tusk task-start 1                   Open a work session
  tusk finalize 1                     Merge, attribute cost, close`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	setupLogging()
	if err := rootCmd.Execute(); err != nil {
		te := errors.AsTuskError(err)
		if te == nil {
			te = errors.Wrap(err, "command failed")
		}
		if len(te.Details) > 0 {
			// Negative outcomes with structured fields (duplicate found)
			// print their JSON to stdout so callers can parse them.
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(te.Details)
			if !jsonOut {
				printError(te)
			}
			return te.ExitCode()
		}
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(map[string]any{"error": te})
		} else {
			printError(te)
		}
		return te.ExitCode()
	}
	return errors.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tusk/config.json)")
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", "", "database file (default is .tusk/tusk.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newTaskInsertCmd())
	rootCmd.AddCommand(newTaskUpdateCmd())
	rootCmd.AddCommand(newTaskShowCmd())
	rootCmd.AddCommand(newTaskListCmd())
	rootCmd.AddCommand(newTaskStartCmd())
	rootCmd.AddCommand(newTaskDoneCmd())
	rootCmd.AddCommand(newTaskReopenCmd())
	rootCmd.AddCommand(newTaskSelectCmd())
	rootCmd.AddCommand(newCriteriaCmd())
	rootCmd.AddCommand(newCommitCmd())
	rootCmd.AddCommand(newDepsCmd())
	rootCmd.AddCommand(newChainCmd())
	rootCmd.AddCommand(newBlockersCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newProgressCmd())
	rootCmd.AddCommand(newBranchCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newFinalizeCmd())
	rootCmd.AddCommand(newSessionCloseCmd())
	rootCmd.AddCommand(newSessionStatsCmd())
	rootCmd.AddCommand(newSessionRecalcCmd())
	rootCmd.AddCommand(newSkillRunCmd())
	rootCmd.AddCommand(newCallBreakdownCmd())
	rootCmd.AddCommand(newAutocloseCmd())
	rootCmd.AddCommand(newBacklogScanCmd())
	rootCmd.AddCommand(newDupesCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newLoopCmd())
	rootCmd.AddCommand(newDashboardCmd())
	rootCmd.AddCommand(newDagCmd())
	rootCmd.AddCommand(newPricingUpdateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// project bundles an opened store with its configuration and paths.
type project struct {
	Paths *config.Paths
	Cfg   *config.Config
	DB    *db.DB
}

func (p *project) Close() {
	if p.DB != nil {
		_ = p.DB.Close()
	}
}

// openProject resolves .tusk/, loads config, opens the store, and syncs
// the status ladder into it.
func openProject() (*project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	paths, err := config.ResolvePaths(cwd)
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		paths.Config = cfgFile
	}
	if dbFile != "" {
		paths.DB = dbFile
	}
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := db.Open(paths.DB)
	if err != nil {
		return nil, err
	}
	if err := store.SyncStatusRanks(cfg.Statuses); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &project{Paths: paths, Cfg: cfg, DB: store}, nil
}

// emit writes v as JSON to stdout under --json, otherwise calls human
// which renders to stderr.
func emit(v any, human func()) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}

var useColor = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

func sprintfColor(c *color.Color, format string, args ...any) string {
	if !useColor {
		return fmt.Sprintf(format, args...)
	}
	return c.Sprintf(format, args...)
}

func infof(format string, args ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
}

func successf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, sprintfColor(color.New(color.FgGreen), format, args...))
}

func warnf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, sprintfColor(color.New(color.FgYellow), format, args...))
}

func printError(te *errors.TuskError) {
	fmt.Fprintln(os.Stderr, sprintfColor(color.New(color.FgRed), "%s", te.UserMessage()))
}
