package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/config"
	"github.com/tuskdev/tusk/internal/cost"
	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
)

const defaultConventions = `# Conventions

Project conventions for agents working in this repository. Free-form
markdown; tusk returns it verbatim from "tusk setup".
`

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tusk in current project",
		Long: `Initialize tusk in the current directory.

Creates .tusk/ with the SQLite store, a default config.json, the model
pricing catalog, and an empty conventions.md.

Example:
  tusk init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			dir := filepath.Join(cwd, config.TuskDir)
			if _, err := os.Stat(dir); err == nil {
				return errors.ErrAlreadyInitialized(dir)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			cfg := config.Default()
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			cfgPath := filepath.Join(dir, config.ConfigFileName)
			if err := os.WriteFile(cfgPath, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := cost.DefaultPricing().Save(filepath.Join(dir, config.PricingFileName)); err != nil {
				return fmt.Errorf("write pricing: %w", err)
			}
			convPath := filepath.Join(dir, config.ConventionsFileName)
			if err := os.WriteFile(convPath, []byte(defaultConventions), 0o644); err != nil {
				return fmt.Errorf("write conventions: %w", err)
			}

			store, err := db.Open(filepath.Join(dir, config.DBFileName))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.SyncStatusRanks(cfg.Statuses); err != nil {
				return err
			}

			return emit(map[string]any{"initialized": dir}, func() {
				successf("Initialized tusk in %s", dir)
			})
		},
	}
}

// newSetupCmd creates the setup command
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Dump config, open backlog, and conventions as one JSON",
		Long: `Print the agent bootstrap bundle: the active configuration, every
open task, and the project's conventions.md, as a single JSON object on
stdout. Agents call this once at session start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			backlog, err := p.DB.OpenTasks()
			if err != nil {
				return err
			}
			conventions := ""
			if data, err := os.ReadFile(p.Paths.Conventions); err == nil {
				conventions = string(data)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"config":      p.Cfg,
				"backlog":     backlog,
				"conventions": conventions,
			})
		},
	}
}
