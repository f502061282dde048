// Package config loads and validates tusk project configuration.
//
// A project is any directory tree containing a .tusk/ directory at its
// root. The directory holds the store (tusk.db), the configuration
// (config.json), the pricing catalog (pricing.json), and the free-form
// conventions file (conventions.md).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuskdev/tusk/internal/errors"
)

const (
	// TuskDir is the per-project state directory.
	TuskDir = ".tusk"
	// ConfigFileName is the configuration file inside TuskDir.
	ConfigFileName = "config.json"
	// DBFileName is the store file inside TuskDir.
	DBFileName = "tusk.db"
	// PricingFileName is the pricing catalog inside TuskDir.
	PricingFileName = "pricing.json"
	// ConventionsFileName is the free-form conventions file inside TuskDir.
	ConventionsFileName = "conventions.md"
)

// DupesConfig holds duplicate-detection policy.
type DupesConfig struct {
	CheckThreshold   float64  `mapstructure:"check_threshold" json:"check_threshold"`
	SimilarThreshold float64  `mapstructure:"similar_threshold" json:"similar_threshold"`
	StripPrefixes    []string `mapstructure:"strip_prefixes" json:"strip_prefixes"`
}

// MergeConfig holds merge policy.
type MergeConfig struct {
	// Mode is "local" (fast-forward merge in the working clone) or "pr"
	// (squash-merge through the hosted forge's CLI).
	Mode string `mapstructure:"mode" json:"mode"`
	// TargetBranch is the branch merges land on.
	TargetBranch string `mapstructure:"target_branch" json:"target_branch"`
}

// ReviewConfig holds code-review policy.
type ReviewConfig struct {
	Reviewers []string `mapstructure:"reviewers" json:"reviewers"`
}

// LoopConfig holds autonomous-loop policy.
type LoopConfig struct {
	// Agent is the external agent binary the loop spawns.
	Agent string `mapstructure:"agent" json:"agent"`
	// MaxTasks bounds one loop invocation.
	MaxTasks int `mapstructure:"max_tasks" json:"max_tasks"`
}

// TranscriptsConfig locates agent transcript files.
type TranscriptsConfig struct {
	// Dir overrides the default Claude Code project transcript directory.
	Dir string `mapstructure:"dir" json:"dir"`
}

// Config is the full tusk configuration.
//
// Enum lists are ordered: the first status is the initial state and the
// last status is the terminal state.
type Config struct {
	Statuses         []string          `mapstructure:"statuses" json:"statuses"`
	Priorities       []string          `mapstructure:"priorities" json:"priorities"`
	ClosedReasons    []string          `mapstructure:"closed_reasons" json:"closed_reasons"`
	Domains          []string          `mapstructure:"domains" json:"domains"`
	TaskTypes        []string          `mapstructure:"task_types" json:"task_types"`
	Complexity       []string          `mapstructure:"complexity" json:"complexity"`
	Agents           map[string]string `mapstructure:"agents" json:"agents"`
	CriterionTypes   []string          `mapstructure:"criterion_types" json:"criterion_types"`
	BlockerTypes     []string          `mapstructure:"blocker_types" json:"blocker_types"`
	ReviewCategories []string          `mapstructure:"review_categories" json:"review_categories"`
	ReviewSeverities []string          `mapstructure:"review_severities" json:"review_severities"`

	Dupes       DupesConfig       `mapstructure:"dupes" json:"dupes"`
	Merge       MergeConfig       `mapstructure:"merge" json:"merge"`
	Review      ReviewConfig      `mapstructure:"review" json:"review"`
	Loop        LoopConfig        `mapstructure:"loop" json:"loop"`
	Transcripts TranscriptsConfig `mapstructure:"transcripts" json:"transcripts"`
}

// InitialStatus returns the first configured status.
func (c *Config) InitialStatus() string {
	if len(c.Statuses) == 0 {
		return "To Do"
	}
	return c.Statuses[0]
}

// TerminalStatus returns the last configured status.
func (c *Config) TerminalStatus() string {
	if len(c.Statuses) == 0 {
		return "Done"
	}
	return c.Statuses[len(c.Statuses)-1]
}

// StatusRank returns the position of a status in the configured list,
// or -1 if the status is unknown.
func (c *Config) StatusRank(status string) int {
	for i, s := range c.Statuses {
		if s == status {
			return i
		}
	}
	return -1
}

// AgentNames returns the configured agent names as a sorted slice.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindRoot walks up from dir looking for a .tusk directory.
// Returns the project root (the directory containing .tusk).
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	for {
		if fi, err := os.Stat(filepath.Join(abs, TuskDir)); err == nil && fi.IsDir() {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", errors.ErrNotInitialized()
		}
		abs = parent
	}
}

// Paths bundles the resolved per-project file locations.
type Paths struct {
	Root        string
	DB          string
	Config      string
	Pricing     string
	Conventions string
}

// ResolvePaths resolves all project paths from a starting directory.
func ResolvePaths(dir string) (*Paths, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Paths{
		Root:        root,
		DB:          filepath.Join(root, TuskDir, DBFileName),
		Config:      filepath.Join(root, TuskDir, ConfigFileName),
		Pricing:     filepath.Join(root, TuskDir, PricingFileName),
		Conventions: filepath.Join(root, TuskDir, ConventionsFileName),
	}, nil
}

// Load reads configuration from the given file, layering it over the
// built-in defaults. Environment variables with the TUSK_ prefix
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TUSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural requirements on the configuration.
func (c *Config) Validate() error {
	if len(c.Statuses) < 2 {
		return errors.ErrInvalidInput("invalid configuration",
			"statuses must list at least an initial and a terminal status")
	}
	if len(c.Priorities) == 0 {
		return errors.ErrInvalidInput("invalid configuration", "priorities must not be empty")
	}
	if len(c.ClosedReasons) == 0 {
		return errors.ErrInvalidInput("invalid configuration", "closed_reasons must not be empty")
	}
	if c.Dupes.CheckThreshold < c.Dupes.SimilarThreshold {
		return errors.ErrInvalidInput("invalid configuration",
			"dupes.check_threshold must be >= dupes.similar_threshold")
	}
	switch c.Merge.Mode {
	case "local", "pr":
	default:
		return errors.ErrInvalidEnum("merge.mode", c.Merge.Mode, []string{"local", "pr"})
	}
	return nil
}
