package config

import "github.com/spf13/viper"

// setDefaults registers built-in defaults for every configuration key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("statuses", []string{"To Do", "In Progress", "Done"})
	v.SetDefault("priorities", []string{"Critical", "High", "Medium", "Low"})
	v.SetDefault("closed_reasons", []string{"completed", "wont_do", "duplicate", "expired"})
	v.SetDefault("domains", []string{})
	v.SetDefault("task_types", []string{"feature", "bug", "refactor", "chore", "docs", "test"})
	v.SetDefault("complexity", []string{"XS", "S", "M", "L", "XL"})
	v.SetDefault("agents", map[string]string{})
	v.SetDefault("criterion_types", []string{"manual", "code", "test", "file"})
	v.SetDefault("blocker_types", []string{"external", "decision", "dependency", "infra"})
	v.SetDefault("review_categories", []string{"correctness", "style", "performance", "security", "testing"})
	v.SetDefault("review_severities", []string{"critical", "major", "minor", "nit"})

	v.SetDefault("dupes.check_threshold", 0.82)
	v.SetDefault("dupes.similar_threshold", 0.6)
	v.SetDefault("dupes.strip_prefixes", []string{"[Deferred]", "[Optional]"})

	v.SetDefault("merge.mode", "local")
	v.SetDefault("merge.target_branch", "main")

	v.SetDefault("review.reviewers", []string{})

	v.SetDefault("loop.agent", "claude")
	v.SetDefault("loop.max_tasks", 5)

	v.SetDefault("transcripts.dir", "")
}

// Default returns the built-in default configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
