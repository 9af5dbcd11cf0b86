// Package config implements the Configuration component (spec §6): all
// kernel settings are optional, env-overridable, and have the defaults
// listed there.
//
// Grounded on clawinfra-evoclaw's internal/config.Config
// (DefaultConfig/Load/Save layering), with the file format switched from
// that example's encoding/json to github.com/BurntSushi/toml (carried
// from the same repo's dependency stack, unused by its own config.go but
// wired here since the spec calls out a file-backed, env-overridable
// configuration layer) and an optional .env load via
// github.com/joho/godotenv before the manual os.Getenv overrides are
// applied, matching the "file defaults, then env/CLI overrides" order
// evoclaw's own command wiring uses for its gateway config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds every kernel setting, all defaulted and all
// env-overridable (spec §6).
type Config struct {
	MaxResidentSkills       int      `toml:"max_resident_skills"`
	PinnedSkills            []string `toml:"pinned_skills"`
	GhostSearchLimit        int      `toml:"ghost_search_limit"`
	GhostSimilarityThreshold float64 `toml:"ghost_similarity_threshold"`
	ActiveSkillCognitiveThreshold int `toml:"active_skill_cognitive_threshold"`
	PerCommandTimeoutS      int      `toml:"per_command_timeout_s"`
	ReloadPollIntervalS     int      `toml:"reload_poll_interval_s"`
	SkillsRootPath          string   `toml:"skills_root_path"`
	MetadataIndexPath       string   `toml:"metadata_index_path"`
}

// Default returns the spec §6 defaults.
func Default() Config {
	return Config{
		MaxResidentSkills:             15,
		PinnedSkills:                  []string{"filesystem", "terminal", "writer", "git", "note_taker"},
		GhostSearchLimit:              5,
		GhostSimilarityThreshold:      0.5,
		ActiveSkillCognitiveThreshold: 5,
		PerCommandTimeoutS:            60,
		ReloadPollIntervalS:           2,
		SkillsRootPath:                "./skills",
		MetadataIndexPath:             "./.skillkernel/metadata.json",
	}
}

// PerCommandTimeout returns PerCommandTimeoutS as a time.Duration.
func (c Config) PerCommandTimeout() time.Duration {
	return time.Duration(c.PerCommandTimeoutS) * time.Second
}

// ReloadPollInterval returns ReloadPollIntervalS as a time.Duration.
func (c Config) ReloadPollInterval() time.Duration {
	return time.Duration(c.ReloadPollIntervalS) * time.Second
}

// Load builds a Config starting from Default(), overlaying an optional
// TOML file at path (skipped silently if it doesn't exist — every field
// is optional per spec §6), then an optional .env file, then literal
// environment variables. Later layers win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	// .env is best-effort: an operator without one is the common case,
	// not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SKILLKERNEL_MAX_RESIDENT_SKILLS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxResidentSkills = n
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_PINNED_SKILLS"); ok {
		cfg.PinnedSkills = splitCommaList(v)
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_GHOST_SEARCH_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GhostSearchLimit = n
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_GHOST_SIMILARITY_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GhostSimilarityThreshold = f
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_ACTIVE_SKILL_COGNITIVE_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ActiveSkillCognitiveThreshold = n
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_PER_COMMAND_TIMEOUT_S"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PerCommandTimeoutS = n
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_RELOAD_POLL_INTERVAL_S"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReloadPollIntervalS = n
		}
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_SKILLS_ROOT_PATH"); ok {
		cfg.SkillsRootPath = v
	}
	if v, ok := os.LookupEnv("SKILLKERNEL_METADATA_INDEX_PATH"); ok {
		cfg.MetadataIndexPath = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports configuration errors that should map to the CLI
// harness's exit code 2 ("malformed configuration") per spec §6.
func (c Config) Validate() error {
	if c.MaxResidentSkills <= 0 {
		return fmt.Errorf("max_resident_skills must be positive, got %d", c.MaxResidentSkills)
	}
	if c.GhostSearchLimit <= 0 {
		return fmt.Errorf("ghost_search_limit must be positive, got %d", c.GhostSearchLimit)
	}
	if c.GhostSimilarityThreshold < 0 || c.GhostSimilarityThreshold > 1 {
		return fmt.Errorf("ghost_similarity_threshold must be in [0,1], got %f", c.GhostSimilarityThreshold)
	}
	if c.ActiveSkillCognitiveThreshold <= 0 {
		return fmt.Errorf("active_skill_cognitive_threshold must be positive, got %d", c.ActiveSkillCognitiveThreshold)
	}
	if c.PerCommandTimeoutS <= 0 {
		return fmt.Errorf("per_command_timeout_s must be positive, got %d", c.PerCommandTimeoutS)
	}
	if c.ReloadPollIntervalS <= 0 {
		return fmt.Errorf("reload_poll_interval_s must be positive, got %d", c.ReloadPollIntervalS)
	}
	if c.SkillsRootPath == "" {
		return fmt.Errorf("skills_root_path must not be empty")
	}
	return nil
}
