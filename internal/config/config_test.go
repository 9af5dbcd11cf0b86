package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	d := Default()
	if d.MaxResidentSkills != 15 {
		t.Fatalf("MaxResidentSkills = %d, want 15", d.MaxResidentSkills)
	}
	if d.GhostSearchLimit != 5 {
		t.Fatalf("GhostSearchLimit = %d, want 5", d.GhostSearchLimit)
	}
	if d.GhostSimilarityThreshold != 0.5 {
		t.Fatalf("GhostSimilarityThreshold = %f, want 0.5", d.GhostSimilarityThreshold)
	}
	if d.ActiveSkillCognitiveThreshold != 5 {
		t.Fatalf("ActiveSkillCognitiveThreshold = %d, want 5", d.ActiveSkillCognitiveThreshold)
	}
	if d.ReloadPollIntervalS != 2 {
		t.Fatalf("ReloadPollIntervalS = %d, want 2", d.ReloadPollIntervalS)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxResidentSkills != 15 {
		t.Fatalf("expected defaults when config file is absent, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.toml")
	body := "max_resident_skills = 7\nskills_root_path = \"/srv/skills\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxResidentSkills != 7 {
		t.Fatalf("MaxResidentSkills = %d, want 7", cfg.MaxResidentSkills)
	}
	if cfg.SkillsRootPath != "/srv/skills" {
		t.Fatalf("SkillsRootPath = %q, want /srv/skills", cfg.SkillsRootPath)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SKILLKERNEL_MAX_RESIDENT_SKILLS", "42")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxResidentSkills != 42 {
		t.Fatalf("MaxResidentSkills = %d, want 42 from env override", cfg.MaxResidentSkills)
	}
}

func TestValidateRejectsNonPositiveMaxResident(t *testing.T) {
	cfg := Default()
	cfg.MaxResidentSkills = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero MaxResidentSkills")
	}
}
