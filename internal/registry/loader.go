package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

// MetadataLookup is the subset of internal/metadata.Index the loader
// consults for load strategy (b) — lookup by id (spec §4.1 step "load").
type MetadataLookup interface {
	Get(id spec.SkillID) (spec.MetadataRecord, bool)
}

// GhostSearch is the subset of internal/ghost.Index the loader consults
// for load strategy (c) — semantic query.
type GhostSearch interface {
	Search(ctx context.Context, query string, limit int, threshold float64, exclude map[spec.SkillID]struct{}) ([]spec.GhostResult, error)
}

// Loader resolves a skill id to a directory and materializes a
// spec.Skill from it, implementing spec §4.1's three-strategy resolution
// and its single-pass loading procedure. It also satisfies
// internal/resident.Loader so the Resident Set can drive freshness
// checks and reloads through the same type.
type Loader struct {
	skillsRoot string
	metadata   MetadataLookup
	ghost      GhostSearch
	factory    spec.CommandFactory
	runner     spec.ScriptRunner

	// perSkill serializes load/reload of a single id (spec §5: "Per-skill
	// operations ... are serialized by a per-skill fair lock keyed by
	// skill-id").
	mu       sync.Mutex
	perSkill map[spec.SkillID]*sync.Mutex
}

// Config configures a new Loader.
type Config struct {
	SkillsRoot string
	Metadata   MetadataLookup
	Ghost      GhostSearch // optional; strategy (c) is skipped if nil
	Factory    spec.CommandFactory
	Runner     spec.ScriptRunner
}

// New builds a Loader.
func New(cfg Config) *Loader {
	return &Loader{
		skillsRoot: cfg.SkillsRoot,
		metadata:   cfg.Metadata,
		ghost:      cfg.Ghost,
		factory:    cfg.Factory,
		runner:     cfg.Runner,
		perSkill:   map[spec.SkillID]*sync.Mutex{},
	}
}

func (l *Loader) lockFor(id spec.SkillID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.perSkill[id]
	if !ok {
		m = &sync.Mutex{}
		l.perSkill[id] = m
	}
	return m
}

// Load resolves id to a directory via the three strategies in order —
// direct path, Metadata Index, Ghost Index semantic query — and runs the
// single-pass loading procedure on the first directory that locates a
// valid SKILL.md (spec §4.1).
func (l *Loader) Load(ctx context.Context, id spec.SkillID) (*spec.Skill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := l.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	dir, err := l.resolveDir(ctx, id)
	if err != nil {
		return nil, err
	}

	return l.loadFromDir(id, dir)
}

// Reload re-runs the loading procedure for an already-resolved skill and
// atomically swaps its command table, permissions, and protocol text.
// Satisfies internal/resident.Loader.
func (l *Loader) Reload(ctx context.Context, sk *spec.Skill) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := l.lockFor(sk.ID)
	lock.Lock()
	defer lock.Unlock()

	fresh, err := l.loadFromDir(sk.ID, sk.RootDir)
	if err != nil {
		// Loader failures do not poison the Resident Set (spec §7): the
		// old Skill, untouched below, remains authoritative.
		return err
	}

	sk.Name = fresh.Name
	sk.Version = fresh.Version
	sk.Description = fresh.Description
	sk.Permissions = fresh.Permissions
	sk.ProtocolText = fresh.ProtocolText
	sk.Commands = fresh.Commands
	sk.ModTime = fresh.ModTime
	sk.ContentHash = fresh.ContentHash
	return nil
}

// StatModTime samples the max mtime across a skill's source files
// without re-parsing anything, for the Resident Set's cheap freshness
// check. Satisfies internal/resident.Loader.
func (l *Loader) StatModTime(ctx context.Context, sk *spec.Skill) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return maxModTime(sk.RootDir)
}

func (l *Loader) resolveDir(ctx context.Context, id spec.SkillID) (string, error) {
	// Strategy (a): direct path lookup under the configured skills root.
	if l.skillsRoot != "" {
		direct := filepath.Join(l.skillsRoot, string(id))
		if st, err := os.Stat(filepath.Join(direct, definitionFileName)); err == nil && !st.IsDir() {
			return direct, nil
		}
	}

	// Strategy (b): lookup in the Metadata Index by id.
	if l.metadata != nil {
		if rec, ok := l.metadata.Get(id); ok && rec.Path != "" {
			if st, err := os.Stat(filepath.Join(rec.Path, definitionFileName)); err == nil && !st.IsDir() {
				return rec.Path, nil
			}
		}
	}

	// Strategy (c): semantic query over the Ghost Index.
	if l.ghost != nil {
		results, err := l.ghost.Search(ctx, string(id), 10, 0.5, nil)
		if err == nil {
			for _, r := range results {
				if r.SkillID != id {
					continue
				}
				if l.metadata != nil {
					if rec, ok := l.metadata.Get(r.SkillID); ok && rec.Path != "" {
						return rec.Path, nil
					}
				}
			}
		}
	}

	return "", fmt.Errorf("%w: %s", spec.ErrSkillNotFound, id)
}

func (l *Loader) loadFromDir(id spec.SkillID, dir string) (*spec.Skill, error) {
	fm, protocol, err := readDefinition(dir)
	if err != nil {
		return nil, err
	}

	scripts, err := discoverScripts(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: listing scripts: %v", spec.ErrMalformedSkill, err)
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	table, err := buildCommandTable(id, dir, scripts, manifest, l.factory, l.runner)
	if err != nil {
		return nil, err
	}

	mtime, err := maxModTime(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", spec.ErrMalformedSkill, err)
	}

	hash, err := contentHash(dir, scripts)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing: %v", spec.ErrMalformedSkill, err)
	}

	return &spec.Skill{
		ID:           id,
		RootDir:      dir,
		Name:         fm.Name,
		Version:      fm.Version,
		Description:  fm.Description,
		Permissions:  normalizePermissions(fm.Permissions),
		ProtocolText: protocol,
		Commands:     table,
		ModTime:      mtime,
		ContentHash:  hash,
	}, nil
}

// normalizePermissions rewrites each declared permission string to
// "category:action" form, accepting either "." or ":" as the delimiter
// the skill author used (spec §4.4: "Both ':' and '.' delimiters in
// declarations are accepted and normalised to ':'").
func normalizePermissions(raw []string) []string {
	out := make([]string, len(raw))
	for i, p := range raw {
		out[i] = strings.Replace(p, ".", ":", 1)
	}
	return out
}

func maxModTime(dir string) (time.Time, error) {
	var max time.Time
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(max) {
			max = info.ModTime()
		}
	}
	return max, nil
}

func scriptCommandFunc(runner spec.ScriptRunner, root, rel string) spec.CommandFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		out, err := runner.Run(ctx, root, rel, args)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", spec.ErrCommandFailed, err)
		}
		return out, nil
	}
}
