// Package ghost implements the Ghost-Tool Index (spec §4.5): semantic +
// keyword discovery over skills that are not currently resident, so the
// LLM can find and trigger a skill it hasn't loaded yet.
//
// Grounded on the EmbeddingEngine/CosineSimilarity/threshold shape in
// other_examples' switchAILocal skills registry (semantic half), fused
// with a modernc.org/sqlite FTS5 virtual table (keyword half) carried
// from clawinfra-evoclaw's and julianshen-rubichan's dependency stacks —
// the spec's "vector + keyword index" is naturally two complementary
// candidate sources merged by score, not one.
package ghost

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flexigpt/skillkernel-go/spec"
)

// VectorBackend is the opaque, pluggable nearest-neighbour backend the
// spec treats as an external collaborator (spec §1). The kernel only
// ever calls Embed/CosineSimilarity through this seam.
type VectorBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	CosineSimilarity(a, b []float32) float64
}

// MetadataSource is the subset of internal/metadata.Index the Ghost
// Index reads from.
type MetadataSource interface {
	All() []spec.MetadataRecord
}

// Config configures an Index.
type Config struct {
	Metadata MetadataSource
	Vector   VectorBackend // optional; keyword search alone still works

	// DefaultLimit and DefaultThreshold mirror spec §6
	// (ghost_search_limit=5, ghost_similarity_threshold=0.5).
	DefaultLimit     int
	DefaultThreshold float64

	// RebuildBurst bounds how often rebuild() actually runs when a burst
	// of file/changed events fires; golang.org/x/time/rate collapses the
	// storm into one rebuild per refill interval.
	RebuildBurst rate.Limit

	Logger *slog.Logger
}

// Index is the Ghost-Tool Index. Safe for concurrent use; rebuild swaps
// an internal snapshot under a short lock so concurrent searches never
// block on a rebuild.
type Index struct {
	meta   MetadataSource
	vector VectorBackend

	defaultLimit     int
	defaultThreshold float64

	limiter *rate.Limiter
	log     *slog.Logger

	mu        sync.RWMutex
	snapshot  []spec.MetadataRecord
	db        *sql.DB // FTS5 keyword table over the current snapshot
}

// New builds an Index. db is an open *sql.DB (modernc.org/sqlite driver)
// the caller owns; New creates its own FTS5 virtual table inside it.
func New(db *sql.DB, cfg Config) (*Index, error) {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 5
	}
	threshold := cfg.DefaultThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	burst := cfg.RebuildBurst
	if burst <= 0 {
		burst = rate.Every(1)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS ghost_fts USING fts5(skill_id UNINDEXED, text)`); err != nil {
		return nil, fmt.Errorf("create ghost fts5 table: %w", err)
	}

	return &Index{
		meta:             cfg.Metadata,
		vector:           cfg.Vector,
		defaultLimit:     limit,
		defaultThreshold: threshold,
		limiter:          rate.NewLimiter(burst, 1),
		log:              log,
		db:               db,
	}, nil
}

// Rebuild reindexes from the Metadata Index, throttled so a burst of
// file/changed events collapses into one rebuild. Idempotent: callers
// may invoke it from multiple event handlers without coordination.
func (idx *Index) Rebuild(ctx context.Context) error {
	if !idx.limiter.Allow() {
		idx.log.Debug("ghost: rebuild throttled")
		return nil
	}

	records := idx.meta.All()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ghost rebuild: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ghost_fts`); err != nil {
		return fmt.Errorf("ghost rebuild: clear fts: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ghost_fts (skill_id, text) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("ghost rebuild: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		text := r.ProtocolTextTrunc
		for _, kw := range r.Keywords {
			text += " " + kw
		}
		for _, c := range r.DeclaredCommands {
			text += " " + c.Name + " " + c.Description
		}
		if _, err := stmt.ExecContext(ctx, string(r.ID), text); err != nil {
			return fmt.Errorf("ghost rebuild: insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ghost rebuild: commit: %w", err)
	}

	idx.mu.Lock()
	idx.snapshot = records
	idx.mu.Unlock()
	return nil
}

// Search returns at most limit candidate (skill, command) tuples for
// query, excluding any skill id present in exclude (the loaded-skills
// shadow rule, spec §4.5: "Loaded skills shadow ghosts"). Results below
// threshold are dropped. limit<=0 and threshold<=0 fall back to the
// index's configured defaults.
func (idx *Index) Search(ctx context.Context, query string, limit int, threshold float64, exclude map[spec.SkillID]struct{}) ([]spec.GhostResult, error) {
	if limit <= 0 {
		limit = idx.defaultLimit
	}
	if threshold <= 0 {
		threshold = idx.defaultThreshold
	}

	keywordHits, err := idx.keywordSearch(ctx, query)
	if err != nil {
		idx.log.Warn("ghost: keyword search failed", "error", err)
	}

	idx.mu.RLock()
	records := idx.snapshot
	idx.mu.RUnlock()

	scores := make(map[spec.SkillID]float64, len(keywordHits))
	for id := range keywordHits {
		scores[id] = 0.5 // a bare keyword hit is a baseline match
	}

	if idx.vector != nil {
		qEmbed, err := idx.vector.Embed(ctx, query)
		if err != nil {
			idx.log.Warn("ghost: query embedding failed, falling back to keyword-only", "error", err)
		} else {
			for _, r := range records {
				if r.Embedding == nil {
					continue
				}
				sim := idx.vector.CosineSimilarity(qEmbed, r.Embedding)
				if sim > scores[r.ID] {
					scores[r.ID] = sim
				}
			}
		}
	}

	results := make([]spec.GhostResult, 0, len(scores))
	for _, r := range records {
		if _, excluded := exclude[r.ID]; excluded {
			continue
		}
		score, ok := scores[r.ID]
		if !ok || score < threshold {
			continue
		}
		for _, c := range r.DeclaredCommands {
			results = append(results, spec.GhostResult{
				SkillID: r.ID,
				Command: c.Name,
				Schema:  c.Schema,
				Score:   score,
				Ghost:   true,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// keywordSearch returns the skills whose indexed text contains any of
// query's whitespace-separated terms.
func (idx *Index) keywordSearch(ctx context.Context, query string) (map[spec.SkillID]struct{}, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	match := strings.Join(terms, " OR ")
	rows, err := idx.db.QueryContext(ctx, `SELECT DISTINCT skill_id FROM ghost_fts WHERE ghost_fts MATCH ?`, match)
	if err != nil {
		return nil, fmt.Errorf("ghost keyword query: %w", err)
	}
	defer rows.Close()

	hits := map[spec.SkillID]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ghost keyword scan: %w", err)
		}
		hits[spec.SkillID(id)] = struct{}{}
	}
	return hits, rows.Err()
}
