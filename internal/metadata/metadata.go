// Package metadata implements the Metadata Index (spec §3, §6): an
// on-disk JSON array of MetadataRecords, rebuilt by an offline/background
// scan and swapped in atomically via rename so readers never observe a
// half-written file.
//
// Grounded on the teacher's JSON-file-as-source-of-truth pattern in
// clawinfra-evoclaw's internal/config.Config (Load/Save via
// os.ReadFile/os.WriteFile) — adapted here to add the atomic
// rename-based swap the spec calls for, which the config example does
// not need since it is operator-edited rather than background-rebuilt.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flexigpt/skillkernel-go/spec"
)

// Index is the in-memory, read-mostly view of the Metadata Index file.
// Reads never block on a rebuild: Rebuild constructs the new slice
// off to the side and swaps the pointer under a short lock.
type Index struct {
	mu   sync.RWMutex
	path string

	byID map[spec.SkillID]spec.MetadataRecord
}

// Open loads path if it exists, starting empty otherwise (first-run
// case: no prior scan has happened).
func Open(path string) (*Index, error) {
	idx := &Index{path: path, byID: map[spec.SkillID]spec.MetadataRecord{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read metadata index %s: %w", path, err)
	}

	var records []spec.MetadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse metadata index %s: %w", path, err)
	}
	for _, r := range records {
		idx.byID[r.ID] = r
	}
	return idx, nil
}

// Get returns the record for id, if discovered.
func (idx *Index) Get(id spec.SkillID) (spec.MetadataRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byID[id]
	return r, ok
}

// All returns a copy of every record, for Ghost Index rebuilds.
func (idx *Index) All() []spec.MetadataRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]spec.MetadataRecord, 0, len(idx.byID))
	for _, r := range idx.byID {
		out = append(out, r)
	}
	return out
}

// Rebuild replaces the entire index with records and persists it to
// disk via a temp-file-then-rename swap, so a reader never sees a
// partially written file. Invalidation of a single record happens by
// recomputing its content hash and including it in records — there is
// no separate per-record invalidate call, matching spec §3's "invalidated
// when content hash changes; rebuilt in background" lifecycle.
func (idx *Index) Rebuild(records []spec.MetadataRecord) error {
	next := make(map[spec.SkillID]spec.MetadataRecord, len(records))
	for _, r := range records {
		next[r.ID] = r
	}

	if idx.path != "" {
		if err := idx.persist(records); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.byID = next
	idx.mu.Unlock()
	return nil
}

func (idx *Index) persist(records []spec.MetadataRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata index: %w", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create metadata index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create metadata index temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata index temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata index temp file: %w", err)
	}

	if err := os.Rename(tmpPath, idx.path); err != nil {
		return fmt.Errorf("swap metadata index: %w", err)
	}
	return nil
}

// ContentHashChanged reports whether id's currently indexed content hash
// differs from hash (or id is not yet indexed at all) — the trigger
// condition for a per-skill re-index during an incremental rebuild.
func (idx *Index) ContentHashChanged(id spec.SkillID, hash string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byID[id]
	return !ok || r.ContentHash != hash
}
