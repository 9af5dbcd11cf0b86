package ghost

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/flexigpt/skillkernel-go/spec"
)

type fakeMetadata struct {
	records []spec.MetadataRecord
}

func (f *fakeMetadata) All() []spec.MetadataRecord { return f.records }

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebuildAndKeywordSearch(t *testing.T) {
	db := openTestDB(t)
	meta := &fakeMetadata{records: []spec.MetadataRecord{
		{
			ID:       "git",
			Keywords: []string{"commit", "branch", "version control"},
			DeclaredCommands: []spec.CommandManifest{
				{Name: "commit", Description: "commit staged changes"},
			},
		},
		{
			ID:       "weather",
			Keywords: []string{"forecast", "temperature"},
			DeclaredCommands: []spec.CommandManifest{
				{Name: "forecast", Description: "get a forecast"},
			},
		},
	}}

	idx, err := New(db, Config{Metadata: meta})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	results, err := idx.Search(context.Background(), "commit my work", 5, 0.1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.SkillID == "git" {
			found = true
		}
		if r.SkillID == "weather" {
			t.Fatalf("unrelated skill %q should not match the keyword query", r.SkillID)
		}
	}
	if !found {
		t.Fatalf("expected git in results, got %+v", results)
	}
}

func TestSearchExcludesLoadedSkills(t *testing.T) {
	db := openTestDB(t)
	meta := &fakeMetadata{records: []spec.MetadataRecord{
		{ID: "git", Keywords: []string{"commit"}, DeclaredCommands: []spec.CommandManifest{{Name: "commit"}}},
	}}
	idx, err := New(db, Config{Metadata: meta})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	exclude := map[spec.SkillID]struct{}{"git": {}}
	results, err := idx.Search(context.Background(), "commit", 5, 0.1, exclude)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.SkillID == "git" {
			t.Fatalf("excluded (loaded) skill %q must not appear in ghost results", r.SkillID)
		}
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	records := make([]spec.MetadataRecord, 0, 10)
	for i := 0; i < 10; i++ {
		id := spec.SkillID(rune('a' + i))
		records = append(records, spec.MetadataRecord{
			ID:       id,
			Keywords: []string{"shared"},
			DeclaredCommands: []spec.CommandManifest{{Name: "noop"}},
		})
	}
	meta := &fakeMetadata{records: records}
	idx, err := New(db, Config{Metadata: meta, DefaultLimit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(context.Background(), "shared", 0, 0.1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 3 {
		t.Fatalf("len(results) = %d, want <= 3", len(results))
	}
}
