package metadata

import (
	"path/filepath"
	"testing"

	"github.com/flexigpt/skillkernel-go/spec"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(idx.All()) != 0 {
		t.Fatalf("expected empty index, got %d records", len(idx.All()))
	}
}

func TestRebuildPersistsAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	records := []spec.MetadataRecord{
		{ID: "git", Path: "/skills/git", ContentHash: "abc123"},
		{ID: "notes", Path: "/skills/notes", ContentHash: "def456"},
	}
	if err := idx.Rebuild(records); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(reopened.All()) != 2 {
		t.Fatalf("reopened index has %d records, want 2", len(reopened.All()))
	}
	rec, ok := reopened.Get("git")
	if !ok || rec.ContentHash != "abc123" {
		t.Fatalf("Get(git) = %+v, ok=%v", rec, ok)
	}
}

func TestContentHashChanged(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Rebuild([]spec.MetadataRecord{{ID: "git", ContentHash: "v1"}}); err != nil {
		t.Fatal(err)
	}

	if idx.ContentHashChanged("git", "v1") {
		t.Fatalf("unchanged hash should report false")
	}
	if !idx.ContentHashChanged("git", "v2") {
		t.Fatalf("changed hash should report true")
	}
	if !idx.ContentHashChanged("unknown", "whatever") {
		t.Fatalf("unindexed id should report true")
	}
}
