package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

type fakeFactory struct {
	commands map[spec.SkillID]map[string]spec.Command
}

func (f *fakeFactory) Commands(id spec.SkillID) (map[string]spec.Command, bool) {
	m, ok := f.commands[id]
	return m, ok
}

func writeSkillDir(t *testing.T, root, id, permissions string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	def := "---\nname: " + id + "\nversion: \"1.0\"\ndescription: a test skill\n" + permissions + "\n---\nUSE add/subtract ONLY\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := `{"noop": {"description": "does nothing", "category": "read"}}`
	if err := os.WriteFile(filepath.Join(dir, "commands.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadDirectPathStrategy(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "calculator", "permissions:\n  - \"*\"")

	factory := &fakeFactory{commands: map[spec.SkillID]map[string]spec.Command{
		"calculator": {"noop": {Name: "noop", Func: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }}},
	}}
	l := New(Config{SkillsRoot: root, Factory: factory})

	sk, err := l.Load(context.Background(), "calculator")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sk.Name != "calculator" {
		t.Fatalf("Name = %q, want calculator", sk.Name)
	}
	if sk.ProtocolText == "" {
		t.Fatalf("expected non-empty protocol text")
	}
	if _, ok := sk.Commands["noop"]; !ok {
		t.Fatalf("expected noop command in table")
	}
	if len(sk.Permissions) != 1 || sk.Permissions[0] != "*" {
		t.Fatalf("Permissions = %v", sk.Permissions)
	}
}

func TestLoadMissingDefinitionFails(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}
	l := New(Config{SkillsRoot: root})

	_, err := l.Load(context.Background(), "broken")
	if err == nil {
		t.Fatal("expected error for missing SKILL.md")
	}
}

func TestLoadUnknownSkillNotFound(t *testing.T) {
	l := New(Config{SkillsRoot: t.TempDir()})
	_, err := l.Load(context.Background(), "ghost-only")
	if err == nil {
		t.Fatal("expected SkillNotFound error")
	}
}

func TestReloadPicksUpChangedPermissions(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "git", "permissions:\n  - \"git:*\"")
	factory := &fakeFactory{commands: map[spec.SkillID]map[string]spec.Command{
		"git": {"noop": {Name: "noop", Func: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }}},
	}}
	l := New(Config{SkillsRoot: root, Factory: factory})

	sk, err := l.Load(context.Background(), "git")
	if err != nil {
		t.Fatal(err)
	}

	// Give the rewritten files a later mtime, as a real edit would; Reload
	// itself re-reads the directory without comparing mtimes.
	time.Sleep(10 * time.Millisecond)
	writeSkillDir(t, root, "git", "permissions:\n  - \"*\"")

	if err := l.Reload(context.Background(), sk); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(sk.Permissions) != 1 || sk.Permissions[0] != "*" {
		t.Fatalf("Permissions after reload = %v, want [*]", sk.Permissions)
	}
}
