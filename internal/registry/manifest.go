// Package registry implements the Skill Registry & JIT Loader (spec
// §4.1): resolve a skill id to a directory, parse its definition file
// and command manifest, and produce a loaded spec.Skill.
//
// Grounded directly on the teacher's internal/skill/skillmd.go: the same
// "---"-fenced YAML frontmatter split, symlink rejection, size-capped
// read-and-digest, and name/description validation are reused nearly
// verbatim, generalised from the teacher's fixed SkillRecord shape to
// this spec's Skill/Command/permission/protocol-text model.
package registry

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flexigpt/skillkernel-go/spec"
)

const (
	definitionFileName = "SKILL.md"
	manifestFileName   = "commands.json"
	maxDefinitionBytes = 2 << 20 // 2 MiB, matching the teacher's SKILL.md cap
)

// frontmatter is the parsed metadata header of a skill's definition
// file (spec §6: name, version, description, permissions).
type frontmatter struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// readDefinition reads dir/SKILL.md, splits it into frontmatter and
// protocol text, and validates the required fields. Returns
// MalformedSkill on any structural problem, matching spec §4.1 step 1.
func readDefinition(dir string) (frontmatter, string, error) {
	loc := filepath.Join(dir, definitionFileName)

	if lst, lerr := os.Lstat(loc); lerr == nil {
		if lst.Mode()&os.ModeSymlink != 0 {
			return frontmatter{}, "", fmt.Errorf("%w: %s must not be a symlink", spec.ErrMalformedSkill, definitionFileName)
		}
	}

	data, err := readLimited(loc, maxDefinitionBytes)
	if err != nil {
		if os.IsNotExist(err) {
			return frontmatter{}, "", fmt.Errorf("%w: missing %s in %s", spec.ErrMalformedSkill, definitionFileName, dir)
		}
		return frontmatter{}, "", fmt.Errorf("%w: %s", spec.ErrMalformedSkill, err)
	}

	fm, protocol, has, err := splitFrontmatter(string(data))
	if err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: %s", spec.ErrMalformedSkill, err)
	}
	if !has {
		return frontmatter{}, "", fmt.Errorf("%w: %s must contain a --- fenced frontmatter block", spec.ErrMalformedSkill, definitionFileName)
	}

	var fmv frontmatter
	if err := yaml.Unmarshal([]byte(fm), &fmv); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: invalid frontmatter YAML: %v", spec.ErrMalformedSkill, err)
	}
	fmv.Name = strings.TrimSpace(fmv.Name)
	fmv.Description = strings.TrimSpace(fmv.Description)

	if err := validateName(fmv.Name, filepath.Base(dir)); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: %v", spec.ErrMalformedSkill, err)
	}
	if fmv.Description == "" {
		return frontmatter{}, "", fmt.Errorf("%w: description is required", spec.ErrMalformedSkill)
	}

	protocol = strings.Trim(protocol, "\r\n")
	return fmv, protocol, nil
}

func splitFrontmatter(s string) (frontmatter, body string, has bool, err error) {
	br := bufio.NewReader(strings.NewReader(s))

	first, ferr := br.ReadString('\n')
	if ferr != nil && !errors.Is(ferr, io.EOF) {
		return "", "", false, ferr
	}
	first = strings.TrimRight(first, "\r\n")
	if strings.TrimSpace(first) != "---" {
		return "", s, false, nil
	}

	var lines []string
	found := false
	for {
		line, lerr := br.ReadString('\n')
		if lerr != nil && !errors.Is(lerr, io.EOF) {
			return "", "", false, lerr
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) == "---" {
			found = true
			break
		}
		lines = append(lines, trimmed)
		if errors.Is(lerr, io.EOF) {
			break
		}
	}
	if !found {
		return "", "", false, errors.New("unterminated frontmatter (missing closing ---)")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return "", "", false, err
	}
	return strings.Join(lines, "\n"), string(rest), true, nil
}

func validateName(name, dirBase string) error {
	if name == "" {
		return errors.New("frontmatter.name is required")
	}
	if len(name) > 64 {
		return errors.New("frontmatter.name too long (max 64)")
	}
	if name != dirBase {
		return fmt.Errorf("frontmatter.name %q must match directory name %q", name, dirBase)
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return errors.New("frontmatter.name must not start or end with '-'")
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return fmt.Errorf("frontmatter.name contains invalid character %q", string(r))
	}
	return nil
}

func readLimited(path string, max int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > max {
		return nil, fmt.Errorf("%s exceeds max size (%d bytes)", path, max)
	}
	return data, nil
}

// discoverScripts lists script files directly under dir whose names do
// not begin with "_" (spec §4.1 step 2: "__init__-like files are
// skipped"). Only regular files are considered; subdirectories (e.g.
// tests/) are ignored, matching spec §6's "Optional tests/ directory —
// ignored by the kernel".
func discoverScripts(dir fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == definitionFileName || name == manifestFileName {
			continue
		}
		if strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// contentHash computes a stable sha256 digest over the definition file
// and every discovered script file's contents, in sorted name order, for
// the Skill.ContentHash / Metadata Index invalidation key.
func contentHash(dir string, scripts []string) (string, error) {
	h := sha256.New()

	defData, err := os.ReadFile(filepath.Join(dir, definitionFileName))
	if err != nil {
		return "", err
	}
	h.Write(defData)

	sorted := append([]string(nil), scripts...)
	sort.Strings(sorted)
	for _, name := range sorted {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		h.Write([]byte(name))
		h.Write(data)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
