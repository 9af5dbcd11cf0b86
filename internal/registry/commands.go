package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flexigpt/skillkernel-go/spec"
)

// commandEntry is one entry of a skill directory's commands.json, the
// Go-native stand-in for the distilled spec's language-neutral
// EXPOSED_COMMANDS module-level mapping (spec §9 "Duck-typed command
// declarations → structured types"): {"command_name": {description,
// category}}. The callable itself is resolved separately, either from a
// CommandFactory (compiled-in skills) or a ScriptRunner-backed shell
// script of the same base name (spec §6 "script files").
type commandEntry struct {
	Description string         `json:"description"`
	Category    spec.Category  `json:"category"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// readManifest parses dir/commands.json into a map of commandEntry
// records keyed by command name. A missing manifest is not an error: a skill
// with only compiled-in (CommandFactory) commands need not declare one.
func readManifest(dir string) (map[string]commandEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]commandEntry{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", spec.ErrMalformedSkill, manifestFileName, err)
	}

	var entries map[string]commandEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", spec.ErrMalformedSkill, manifestFileName, err)
	}
	return entries, nil
}

// buildCommandTable merges a skill's declared manifest entries with any
// compiled-in CommandFactory table and script-backed fallbacks. A
// command name repeated as a key in commands.json is not reported:
// readManifest decodes into a map, so encoding/json keeps the last value
// and the ErrDuplicateCommand check below never fires for manifest input.
// A native command with the same name as a manifest entry backs that
// entry rather than counting as a duplicate.
func buildCommandTable(
	id spec.SkillID,
	dir string,
	scripts []string,
	manifest map[string]commandEntry,
	factory spec.CommandFactory,
	runner spec.ScriptRunner,
) (map[string]spec.Command, error) {
	table := make(map[string]spec.Command, len(manifest))

	var native map[string]spec.Command
	if factory != nil {
		if m, ok := factory.Commands(id); ok {
			native = m
		}
	}

	scriptByBase := make(map[string]string, len(scripts))
	for _, s := range scripts {
		base := s[:len(s)-len(filepath.Ext(s))]
		scriptByBase[base] = s
	}

	for name, entry := range manifest {
		if _, dup := table[name]; dup {
			return nil, fmt.Errorf("%w: %s declared twice in %s", spec.ErrDuplicateCommand, name, manifestFileName)
		}

		cmd := spec.Command{
			Name:        name,
			Description: entry.Description,
			Category:    entry.Category,
			Schema:      entry.Schema,
		}

		switch {
		case native != nil && native[name].Func != nil:
			cmd.Func = native[name].Func
		case runner != nil:
			scriptPath, ok := scriptByBase[name]
			if !ok {
				return nil, fmt.Errorf("%w: no script or native implementation backs command %q", spec.ErrMalformedSkill, name)
			}
			root, rel := dir, scriptPath
			cmd.Func = scriptCommandFunc(runner, root, rel)
		default:
			return nil, fmt.Errorf("%w: no script or native implementation backs command %q", spec.ErrMalformedSkill, name)
		}

		table[name] = cmd
	}

	// Compiled-in commands not mentioned in commands.json are still
	// exposed — a purely native skill may skip the manifest entirely.
	for name, cmd := range native {
		if _, exists := table[name]; exists {
			continue
		}
		table[name] = cmd
	}

	return table, nil
}
