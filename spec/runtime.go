package spec

import "context"

// Target is a parsed dispatch target: "skill.command" or a bare skill
// name for the help/metadata form. See parseTarget in dispatch.go for
// the grammar.
type Target struct {
	SkillID SkillID
	Command string // empty for a bare-skill "help" lookup
}

// Dispatcher is the single entry point every caller (CLI harness, tests,
// an eventual LLM-facing adapter) goes through. Implemented by Kernel in
// the root package; declared here so internal packages can depend on the
// contract without importing the root package (which would be a cycle).
type Dispatcher interface {
	// Invoke resolves target against the active session, running the
	// Gatekeeper/Resident-Set/Registry pipeline in spec §4.3's order, and
	// returns a Result that is never a bare Go error for skill-facing
	// failures — see KernelError.
	Invoke(ctx context.Context, sessionID SessionID, target string, args map[string]any) Result

	// ResetSession clears a session's active-skill set and checkpoint,
	// without unloading the skills themselves from the Resident Set.
	ResetSession(ctx context.Context, sessionID SessionID) error
}

// CommandFactory resolves a skill's compiled-in command table by id. A
// scripted skill has no factory entry; its commands are populated purely
// from commands.json + a shell-script ScriptRunner hook instead.
type CommandFactory interface {
	Commands(id SkillID) (map[string]Command, bool)
}

// ScriptRunner executes a skill's script-backed command when no
// CommandFactory entry covers it, mirroring the teacher's RunScript
// exec.Command plumbing.
type ScriptRunner interface {
	Run(ctx context.Context, skillRoot string, scriptRelPath string, args map[string]any) (string, error)
}
