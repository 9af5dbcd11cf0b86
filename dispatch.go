package skillkernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/flexigpt/skillkernel-go/internal/gatekeeper"
	"github.com/flexigpt/skillkernel-go/spec"
)

// Invoke is the Dispatch Gateway's sole externally visible operation
// (spec §4.3): parse target, resolve/JIT-load/freshen the skill, check
// permissions, run the command, and fold in session/eviction/cognitive-
// load bookkeeping — in that order, per call.
func (k *Kernel) Invoke(ctx context.Context, sessionID spec.SessionID, target string, args map[string]any) spec.Result {
	parsed, helpForm, err := parseTarget(target)
	if err != nil {
		return errResult(spec.ErrKindMalformedTarget, err.Error(), nil)
	}

	switch helpForm {
	case helpFormAll:
		return spec.Result{Value: k.helpSummary(ctx)}
	case helpFormSkill:
		return k.skillHelp(ctx, parsed.SkillID)
	}

	return k.invokeCommand(ctx, sessionID, parsed, args)
}

func (k *Kernel) invokeCommand(ctx context.Context, sessionID spec.SessionID, target spec.Target, args map[string]any) spec.Result {
	sk, ok := k.resident.Get(ctx, target.SkillID)
	if !ok {
		loaded, err := k.loader.Load(ctx, target.SkillID)
		if err != nil {
			return loadErrResult(err)
		}
		k.resident.Insert(loaded)
		k.events.Publish(ctx, spec.Event{Topic: spec.TopicSkillLoaded, Payload: map[string]any{"skill_id": string(target.SkillID)}})
		sk = loaded
	}

	cmd, ok := sk.Commands[target.Command]
	if !ok {
		return errResult(spec.ErrKindUnknownCommand, fmt.Sprintf("skill %q has no command %q", sk.ID, target.Command), map[string]any{
			"closest_commands": nearestCommands(target.Command, sk.Commands, 5),
		})
	}

	toolName := string(sk.ID) + "." + target.Command
	if gatekeeper.Check(sk.ID, toolName, sk.Permissions) == gatekeeper.Drift {
		payload := gatekeeper.Reanchor(toolName, sk.ProtocolText)
		return errResult(spec.ErrKindPermissionDenied, "active skill lacks the required permission", map[string]any{
			"protocol":       payload.Protocol,
			"attempted_tool": payload.AttemptedTool,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, k.cfg.PerCommandTimeout())
	defer cancel()

	release := k.resident.Acquire(sk.ID)
	value, cmdErr := k.callCommand(callCtx, cmd, args, release)
	k.resident.Touch(sk.ID)

	if cmdErr != nil {
		if callCtx.Err() != nil {
			return errResult(spec.ErrKindCancelled, "call cancelled", nil)
		}
		return errResult(spec.ErrKindCommandFailed, cmdErr.Error(), nil)
	}

	k.evictResource(toolName)

	sess, sessErr := k.sessions.GetOrCreate(ctx, sessionID)
	overThreshold := false
	if sessErr == nil {
		overThreshold = sess.WouldExceedCap(sk.ID)
		_ = sess.Activate(ctx, sk.ID)
	}

	return attachCognitiveLoadWarning(spec.Result{Value: value}, overThreshold)
}

// callCommand runs cmd.Func on its own goroutine and races it against
// ctx: a callable that ignores ctx and never returns must not block the
// gateway past the per-command timeout (spec §5). release is called by
// that goroutine when cmd.Func returns, even if the gateway has already
// stopped waiting; until then the skill stays in use and cannot be
// evicted. release itself is idempotent (resident.Set.Acquire's returned
// func is sync.Once-guarded).
func (k *Kernel) callCommand(ctx context.Context, cmd spec.Command, args map[string]any, release func()) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer release()
		value, err := cmd.Func(ctx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetSession clears a session's active-skill set and checkpoint (spec
// §8 scenario 6), without touching the Resident Set.
func (k *Kernel) ResetSession(ctx context.Context, sessionID spec.SessionID) error {
	sess, err := k.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Reset()
	return nil
}

type helpForm int

const (
	helpFormNone helpForm = iota
	helpFormSkill
	helpFormAll
)

// parseTarget implements spec §4.3's target grammar: "skill.command",
// bare "skill" (help form), the literal "help", or MalformedTarget.
func parseTarget(target string) (spec.Target, helpForm, error) {
	t := strings.TrimSpace(target)
	if t == "" {
		return spec.Target{}, helpFormNone, fmt.Errorf("empty target")
	}
	if t == "help" {
		return spec.Target{}, helpFormAll, nil
	}

	if idx := strings.Index(t, "."); idx >= 0 {
		skillPart := t[:idx]
		cmdPart := t[idx+1:]
		if skillPart == "" || cmdPart == "" || strings.Contains(cmdPart, ".") {
			return spec.Target{}, helpFormNone, fmt.Errorf("malformed target %q", target)
		}
		return spec.Target{SkillID: spec.SkillID(skillPart), Command: cmdPart}, helpFormNone, nil
	}

	// Bare "skill" form: help blob for that one skill.
	return spec.Target{SkillID: spec.SkillID(t)}, helpFormSkill, nil
}

func (k *Kernel) skillHelp(ctx context.Context, id spec.SkillID) spec.Result {
	sk, ok := k.resident.Get(ctx, id)
	if !ok {
		loaded, err := k.loader.Load(ctx, id)
		if err != nil {
			return loadErrResult(err)
		}
		k.resident.Insert(loaded)
		sk = loaded
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n%s\n\n", sk.Name, sk.Version, sk.Description)
	names := make([]string, 0, len(sk.Commands))
	for name := range sk.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := sk.Commands[name]
		fmt.Fprintf(&b, "- %s (%s): %s\n", name, c.Category, c.Description)
	}
	return spec.Result{Value: b.String()}
}

// helpSummary renders every discovered skill — resident and ghost alike
// — for the bare "help" target. Ghost skills are the Metadata Index
// records that are not currently resident.
func (k *Kernel) helpSummary(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("# Loaded skills\n\n")
	loaded := k.resident.Resident()
	exclude := make(map[spec.SkillID]struct{}, len(loaded))
	for _, id := range loaded {
		fmt.Fprintf(&b, "- %s\n", id)
		exclude[id] = struct{}{}
	}

	var ghosts []string
	for _, r := range k.metadata.All() {
		if _, ok := exclude[r.ID]; !ok {
			ghosts = append(ghosts, string(r.ID))
		}
	}
	sort.Strings(ghosts)
	if len(ghosts) > 0 {
		b.WriteString("\n# Discoverable (ghost) skills\n\n")
		for _, id := range ghosts {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return b.String()
}

// attachCognitiveLoadWarning implements spec §4.3 step 9: string results
// get the marker appended; structured results get it under the reserved
// "_cognition" key.
func attachCognitiveLoadWarning(res spec.Result, over bool) spec.Result {
	if !over {
		return res
	}
	const marker = "[COGNITIVE LOAD WARNING] active-skill count exceeds the configured threshold"

	switch v := res.Value.(type) {
	case string:
		res.Value = v + "\n" + marker
	case map[string]any:
		v["_cognition"] = marker
		res.Value = v
	default:
		res.Value = map[string]any{"value": v, "_cognition": marker}
	}
	return res
}

func errResult(kind spec.ErrKind, msg string, extra map[string]any) spec.Result {
	return spec.Result{Error: spec.NewKernelError(kind, msg, extra)}
}

// loadErrResult classifies a loader failure by the sentinel error it wraps.
func loadErrResult(err error) spec.Result {
	switch {
	case errors.Is(err, spec.ErrMalformedSkill):
		return errResult(spec.ErrKindMalformedSkill, err.Error(), nil)
	case errors.Is(err, spec.ErrDuplicateCommand):
		return errResult(spec.ErrKindDuplicateCommand, err.Error(), nil)
	}
	return errResult(spec.ErrKindSkillNotFound, err.Error(), nil)
}

// nearestCommands returns up to n command names in table ranked by
// Levenshtein distance to attempted, the "extra" hint spec §7 calls for
// on UnknownCommand.
func nearestCommands(attempted string, table map[string]spec.Command, n int) []string {
	type scored struct {
		name string
		dist int
	}
	scoredNames := make([]scored, 0, len(table))
	for name := range table {
		scoredNames = append(scoredNames, scored{name: name, dist: levenshtein(attempted, name)})
	}
	sort.Slice(scoredNames, func(i, j int) bool {
		if scoredNames[i].dist != scoredNames[j].dist {
			return scoredNames[i].dist < scoredNames[j].dist
		}
		return scoredNames[i].name < scoredNames[j].name
	})
	if len(scoredNames) > n {
		scoredNames = scoredNames[:n]
	}
	out := make([]string, len(scoredNames))
	for i, s := range scoredNames {
		out[i] = s.name
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			cur[j] = minInt(del, minInt(ins, sub))
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
