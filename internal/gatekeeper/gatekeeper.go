// Package gatekeeper implements the Permission Gatekeeper (spec §4.4):
// zero-trust wildcard permission matching plus protocol re-anchoring on
// drift.
//
// Grounded on the teacher's normalise-then-compare style seen throughout
// internal/catalog/catalog.go (e.g. recomputeLLMNamesLocked's
// deterministic, never-silently-drop disambiguation) — applied here to
// permission strings instead of display names.
package gatekeeper

import (
	"strings"

	"github.com/flexigpt/skillkernel-go/spec"
)

// Verdict is the outcome of a permission check.
type Verdict int

const (
	// Allowed means the declared permission set covers the requested
	// tool name.
	Allowed Verdict = iota
	// Drift means the check failed and the caller must re-anchor: the
	// active skill's full protocol text is returned as the diagnostic
	// payload.
	Drift
)

// exemptSkills are never subject to a permission check (spec §4.4 edge
// cases): help/metadata lookups carry no destructive capability.
var exemptSkills = map[spec.SkillID]struct{}{
	"help": {},
}

// Normalize rewrites a dotted or colon-delimited tool name into the
// canonical "category:action" permission string. Both "." and ":" are
// accepted; "." is the dispatch-time tool-name delimiter, ":" is the
// permission-grammar delimiter, and they normalise identically (spec
// §4.4, §8 "Permission algebra").
func Normalize(toolName string) string {
	return strings.Replace(toolName, ".", ":", 1)
}

// Check runs the algorithm in spec §4.4: required = normalise(toolName);
// Allowed if "*" is declared, or "category:*" is declared for required's
// category, or required itself is declared.
func Check(skillID spec.SkillID, toolName string, declared []string) Verdict {
	if _, exempt := exemptSkills[skillID]; exempt {
		return Allowed
	}

	required := Normalize(toolName)
	category, _, ok := strings.Cut(required, ":")
	if !ok {
		category = required
	}

	for _, raw := range declared {
		d := strings.Replace(raw, ".", ":", 1)
		switch {
		case d == "*":
			return Allowed
		case d == category+":*":
			return Allowed
		case d == required:
			return Allowed
		}
	}
	return Drift
}

// ReanchorPayload is the structured error body returned on Drift: the
// attempted tool name alongside the skill's full protocol text, so the
// LLM receives its own declared rules back as the correction signal.
type ReanchorPayload struct {
	AttemptedTool string `json:"attempted_tool"`
	Protocol      string `json:"protocol"`
}

// Reanchor builds the payload for a Drift verdict.
func Reanchor(toolName, protocolText string) ReanchorPayload {
	return ReanchorPayload{AttemptedTool: toolName, Protocol: protocolText}
}
