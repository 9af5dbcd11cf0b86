// Package session implements the Session component (spec §4.7): a
// bounded-lifetime conversational context tracking which skills are
// "active" for cognitive-load purposes, independent of whether those
// skills are resident in memory (that's internal/resident's job).
//
// Grounded on the teacher's internal/session/{store,session,state}.go,
// which implement the equivalent "TTL+LRU session, per-session active
// skill set" shape for its own load/unload semantics; adapted here to
// track SkillID membership and a cognitive-load cap instead of
// SkillHandle activation.
package session

import "github.com/flexigpt/skillkernel-go/spec"

// Snapshot is the externally-visible, immutable view of a session's
// state at a point in time. dispatch.go does not read it; the
// cognitive-load decision goes through Session.WouldExceedCap.
type Snapshot struct {
	ID           spec.SessionID
	ActiveSkills []spec.SkillID // activation order, oldest first
	CheckpointID string
}
