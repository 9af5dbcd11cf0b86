package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

// Config configures a single Session at creation time.
type Config struct {
	ID spec.SessionID

	// MaxActiveSkills caps the cognitive-load set (spec §4.7). Zero means
	// unbounded — dispatch.go never passes zero in practice; the kernel's
	// config layer always supplies a positive default.
	MaxActiveSkills int

	// Touch is a store-provided callback invoked on every read/write so
	// the owning Store can keep its TTL/LRU clock current.
	Touch func()
}

// Session is the per-conversation active-skill tracker. A skill becoming
// "active" here means the dispatch gateway has successfully invoked at
// least one of its commands during this session; it says nothing about
// residency (internal/resident) or permission state (internal/gatekeeper).
type Session struct {
	id        spec.SessionID
	maxActive int

	mu           sync.Mutex
	activeOrder  []spec.SkillID // oldest first
	checkpointID string
	createdAt    time.Time
	lastActivity time.Time

	closed atomic.Bool
	touch  func()
}

func newSession(cfg Config) *Session {
	now := time.Now()
	return &Session{
		id:           cfg.ID,
		maxActive:    cfg.MaxActiveSkills,
		createdAt:    now,
		lastActivity: now,
		touch:        cfg.Touch,
	}
}

func (s *Session) ID() spec.SessionID { return s.id }

// Snapshot returns a consistent, copied view of current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		ActiveSkills: append([]spec.SkillID(nil), s.activeOrder...),
		CheckpointID: s.checkpointID,
	}
}

// IsActive reports whether id is already in the session's active set,
// i.e. invoking it again would not grow the cognitive-load count.
func (s *Session) IsActive(id spec.SkillID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.activeOrder, id)
}

// WouldExceedCap reports whether activating id (if not already active)
// would push the session over MaxActiveSkills. dispatch.go calls this
// after every successful command call, just before Activate, so it
// can attach a cognitive-load warning to the Result (spec §4.3 step 7)
// rather than hard-failing — the cap is advisory, not enforced as a
// PermissionDenied.
func (s *Session) WouldExceedCap(id spec.SkillID) bool {
	if s.maxActive <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.activeOrder, id) {
		return false
	}
	return len(s.activeOrder)+1 > s.maxActive
}

// Activate records id as active, touching the session's LRU position.
// Idempotent: activating an already-active skill only touches the
// session, it does not reorder it. The active set itself is capped at
// MaxActiveSkills (spec §4.3 step 7): once full, the oldest addition is
// discarded to make room for the new one — a sliding window, distinct
// from the cognitive-load warning WouldExceedCap/dispatch.go attach to
// the Result.
func (s *Session) Activate(ctx context.Context, id spec.SkillID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touchSelf()
	if s.isClosed() {
		return fmt.Errorf("%w: %s", spec.ErrSessionNotFound, s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.activeOrder, id) {
		s.activeOrder = append(s.activeOrder, id)
		if s.maxActive > 0 && len(s.activeOrder) > s.maxActive {
			s.activeOrder = s.activeOrder[len(s.activeOrder)-s.maxActive:]
		}
	}
	s.lastActivity = time.Now()
	return nil
}

// SetCheckpoint records an opaque checkpoint identifier a skill may use
// to resume long-running state across turns.
func (s *Session) SetCheckpoint(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointID = id
}

// Reset clears the active-skill set and checkpoint without destroying
// the session itself (spec §8 scenario 6, "reset_session"). The skills
// stay resident in the shared Resident Set — only this session's
// cognitive-load bookkeeping is cleared.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrder = nil
	s.checkpointID = ""
}

func (s *Session) touchSelf() {
	if s.touch != nil {
		s.touch()
	}
}

func (s *Session) isClosed() bool { return s.closed.Load() }
