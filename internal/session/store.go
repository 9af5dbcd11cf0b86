package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

// StoreConfig configures the Store's TTL/LRU bounds and the per-session
// cognitive-load default.
type StoreConfig struct {
	TTL             time.Duration
	MaxSessions     int
	MaxActiveSkills int
}

// Store is a TTL+LRU-bounded collection of Sessions: idle sessions
// expire after TTL, and the store reaps the least-recently-touched
// session once MaxSessions is exceeded rather than growing unbounded.
type Store struct {
	mu sync.Mutex

	ttl         time.Duration
	maxSessions int
	maxActive   int

	recency *list.List                       // front = most recently touched
	byID    map[spec.SessionID]*list.Element // id -> recency element(Value=*sessionSlot)
}

type sessionSlot struct {
	s         *Session
	touchedAt time.Time
}

// NewStore builds a Store with sane defaults when cfg fields are zero:
// 24h TTL, 4096 max sessions.
func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxS := cfg.MaxSessions
	if maxS <= 0 {
		maxS = 4096
	}
	return &Store{
		ttl:         ttl,
		maxSessions: maxS,
		maxActive:   cfg.MaxActiveSkills,
		recency:     list.New(),
		byID:        map[spec.SessionID]*list.Element{},
	}
}

// GetOrCreate returns the session for id, creating it (with the store's
// default cognitive-load cap) if it doesn't exist yet. Dispatch always
// calls this rather than Get, since sessions are implicit — spec §4.7
// creates one on first use, not via a separate "open session" call.
func (st *Store) GetOrCreate(ctx context.Context, id spec.SessionID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.reapStaleLocked(now)

	if e := st.byID[id]; e != nil {
		slot, _ := e.Value.(*sessionSlot)
		if slot != nil && slot.s != nil && !slot.s.isClosed() {
			slot.touchedAt = now
			st.recency.MoveToFront(e)
			return slot.s, nil
		}
		st.removeLocked(e)
	}

	st.trimToCapacityLocked()

	s := newSession(Config{
		ID:              id,
		MaxActiveSkills: st.maxActive,
		Touch:           func() { st.touch(id) },
	})
	e := st.recency.PushFront(&sessionSlot{s: s, touchedAt: now})
	st.byID[id] = e

	st.trimToCapacityLocked()
	return s, nil
}

// Get returns an existing session without creating one.
func (st *Store) Get(id spec.SessionID) (*Session, bool) {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.reapStaleLocked(now)

	e := st.byID[id]
	if e == nil {
		return nil, false
	}
	slot, _ := e.Value.(*sessionSlot)
	if slot == nil || slot.s == nil || slot.s.isClosed() {
		st.removeLocked(e)
		return nil, false
	}

	slot.touchedAt = now
	st.recency.MoveToFront(e)
	return slot.s, true
}

// Delete destroys id's session entirely, discarding its active-skill set
// and checkpoint. Distinct from Session.Reset, which keeps the session
// alive.
func (st *Store) Delete(id spec.SessionID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e := st.byID[id]; e != nil {
		st.removeLocked(e)
	}
}

// Count reports the number of live sessions, for diagnostics/tests.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.recency.Len()
}

func (st *Store) touch(id spec.SessionID) {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reapStaleLocked(now)

	e := st.byID[id]
	if e == nil {
		return
	}
	slot, _ := e.Value.(*sessionSlot)
	if slot == nil || slot.s == nil || slot.s.isClosed() {
		st.removeLocked(e)
		return
	}
	slot.touchedAt = now
	st.recency.MoveToFront(e)
}

// trimToCapacityLocked drops the least-recently-touched sessions once
// maxSessions is exceeded.
func (st *Store) trimToCapacityLocked() {
	if st.maxSessions <= 0 {
		return
	}
	for st.recency.Len() > st.maxSessions {
		e := st.recency.Back()
		if e == nil {
			return
		}
		st.removeLocked(e)
	}
}

// reapStaleLocked drops every session whose last touch is older than TTL.
func (st *Store) reapStaleLocked(now time.Time) {
	if st.ttl <= 0 {
		return
	}
	for e := st.recency.Back(); e != nil; {
		prev := e.Prev()
		slot, ok := e.Value.(*sessionSlot)
		if !ok || slot == nil || slot.s == nil {
			st.removeLocked(e)
			e = prev
			continue
		}
		if now.Sub(slot.touchedAt) <= st.ttl {
			break
		}
		st.removeLocked(e)
		e = prev
	}
}

func (st *Store) removeLocked(e *list.Element) {
	slot, _ := e.Value.(*sessionSlot)
	if slot != nil && slot.s != nil {
		delete(st.byID, slot.s.id)
		slot.s.closed.Store(true)
	}
	st.recency.Remove(e)
}
