package session

import (
	"context"
	"testing"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

func TestStoreGetOrCreateIsIdempotent(t *testing.T) {
	st := NewStore(StoreConfig{MaxActiveSkills: 3})
	ctx := context.Background()

	s1, err := st.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := st.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate (again): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected same *Session instance for repeated GetOrCreate")
	}
	if st.Count() != 1 {
		t.Fatalf("Count = %d, want 1", st.Count())
	}
}

func TestStoreEvictsOverMaxSessions(t *testing.T) {
	st := NewStore(StoreConfig{MaxSessions: 2})
	ctx := context.Background()

	if _, err := st.GetOrCreate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetOrCreate(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetOrCreate(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	if st.Count() != 2 {
		t.Fatalf("Count = %d, want 2 after exceeding MaxSessions", st.Count())
	}
	if _, ok := st.Get("a"); ok {
		t.Fatalf("session %q should have been evicted as least-recently-used", "a")
	}
	if _, ok := st.Get("c"); !ok {
		t.Fatalf("most recently created session %q should still be present", "c")
	}
}

func TestStoreEvictsExpiredSessions(t *testing.T) {
	st := NewStore(StoreConfig{TTL: time.Millisecond})
	ctx := context.Background()

	if _, err := st.GetOrCreate(ctx, "stale"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok := st.Get("stale"); ok {
		t.Fatalf("expected expired session to be evicted")
	}
	if st.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after TTL eviction", st.Count())
	}
}

func TestStoreDeleteRemovesSession(t *testing.T) {
	st := NewStore(StoreConfig{})
	ctx := context.Background()

	if _, err := st.GetOrCreate(ctx, spec.SessionID("x")); err != nil {
		t.Fatal(err)
	}
	st.Delete("x")

	if _, ok := st.Get("x"); ok {
		t.Fatalf("expected session to be gone after Delete")
	}
}
