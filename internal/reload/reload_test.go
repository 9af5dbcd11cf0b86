package reload

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

type fakeWalker struct {
	ids   []spec.SkillID
	calls atomic.Int64
}

func (f *fakeWalker) Resident() []spec.SkillID { return f.ids }

func (f *fakeWalker) Get(ctx context.Context, id spec.SkillID) (*spec.Skill, bool) {
	f.calls.Add(1)
	return nil, true
}

func TestControllerWalksResidentSkillsPeriodically(t *testing.T) {
	w := &fakeWalker{ids: []spec.SkillID{"git", "notes"}}
	c := New(w, 20*time.Millisecond, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	time.Sleep(100 * time.Millisecond)
	if w.calls.Load() == 0 {
		t.Fatalf("expected at least one walk to have touched resident skills")
	}
}

func TestControllerStartTwiceErrors(t *testing.T) {
	w := &fakeWalker{}
	c := New(w, time.Second, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-started controller")
	}
}
