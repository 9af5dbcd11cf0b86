package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/flexigpt/skillkernel-go/spec"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe("skill/")
	defer sub.Cancel()

	b.Publish(context.Background(), spec.Event{Topic: spec.TopicSkillEvicted, Payload: map[string]any{"skill_id": "git"}})

	select {
	case ev := <-sub.Events():
		if ev.Topic != spec.TopicSkillEvicted {
			t.Fatalf("got topic %v, want %v", ev.Topic, spec.TopicSkillEvicted)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered event")
	}
}

func TestPublishSkipsNonMatchingPrefix(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe("file/")
	defer sub.Cancel()

	b.Publish(context.Background(), spec.Event{Topic: spec.TopicSkillLoaded})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected delivery for non-matching topic: %v", ev.Topic)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnFullQueue(t *testing.T) {
	b := New(1, nil)
	sub := b.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(context.Background(), spec.Event{Topic: spec.TopicFileChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
	sub.Cancel()
}

func TestCancelStopsFurtherDelivery(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe("")
	sub.Cancel()

	b.Publish(context.Background(), spec.Event{Topic: spec.TopicFileChanged})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected delivery after Cancel: %v", ev.Topic)
	case <-time.After(20 * time.Millisecond):
	}
}
