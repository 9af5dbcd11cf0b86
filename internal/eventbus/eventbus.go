// Package eventbus implements the Event Bus (spec §4.7): a
// single-writer, multi-reader non-blocking broadcast over a fixed topic
// set, with bounded per-subscriber queues and an oldest-drop policy so a
// slow subscriber can never stall Publish.
//
// Grounded on the events.NewBus(bufSize) / RegisterNative wiring style
// observed in other_examples' gateway command (a buffered bus handed to
// every component at construction time); the bus type itself was not
// among the retrieved files, so the queue/fan-out mechanics below are
// built fresh using golang.org/x/sync/errgroup for delivery fan-out, per
// the domain-stack wiring.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flexigpt/skillkernel-go/spec"
)

// subscription is one registered receiver: a bounded queue plus the
// topic prefix it was registered under ("" matches every topic).
type subscription struct {
	prefix string
	queue  chan spec.Event
	stop   chan struct{}
	once   sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// Bus is the Event Bus. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int

	queueSize int
	log       *slog.Logger
}

// New builds a Bus whose subscriber queues each hold queueSize events
// before the oldest-drop policy kicks in. queueSize <= 0 defaults to 64.
func New(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[int]*subscription),
		queueSize: queueSize,
		log:       logger,
	}
}

// Subscription is the caller-facing handle returned by Subscribe.
type Subscription struct {
	bus *Bus
	id  int
	sub *subscription
}

// Events returns the channel of delivered events. Cancel stops further
// deliveries but does not close the channel.
func (s *Subscription) Events() <-chan spec.Event { return s.sub.queue }

// Cancel unregisters the subscription. Cooperative: in-flight Publish
// fan-out goroutines observe the stop channel and skip delivery rather
// than being forcibly killed.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.sub.close()
}

// Subscribe registers a receiver for every topic whose string value has
// topicPrefix as a prefix ("" subscribes to everything).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{
		prefix: topicPrefix,
		queue:  make(chan spec.Event, b.queueSize),
		stop:   make(chan struct{}),
	}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, sub: sub}
}

// Publish is O(1) from the caller's point of view: it never blocks on a
// slow subscriber. Fan-out to each matching subscriber happens
// concurrently via errgroup; a subscriber whose queue is full has its
// oldest queued event dropped to make room for the new one.
func (b *Bus) Publish(ctx context.Context, ev spec.Event) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchesPrefix(sub.prefix, ev.Topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for _, sub := range targets {
		sub := sub
		g.Go(func() error {
			b.deliver(sub, ev)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) deliver(sub *subscription, ev spec.Event) {
	select {
	case <-sub.stop:
		return
	default:
	}

	select {
	case sub.queue <- ev:
		return
	default:
	}

	// Queue full: drop the oldest queued event, then try once more.
	select {
	case <-sub.queue:
		b.log.Warn("eventbus: subscriber queue full, dropping oldest event", "topic", ev.Topic)
	default:
	}
	select {
	case sub.queue <- ev:
	default:
		// Lost a race with another publisher refilling the slot; the
		// event is dropped rather than blocking the publisher.
	}
}

func matchesPrefix(prefix string, topic spec.EventTopic) bool {
	if prefix == "" {
		return true
	}
	t := string(topic)
	if len(prefix) > len(t) {
		return false
	}
	return t[:len(prefix)] == prefix
}
