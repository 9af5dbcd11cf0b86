// Package skillkernel is the composition root: it wires the Metadata
// Index, Ghost Index, Skill Registry & JIT Loader, Resident Set,
// Gatekeeper, Event Bus, Session Store, and Hot Reload Controller behind
// the single Dispatch Gateway operation, Invoke.
//
// Grounded on the teacher's runtime.go: a small Option-configured struct
// built by New(), with every dependency injectable and every blocking
// call taking a context.Context.
package skillkernel

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/flexigpt/skillkernel-go/internal/config"
	"github.com/flexigpt/skillkernel-go/internal/eventbus"
	"github.com/flexigpt/skillkernel-go/internal/gatekeeper"
	"github.com/flexigpt/skillkernel-go/internal/ghost"
	"github.com/flexigpt/skillkernel-go/internal/metadata"
	"github.com/flexigpt/skillkernel-go/internal/registry"
	"github.com/flexigpt/skillkernel-go/internal/reload"
	"github.com/flexigpt/skillkernel-go/internal/resident"
	"github.com/flexigpt/skillkernel-go/internal/session"
	"github.com/flexigpt/skillkernel-go/spec"
)

// Option configures a Kernel at construction time.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	factory spec.CommandFactory
	runner  spec.ScriptRunner
	vector  ghost.VectorBackend
	eventQ  int
}

// WithLogger overrides the kernel-wide logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithCommandFactory supplies the compiled-in command table lookup for
// native skills.
func WithCommandFactory(f spec.CommandFactory) Option { return func(o *options) { o.factory = f } }

// WithScriptRunner supplies the shell-script executor backing
// script-only commands.
func WithScriptRunner(r spec.ScriptRunner) Option { return func(o *options) { o.runner = r } }

// WithVectorBackend supplies the opaque embedding/similarity backend the
// Ghost Index's semantic half delegates to. Keyword search still works
// without one.
func WithVectorBackend(v ghost.VectorBackend) Option { return func(o *options) { o.vector = v } }

// WithEventQueueSize overrides the Event Bus's per-subscriber bounded
// queue size (default 64).
func WithEventQueueSize(n int) Option { return func(o *options) { o.eventQ = n } }

// Kernel is the process-wide composition root threaded explicitly
// through the dispatch surface (spec §9: "no ambient globals").
type Kernel struct {
	cfg config.Config
	log *slog.Logger

	metadata *metadata.Index
	ghost    *ghost.Index
	loader   *registry.Loader
	resident *resident.Set
	events   *eventbus.Bus
	sessions *session.Store
	reload   *reload.Controller

	evictMu    sync.Mutex
	evictables map[string]func()
}

// New builds a fully wired Kernel from cfg. The caller owns the returned
// Kernel's lifetime; call StartBackground to begin the hot-reload poll
// loop and Close to stop it.
func New(cfg config.Config, opts ...Option) (*Kernel, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger
	if log == nil {
		log = slog.Default()
	}

	metaIdx, err := metadata.Open(cfg.MetadataIndexPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	ghostIdx, err := ghost.New(db, ghost.Config{
		Metadata:         metaIdx,
		Vector:           o.vector,
		DefaultLimit:     cfg.GhostSearchLimit,
		DefaultThreshold: cfg.GhostSimilarityThreshold,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	loader := registry.New(registry.Config{
		SkillsRoot: cfg.SkillsRootPath,
		Metadata:   metaIdx,
		Ghost:      ghostIdx,
		Factory:    o.factory,
		Runner:     o.runner,
	})

	events := eventbus.New(o.eventQ, log)

	residentSet := resident.New(resident.Config{
		MaxResident: cfg.MaxResidentSkills,
		Pinned:      cfg.PinnedSkills,
		Loader:      loader,
		Events:      busAdapter{bus: events},
		Logger:      log,
	})

	sessions := session.NewStore(session.StoreConfig{
		MaxActiveSkills: cfg.ActiveSkillCognitiveThreshold,
	})

	reloadCtl := reload.New(residentSet, cfg.ReloadPollInterval(), log)

	return &Kernel{
		cfg:        cfg,
		log:        log,
		metadata:   metaIdx,
		ghost:      ghostIdx,
		loader:     loader,
		resident:   residentSet,
		events:     events,
		sessions:   sessions,
		reload:     reloadCtl,
		evictables: map[string]func(){},
	}, nil
}

// StartBackground starts the Hot Reload Controller's poll loop.
func (k *Kernel) StartBackground(ctx context.Context) error {
	return k.reload.Start(ctx)
}

// Close stops background work. Resident skills and their sessions are
// left as-is; Close does not tear down any process state a caller might
// still be inspecting.
func (k *Kernel) Close() {
	k.reload.Stop()
}

// RegisterEvictable registers a dispose function for a heavy transient
// resource a skill command may have created. resourceKey must be the
// command's "skillID.command" tool name: the post-call eviction hook
// (spec §4.3 step 8) looks up only that key, calls the disposer once
// after the next successful call of that command, and then removes it;
// a disposer under any other key is never called. There are no
// required entries — this is purely opt-in bookkeeping for commands that create such resources (spec §9
// open question).
func (k *Kernel) RegisterEvictable(resourceKey string, dispose func()) {
	k.evictMu.Lock()
	defer k.evictMu.Unlock()
	k.evictables[resourceKey] = dispose
}

func (k *Kernel) evictResource(resourceKey string) {
	k.evictMu.Lock()
	dispose, ok := k.evictables[resourceKey]
	if ok {
		delete(k.evictables, resourceKey)
	}
	k.evictMu.Unlock()
	if ok && dispose != nil {
		dispose()
	}
}

// PublishEvent exposes the Event Bus to callers outside the dispatch
// path — e.g. a file-system watcher publishing file/changed. The kernel
// itself subscribes to no topic, so a published event does not rebuild
// the Ghost Index; RebuildGhostIndex does.
func (k *Kernel) PublishEvent(ctx context.Context, ev spec.Event) {
	k.events.Publish(ctx, ev)
}

// Subscribe exposes Event Bus subscription to external collaborators
// (e.g. a file watcher driving Ghost Index rebuilds on file/changed).
func (k *Kernel) Subscribe(topicPrefix string) *eventbus.Subscription {
	return k.events.Subscribe(topicPrefix)
}

// RebuildGhostIndex reindexes the Ghost Index from the current Metadata
// Index contents.
func (k *Kernel) RebuildGhostIndex(ctx context.Context) error {
	return k.ghost.Rebuild(ctx)
}

// RebuildMetadataIndex replaces the Metadata Index contents wholesale,
// e.g. after an offline directory scan.
func (k *Kernel) RebuildMetadataIndex(records []spec.MetadataRecord) error {
	return k.metadata.Rebuild(records)
}

var _ spec.Dispatcher = (*Kernel)(nil)

// busAdapter satisfies internal/resident.EventPublisher's simpler
// fire-and-forget signature over the Event Bus's context-carrying
// Publish, since eviction is an internal bookkeeping event with no
// caller-supplied context to thread through.
type busAdapter struct{ bus *eventbus.Bus }

func (a busAdapter) Publish(topic spec.EventTopic, payload map[string]any) {
	a.bus.Publish(context.Background(), spec.Event{Topic: topic, Payload: payload})
}
