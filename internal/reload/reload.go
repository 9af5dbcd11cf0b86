// Package reload implements the Hot Reload Controller (spec §4.6): a
// thin policy layered on top of the Resident Set's per-call freshness
// check, adding an optional background loop that proactively walks
// every resident skill every reload_poll_interval_s seconds so a change
// is picked up even if the skill isn't invoked again soon.
//
// There is deliberately no separate transactional validator here — spec
// §4.6 is explicit that the next invocation surfaces any import error as
// a natural command failure. Grounded on robfig/cron/v3, carried from
// clawinfra-evoclaw's dependency stack, for the periodic walk; the
// per-skill freshness comparison itself lives in internal/resident.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flexigpt/skillkernel-go/spec"
)

// ResidentWalker is the subset of internal/resident.Set the controller
// needs: the current resident id list, and a Get that — as a side
// effect — runs the freshness check and reload.
type ResidentWalker interface {
	Resident() []spec.SkillID
	Get(ctx context.Context, id spec.SkillID) (*spec.Skill, bool)
}

// Controller runs the background poll loop. Zero value is not usable;
// construct with New.
type Controller struct {
	walker ResidentWalker
	log    *slog.Logger

	cron     *cron.Cron
	entryID  cron.EntryID
	interval time.Duration
}

// New builds a Controller that walks walker every interval. interval<=0
// defaults to 2s, matching spec §6's reload_poll_interval_s default.
func New(walker ResidentWalker, interval time.Duration, logger *slog.Logger) *Controller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		walker:   walker,
		log:      logger,
		interval: interval,
	}
}

// Start schedules the background walk. Safe to call once; a second call
// returns an error rather than double-scheduling.
func (c *Controller) Start(ctx context.Context) error {
	if c.cron != nil {
		return fmt.Errorf("reload controller already started")
	}

	c.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	cronSpec := fmt.Sprintf("@every %s", c.interval)
	id, err := c.cron.AddFunc(cronSpec, func() { c.walkOnce(ctx) })
	if err != nil {
		c.cron = nil
		return fmt.Errorf("schedule reload poll: %w", err)
	}
	c.entryID = id
	c.cron.Start()
	return nil
}

// Stop halts the background loop, waiting for any in-flight walk to
// finish.
func (c *Controller) Stop() {
	if c.cron == nil {
		return
	}
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.cron = nil
}

// walkOnce touches every resident skill once, which drives
// internal/resident's freshness-check-and-reload path as a side effect.
// It walks from the least- to the most-recently-used id, so the recency
// moves made by Get leave the LRU order as it was.
func (c *Controller) walkOnce(ctx context.Context) {
	ids := c.walker.Resident()
	for i := len(ids) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		c.walker.Get(ctx, ids[i])
	}
}
