// Package engine wires the storage, fetch, and syndication layers into
// one runnable service: scheduled feed polls, calendar syncs, map
// upkeep, and the ops endpoint.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/herald-labs/herald/internal/calendar"
	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/feed"
	"github.com/herald-labs/herald/internal/fetch"
	"github.com/herald-labs/herald/internal/logging"
	"github.com/herald-labs/herald/internal/mapengine"
	"github.com/herald-labs/herald/internal/moderation"
	"github.com/herald-labs/herald/internal/monitor"
	"github.com/herald-labs/herald/internal/retry"
	"github.com/herald-labs/herald/internal/scheduler"
	"github.com/herald-labs/herald/internal/storage"
)

const retentionAge = 7 * 24 * time.Hour

type Engine struct {
	Store      storage.Store
	Feeds      *feed.Engine
	Calendars  *calendar.Engine
	Maps       *mapengine.Engine
	Monitors   *monitor.Refresher
	Moderation *moderation.Emitter

	runner *retry.Runner
	sched  *scheduler.Scheduler
	cfg    *config.Config
	logger zerolog.Logger
}

// New assembles the service around an already-open store and a platform
// adapter.
func New(cfg *config.Config, store storage.Store, adapter chat.Adapter, logger zerolog.Logger) (*Engine, error) {
	fetcher := fetch.New(cfg.HTTP, store, logging.Component(logger, "fetch"))
	webhooks := chat.NewWebhookClient(fetcher.Client())
	runner := retry.NewRunner(cfg.Retry, logging.Component(logger, "retry"))

	maps, err := mapengine.NewEngine(store, fetcher, adapter, cfg.Map, logging.Component(logger, "map"))
	if err != nil {
		return nil, fmt.Errorf("map engine: %w", err)
	}

	e := &Engine{
		Store:      store,
		Feeds:      feed.NewEngine(store, fetcher, runner, adapter, webhooks, cfg.Feeds, logging.Component(logger, "feed")),
		Calendars:  calendar.NewEngine(store, fetcher, runner, adapter, cfg.Calendar, logging.Component(logger, "calendar")),
		Maps:       maps,
		Monitors:   monitor.NewRefresher(store, adapter, logging.Component(logger, "monitor")),
		Moderation: moderation.NewEmitter(store, webhooks, logging.Component(logger, "moderation")),
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
	}

	e.sched = scheduler.New(adapter.Ready(), logging.Component(logger, "scheduler"))
	if err := e.registerTasks(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) registerTasks() error {
	tasks := []scheduler.Task{
		{Name: "feed-poll", Interval: e.cfg.Feeds.PollInterval, Run: e.Feeds.PollAll},
		{Name: "calendar-sync", Interval: e.cfg.Calendar.SyncInterval, Run: e.Calendars.SyncAll},
		{Name: "event-status", Interval: e.cfg.Calendar.StatusInterval, Run: e.Calendars.StatusTick},
		{Name: "reminder", Interval: e.cfg.Calendar.ReminderInterval, Run: e.Calendars.ReminderTick},
		{Name: "monitor-refresh", Interval: time.Minute, Run: e.Monitors.RefreshTick},
		{Name: "retention", Interval: time.Hour, Run: e.retention},
	}
	for _, t := range tasks {
		if err := e.sched.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, driving the scheduler and the ops
// listener.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.sched.Start(ctx) })
	g.Go(func() error { return e.serveOps(ctx) })

	err := g.Wait()
	e.sched.Stop(10 * time.Second)
	if err == context.Canceled {
		return nil
	}
	return err
}

// retention sweeps dedup and reminder rows past the retention window,
// along with in-memory retry contexts and expired base-map images.
func (e *Engine) retention(ctx context.Context) error {
	posted, err := e.Store.CleanupPostedOlderThan(ctx, retentionAge)
	if err != nil {
		return fmt.Errorf("posted sweep: %w", err)
	}
	reminders, err := e.Store.CleanupRemindersOlderThan(ctx, retentionAge)
	if err != nil {
		return fmt.Errorf("reminder sweep: %w", err)
	}
	contexts := e.runner.Sweep()
	images := e.Maps.SweepBaseCache()

	if posted+reminders > 0 || contexts+images > 0 {
		e.logger.Debug().
			Int64("posted", posted).
			Int64("reminders", reminders).
			Int("retry_contexts", contexts).
			Int("base_images", images).
			Msg("retention sweep")
	}
	return nil
}

// ConfigureModeration sets the member-log webhook and auto-join role
// together, so a partial write never leaves the two out of step.
func (e *Engine) ConfigureModeration(ctx context.Context, guildID uint64, webhookURL string, roleID *uint64) error {
	return e.Store.InTx(ctx, func(ctx context.Context) error {
		if err := e.Store.SetMemberLogWebhook(ctx, guildID, webhookURL); err != nil {
			return err
		}
		return e.Store.SetAutoJoinRole(ctx, guildID, roleID)
	})
}
