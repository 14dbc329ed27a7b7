// Package calendar keeps each guild's chat surface in step with an
// external iCal source: one weekly-summary message per calendar, a
// materialized set of platform scheduled events, and one-hour-ahead
// reminders emitted exactly once.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/fetch"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/ical"
	"github.com/herald-labs/herald/internal/metrics"
	"github.com/herald-labs/herald/internal/retry"
	"github.com/herald-labs/herald/internal/storage"
)

// Store is the slice of the persistent store the calendar engine uses.
type Store interface {
	ListCalendars(ctx context.Context) ([]*storage.Calendar, error)
	GetCalendar(ctx context.Context, id int64) (*storage.Calendar, error)
	GetGuild(ctx context.Context, id uint64) (*storage.Guild, error)
	UpdateCalendarMessage(ctx context.Context, id int64, messageID uint64, weekStart time.Time) error
	TouchCalendarSync(ctx context.Context, id int64, at time.Time) error
	EventLinks(ctx context.Context, calendarID int64) ([]*storage.EventLink, error)
	ListEventLinks(ctx context.Context) ([]*storage.EventLink, error)
	AddEventLink(ctx context.Context, calendarID int64, title string, eventID uint64) error
	RemoveEventLink(ctx context.Context, calendarID int64, title string) error
	ReminderSentSince(ctx context.Context, calendarID int64, key string, window time.Duration) (bool, error)
	MarkReminderSent(ctx context.Context, calendarID int64, key string) error
}

// Fetcher is the conditional-GET layer for the iCal source. Get bypasses
// the conditional cache for the week-rollover case, where a 304 still
// requires the full body to rebuild the summary.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
	Get(ctx context.Context, url string, accept string) ([]byte, error)
}

const (
	// Scheduled-event descriptions are truncated to the platform limit.
	maxEventDescription = 1000

	reminderWindowLow   = 45 * time.Minute
	reminderWindowHigh  = 75 * time.Minute
	reminderResendGuard = 2 * time.Hour
)

type Engine struct {
	store   Store
	fetcher Fetcher
	runner  *retry.Runner
	adapter chat.Adapter
	cfg     config.CalendarConfig
	logger  zerolog.Logger

	now func() time.Time
}

func NewEngine(store Store, fetcher Fetcher, runner *retry.Runner, adapter chat.Adapter, cfg config.CalendarConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		fetcher: fetcher,
		runner:  runner,
		adapter: adapter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SyncAll runs one sync over every calendar. Calendars are isolated from
// each other's failures.
func (e *Engine) SyncAll(ctx context.Context) error {
	cals, err := e.store.ListCalendars(ctx)
	if err != nil {
		return fmt.Errorf("list calendars: %w", err)
	}
	for _, cal := range cals {
		if err := e.SyncCalendar(ctx, cal); err != nil {
			metrics.CalendarSyncs.WithLabelValues("error").Inc()
			e.logger.Warn().Err(err).Int64("calendar", cal.ID).Str("name", cal.Name).Msg("calendar sync failed")
			continue
		}
		metrics.CalendarSyncs.WithLabelValues("ok").Inc()
	}
	return nil
}

// SyncCalendar fetches the source, expands the lookahead window, filters,
// reconciles platform events, and posts or edits the weekly summary.
// Summary and reconciliation are serialized per calendar by construction.
func (e *Engine) SyncCalendar(ctx context.Context, cal *storage.Calendar) error {
	guild, err := e.store.GetGuild(ctx, cal.GuildID)
	if err != nil {
		return err
	}
	loc := guildLocation(guild)

	opID := fmt.Sprintf("sync_calendar:%d", cal.ID)
	var result *fetch.Result
	err = e.runner.Execute(ctx, opID, func(ctx context.Context) error {
		r, err := e.fetcher.Fetch(ctx, cal.URL)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return err
	}
	if result.Status == fetch.NotModified && cal.LastMessageID != nil && sameWeek(cal.WeekStart, WeekStart(e.now().In(loc))) {
		// Source unchanged and the summary is current; nothing to do.
		return e.store.TouchCalendarSync(ctx, cal.ID, e.now())
	}
	body := result.Body
	if body == nil {
		// 304, but the week rolled over or the summary is missing: the
		// full body is still needed to rebuild the summary.
		body, err = e.fetcher.Get(ctx, cal.URL, "text/calendar")
		if err != nil {
			return err
		}
	}

	events, err := ical.Parse(body, loc)
	if err != nil {
		return herr.New(herr.PermanentSource, err)
	}

	now := e.now().In(loc)
	rangeEnd := now.AddDate(0, 0, 7*e.cfg.LookaheadWeeks)
	expanded := ical.NewExpander(loc).ExpandBetween(events, WeekStart(now), rangeEnd)

	var filtered []*ical.Event
	for _, ev := range expanded {
		if Included(ev.Summary, cal.Whitelist, cal.Blacklist) {
			filtered = append(filtered, ev)
		}
	}

	weekStart := WeekStart(now)
	weekly := weeklyEvents(filtered, weekStart, WeekEnd(weekStart))

	links, err := e.reconcileEvents(ctx, cal, weekly)
	if err != nil {
		return err
	}

	if err := e.publishSummary(ctx, cal, weekly, weekStart, loc, links); err != nil {
		return err
	}

	return e.store.TouchCalendarSync(ctx, cal.ID, e.now())
}

// publishSummary enforces the weekly rollover invariant: a new week (or a
// missing summary) replaces the message, otherwise the existing one is
// edited in place.
func (e *Engine) publishSummary(ctx context.Context, cal *storage.Calendar, weekly []*ical.Event, weekStart time.Time, loc *time.Location, links map[string]uint64) error {
	embed := BuildSummary(weekly, weekStart, loc, cal.GuildID, links)
	msg := &chat.Message{Embeds: []chat.Embed{*embed}}

	rollover := !sameWeek(cal.WeekStart, weekStart) || cal.LastMessageID == nil

	if !rollover {
		err := e.adapter.EditMessage(ctx, cal.TextChannelID, *cal.LastMessageID, msg)
		if err == nil {
			return nil
		}
		if !herr.Is(err, herr.NotFound) {
			return err
		}
		// Summary was deleted out from under us; repost.
		rollover = true
	}

	if rollover && cal.LastMessageID != nil {
		if err := e.adapter.DeleteMessage(ctx, cal.TextChannelID, *cal.LastMessageID); err != nil && !herr.Is(err, herr.NotFound) {
			e.logger.Warn().Err(err).Int64("calendar", cal.ID).Msg("old summary delete failed")
		}
	}

	msgID, err := e.adapter.SendMessage(ctx, cal.TextChannelID, msg)
	if err != nil {
		return err
	}
	if err := e.store.UpdateCalendarMessage(ctx, cal.ID, msgID, weekStart); err != nil {
		return err
	}
	cal.LastMessageID = &msgID
	cal.WeekStart = &weekStart
	return nil
}

// sameWeek compares week starts as instants. The stored value comes back
// from Postgres as a UTC timestamp, so a calendar-day comparison would
// disagree with the guild-local week start for any non-UTC guild.
func sameWeek(stored *time.Time, computed time.Time) bool {
	return stored != nil && stored.Equal(computed)
}

func guildLocation(guild *storage.Guild) *time.Location {
	if guild == nil || guild.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(guild.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
