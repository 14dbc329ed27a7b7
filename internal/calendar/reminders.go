package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/metrics"
	"github.com/herald-labs/herald/internal/storage"
)

// ReminderKey is the dedup key for reminder emission.
func ReminderKey(calendarID int64, title string, start time.Time) string {
	return fmt.Sprintf("%d|%s|%s", calendarID, title, start.UTC().Format(time.RFC3339))
}

// ReminderTick emits a reminder for every tracked event starting roughly
// an hour from now. The resend guard makes overlapping windows across
// ticks harmless: at most one reminder per event per two hours.
func (e *Engine) ReminderTick(ctx context.Context) error {
	links, err := e.store.ListEventLinks(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	windowLow := now.Add(reminderWindowLow)
	windowHigh := now.Add(reminderWindowHigh)

	for _, link := range links {
		cal, err := e.store.GetCalendar(ctx, link.CalendarID)
		if err != nil || cal == nil {
			continue
		}

		ev, err := e.adapter.FetchScheduledEvent(ctx, cal.GuildID, link.EventID)
		if err != nil {
			if !herr.Is(err, herr.NotFound) {
				e.logger.Debug().Err(err).Uint64("event", link.EventID).Msg("event fetch failed")
			}
			continue
		}
		if ev.Start.Before(windowLow) || ev.Start.After(windowHigh) {
			continue
		}

		key := ReminderKey(cal.ID, link.Title, ev.Start)
		sent, err := e.store.ReminderSentSince(ctx, cal.ID, key, reminderResendGuard)
		if err != nil {
			e.logger.Error().Err(err).Str("key", key).Msg("reminder lookup failed")
			continue
		}
		if sent {
			continue
		}

		if err := e.sendReminder(ctx, cal, link.Title, ev); err != nil {
			e.logger.Warn().Err(err).Str("title", link.Title).Msg("reminder send failed")
			continue
		}
		if err := e.store.MarkReminderSent(ctx, cal.ID, key); err != nil {
			e.logger.Error().Err(err).Str("key", key).Msg("reminder mark failed")
		}
		metrics.RemindersSent.Inc()
	}
	return nil
}

func (e *Engine) sendReminder(ctx context.Context, cal *storage.Calendar, title string, ev *chat.ScheduledEvent) error {
	content := ""
	if cal.ReminderRoleID != nil {
		content = fmt.Sprintf("<@&%d>", *cal.ReminderRoleID)
	}

	embed := chat.Embed{
		Title:       fmt.Sprintf("%s starts in one hour", title),
		Description: fmt.Sprintf("[Join the event](%s)", chat.EventURL(cal.GuildID, ev.ID)),
		Timestamp:   ev.Start.UTC().Format(time.RFC3339),
	}

	_, err := e.adapter.SendMessage(ctx, cal.TextChannelID, &chat.Message{
		Content: content,
		Embeds:  []chat.Embed{embed},
	})
	return err
}
