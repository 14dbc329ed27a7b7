package calendar

import (
	"context"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/ical"
	"github.com/herald-labs/herald/internal/storage"
)

// reconcileEvents makes the stored link set the exact projection of this
// week's filtered events: create missing platform events, edit drifted
// ones, delete the rest. Returns title → platform event id for the
// summary's hyperlinks.
func (e *Engine) reconcileEvents(ctx context.Context, cal *storage.Calendar, weekly []*ical.Event) (map[string]uint64, error) {
	links, err := e.store.EventLinks(ctx, cal.ID)
	if err != nil {
		return nil, err
	}
	linked := make(map[string]*storage.EventLink, len(links))
	for _, l := range links {
		linked[l.Title] = l
	}

	current := make(map[string]uint64, len(weekly))
	seen := make(map[string]bool, len(weekly))
	for _, ev := range weekly {
		if ev.Summary == "" || seen[ev.Summary] {
			continue
		}
		seen[ev.Summary] = true

		want := &chat.ScheduledEvent{
			Name:        ev.Summary,
			Description: truncate(ev.Description, maxEventDescription),
			Start:       ev.Start,
			End:         ev.End,
			ChannelID:   cal.VoiceChannelID,
		}

		if link, ok := linked[ev.Summary]; ok {
			eventID, err := e.updateEvent(ctx, cal, link, want)
			if err != nil {
				e.logger.Warn().Err(err).Str("title", ev.Summary).Msg("scheduled event update failed")
				continue
			}
			current[ev.Summary] = eventID
			continue
		}

		eventID, err := e.adapter.CreateScheduledEvent(ctx, cal.GuildID, want)
		if err != nil {
			e.logger.Warn().Err(err).Str("title", ev.Summary).Msg("scheduled event create failed")
			continue
		}
		if err := e.store.AddEventLink(ctx, cal.ID, ev.Summary, eventID); err != nil {
			// Unrecorded events would leak; undo the create.
			if delErr := e.adapter.DeleteScheduledEvent(ctx, cal.GuildID, eventID); delErr != nil && !herr.Is(delErr, herr.NotFound) {
				e.logger.Error().Err(delErr).Uint64("event", eventID).Msg("orphaned scheduled event")
			}
			return nil, err
		}
		current[ev.Summary] = eventID
	}

	// Links whose title left the weekly set: delete the platform event.
	// Already-gone events count as success.
	for title, link := range linked {
		if seen[title] {
			continue
		}
		if err := e.adapter.DeleteScheduledEvent(ctx, cal.GuildID, link.EventID); err != nil && !herr.Is(err, herr.NotFound) {
			e.logger.Warn().Err(err).Str("title", title).Msg("scheduled event delete failed")
			continue
		}
		if err := e.store.RemoveEventLink(ctx, cal.ID, title); err != nil {
			return nil, err
		}
	}

	return current, nil
}

// updateEvent edits the platform event when start, end, or description
// drifted; vanished events are recreated.
func (e *Engine) updateEvent(ctx context.Context, cal *storage.Calendar, link *storage.EventLink, want *chat.ScheduledEvent) (uint64, error) {
	existing, err := e.adapter.FetchScheduledEvent(ctx, cal.GuildID, link.EventID)
	if err != nil {
		if !herr.Is(err, herr.NotFound) {
			return 0, err
		}
		eventID, err := e.adapter.CreateScheduledEvent(ctx, cal.GuildID, want)
		if err != nil {
			return 0, err
		}
		if err := e.store.AddEventLink(ctx, cal.ID, link.Title, eventID); err != nil {
			return 0, err
		}
		return eventID, nil
	}

	if existing.Start.Equal(want.Start) && existing.End.Equal(want.End) && existing.Description == want.Description {
		return link.EventID, nil
	}
	if existing.State != chat.EventScheduled {
		// Started or finished events are left alone; the status tick owns
		// their lifecycle.
		return link.EventID, nil
	}
	if err := e.adapter.EditScheduledEvent(ctx, cal.GuildID, link.EventID, want); err != nil {
		return 0, err
	}
	return link.EventID, nil
}

// StatusTick walks every tracked platform event and advances its state
// against the wall clock: start when due, end when over, drop links for
// events that no longer exist.
func (e *Engine) StatusTick(ctx context.Context) error {
	links, err := e.store.ListEventLinks(ctx)
	if err != nil {
		return err
	}
	now := e.now()

	for _, link := range links {
		cal, err := e.store.GetCalendar(ctx, link.CalendarID)
		if err != nil || cal == nil {
			continue
		}

		ev, err := e.adapter.FetchScheduledEvent(ctx, cal.GuildID, link.EventID)
		if err != nil {
			if herr.Is(err, herr.NotFound) {
				if err := e.store.RemoveEventLink(ctx, link.CalendarID, link.Title); err != nil {
					e.logger.Error().Err(err).Str("title", link.Title).Msg("stale link removal failed")
				}
				continue
			}
			e.logger.Debug().Err(err).Uint64("event", link.EventID).Msg("event fetch failed")
			continue
		}

		switch {
		case ev.State == chat.EventScheduled && !ev.Start.After(now):
			if err := e.adapter.StartScheduledEvent(ctx, cal.GuildID, link.EventID); err != nil {
				// Usually a collision with an event already active in the
				// same channel; the next tick retries.
				e.logger.Debug().Err(err).Str("title", link.Title).Msg("event start deferred")
			}
		case ev.State == chat.EventActive && !ev.End.After(now):
			if err := e.adapter.EndScheduledEvent(ctx, cal.GuildID, link.EventID); err != nil {
				e.logger.Debug().Err(err).Str("title", link.Title).Msg("event end deferred")
			}
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	// avoid splitting a UTF-8 sequence
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
