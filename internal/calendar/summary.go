package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/ical"
)

// WeekStart returns Monday 00:00 of the week containing t, in t's location.
func WeekStart(t time.Time) time.Time {
	t = t.Truncate(0)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding Monday
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -(weekday - 1))
}

// WeekEnd returns Sunday 23:59:59 of the same week.
func WeekEnd(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 7).Add(-time.Second)
}

// weeklyEvents filters the expanded set down to the week window, sorted by
// start time.
func weeklyEvents(events []*ical.Event, weekStart, weekEnd time.Time) []*ical.Event {
	var weekly []*ical.Event
	for _, ev := range events {
		if !ev.Start.Before(weekStart) && !ev.Start.After(weekEnd) {
			weekly = append(weekly, ev)
		}
	}
	sort.Slice(weekly, func(i, j int) bool { return weekly[i].Start.Before(weekly[j].Start) })
	return weekly
}

// BuildSummary renders the weekly-summary embed: events grouped by day,
// each line showing the guild-local start time and, when a platform event
// backs the title, a hyperlink to it.
func BuildSummary(events []*ical.Event, weekStart time.Time, loc *time.Location, guildID uint64, links map[string]uint64) *chat.Embed {
	var b strings.Builder

	if len(events) == 0 {
		b.WriteString("No events this week.")
	}

	currentDay := ""
	for _, ev := range events {
		start := ev.Start.In(loc)
		day := start.Format("Monday 02.01.")
		if day != currentDay {
			if currentDay != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "**%s**\n", day)
			currentDay = day
		}

		if eventID, ok := links[ev.Summary]; ok {
			fmt.Fprintf(&b, "%s [%s](%s)\n", start.Format("15:04"), ev.Summary, chat.EventURL(guildID, eventID))
		} else {
			fmt.Fprintf(&b, "%s %s\n", start.Format("15:04"), ev.Summary)
		}
	}

	weekEnd := WeekEnd(weekStart)
	return &chat.Embed{
		Title:       "Events this week",
		Description: b.String(),
		Footer: &chat.EmbedFooter{
			Text: fmt.Sprintf("%s – %s", weekStart.Format("02.01.2006"), weekEnd.Format("02.01.2006")),
		},
	}
}
