package ical

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

type Expander struct {
	timeZone *time.Location
}

func NewExpander(tz *time.Location) *Expander {
	if tz == nil {
		tz = time.UTC
	}
	return &Expander{timeZone: tz}
}

// ExpandBetween materializes every occurrence overlapping
// [rangeStart, rangeEnd). Non-recurring events pass through when they
// overlap; recurring ones yield one Event per instance.
func (ex *Expander) ExpandBetween(events []*Event, rangeStart, rangeEnd time.Time) []*Event {
	var expanded []*Event
	for _, event := range events {
		if !event.IsRecurring {
			if overlaps(event.Start, event.End, rangeStart, rangeEnd) {
				expanded = append(expanded, event)
			}
			continue
		}
		instances, err := ex.expandEvent(event, rangeStart, rangeEnd)
		if err != nil {
			continue
		}
		expanded = append(expanded, instances...)
	}

	sort.Slice(expanded, func(i, j int) bool {
		return expanded[i].Start.Before(expanded[j].Start)
	})
	return expanded
}

func (ex *Expander) expandEvent(event *Event, rangeStart, rangeEnd time.Time) ([]*Event, error) {
	var instances []time.Time

	if event.RRule != "" {
		opt, err := rrule.StrToROption(event.RRule)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}
		// Anchor in the event's own zone so a weekly 09:00 stays 09:00
		// local across a DST change inside the window.
		opt.Dtstart = event.Start
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}
		occurrences := rule.Between(rangeStart.Add(-event.Duration), rangeEnd.Add(event.Duration), true)
		instances = append(instances, occurrences...)
	}

	instances = append(instances, event.RDates...)
	instances = filterExcluded(instances, event.ExDates)

	var filtered []time.Time
	for _, instance := range instances {
		if overlaps(instance, instance.Add(event.Duration), rangeStart, rangeEnd) {
			filtered = append(filtered, instance)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Before(filtered[j]) })

	var expanded []*Event
	for i, instanceTime := range filtered {
		start := instanceTime.In(ex.timeZone)
		expanded = append(expanded, &Event{
			UID:         fmt.Sprintf("%s-%d", event.UID, i),
			Summary:     event.Summary,
			Description: event.Description,
			Location:    event.Location,
			Start:       start,
			End:         start.Add(event.Duration),
			Duration:    event.Duration,
			IsAllDay:    event.IsAllDay,
		})
	}
	return expanded, nil
}

func filterExcluded(instances, exdates []time.Time) []time.Time {
	if len(exdates) == 0 {
		return instances
	}
	excluded := make(map[string]bool, len(exdates))
	for _, exdate := range exdates {
		excluded[exdate.UTC().Format("20060102T150405Z")] = true
	}

	var filtered []time.Time
	for _, instance := range instances {
		if !excluded[instance.UTC().Format("20060102T150405Z")] {
			filtered = append(filtered, instance)
		}
	}
	return filtered
}

func overlaps(eventStart, eventEnd, rangeStart, rangeEnd time.Time) bool {
	return eventStart.Before(rangeEnd) && eventEnd.After(rangeStart)
}
