// Package ical parses RFC 5545 calendars and expands recurrences over a
// bounded forward window.
package ical

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	IsAllDay    bool
	IsRecurring bool
	RRule       string
	RDates      []time.Time
	ExDates     []time.Time
}

// Parse decodes an iCal payload into events. Floating local times are
// anchored in loc. Malformed VEVENTs are skipped, not fatal: upstream
// calendars routinely contain a few.
func Parse(data []byte, loc *time.Location) ([]*Event, error) {
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	var events []*Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		event, err := parseEvent(comp, loc)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEvent(comp *ical.Component, loc *time.Location) (*Event, error) {
	event := &Event{}

	if uid := comp.Props.Get(ical.PropUID); uid != nil {
		event.UID = uid.Value
	} else {
		return nil, fmt.Errorf("missing UID")
	}

	if summary := comp.Props.Get(ical.PropSummary); summary != nil {
		event.Summary = summary.Value
	}
	if desc := comp.Props.Get(ical.PropDescription); desc != nil {
		event.Description = desc.Value
	}
	if location := comp.Props.Get(ical.PropLocation); location != nil {
		event.Location = location.Value
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, isAllDay, err := parseDateTime(dtstart.Value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	event.Start = start
	event.IsAllDay = isAllDay

	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, _, err := parseDateTime(dtend.Value, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		event.End = end
		event.Duration = end.Sub(start)
	} else if duration := comp.Props.Get(ical.PropDuration); duration != nil {
		dur, err := parseDuration(duration.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid DURATION: %w", err)
		}
		event.Duration = dur
		event.End = start.Add(dur)
	} else {
		if isAllDay {
			event.Duration = 24 * time.Hour
		}
		event.End = start.Add(event.Duration)
	}

	if rrule := comp.Props.Get(ical.PropRecurrenceRule); rrule != nil {
		event.RRule = rrule.Value
		event.IsRecurring = true
	}

	for _, rdateProp := range comp.Props.Values(ical.PropRecurrenceDates) {
		dates, err := parseMultipleDates(rdateProp.Value, loc)
		if err != nil {
			continue
		}
		event.RDates = append(event.RDates, dates...)
	}
	if len(event.RDates) > 0 {
		event.IsRecurring = true
	}

	for _, exdateProp := range comp.Props.Values(ical.PropExceptionDates) {
		dates, err := parseMultipleDates(exdateProp.Value, loc)
		if err != nil {
			continue
		}
		event.ExDates = append(event.ExDates, dates...)
	}

	return event, nil
}

func parseDateTime(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)

	if len(s) == 8 {
		t, err := time.ParseInLocation("20060102", s, loc)
		return t, true, err
	}
	if len(s) == 15 {
		t, err := time.ParseInLocation("20060102T150405", s, loc)
		return t, false, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err := time.Parse("20060102T150405Z", s)
		return t, false, err
	}

	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}

func parseMultipleDates(dateStr string, loc *time.Location) ([]time.Time, error) {
	var dates []time.Time
	for _, part := range strings.Split(dateStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		date, _, err := parseDateTime(part, loc)
		if err != nil {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

func parseDuration(durStr string) (time.Duration, error) {
	durStr = strings.TrimSpace(durStr)
	neg := false
	if strings.HasPrefix(durStr, "-") {
		neg = true
		durStr = durStr[1:]
	}
	if !strings.HasPrefix(durStr, "P") {
		return 0, fmt.Errorf("invalid duration format")
	}

	var days, hours, minutes, seconds int
	var inTime bool
	var current strings.Builder

	for _, r := range durStr[1:] {
		switch r {
		case 'W':
			if n, err := strconv.Atoi(current.String()); err == nil {
				days += n * 7
			}
			current.Reset()
		case 'D':
			if n, err := strconv.Atoi(current.String()); err == nil {
				days += n
			}
			current.Reset()
		case 'T':
			inTime = true
			current.Reset()
		case 'H':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					hours = n
				}
			}
			current.Reset()
		case 'M':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					minutes = n
				}
			}
			current.Reset()
		case 'S':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					seconds = n
				}
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}
