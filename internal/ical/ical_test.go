package ical

import (
	"strings"
	"testing"
	"time"
)

const calFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:simple-1
SUMMARY:Team meeting
DESCRIPTION:Weekly agenda
DTSTART:20260825T100000Z
DTEND:20260825T110000Z
END:VEVENT
BEGIN:VEVENT
UID:allday-1
SUMMARY:Holiday
DTSTART:20260826
END:VEVENT
BEGIN:VEVENT
UID:floating-1
SUMMARY:Local dinner
DTSTART:20260825T190000
DURATION:PT2H
END:VEVENT
BEGIN:VEVENT
SUMMARY:No uid, skipped
DTSTART:20260825T120000Z
END:VEVENT
END:VCALENDAR
`

func TestParse(t *testing.T) {
	berlin, _ := time.LoadLocation("Europe/Berlin")
	events, err := Parse([]byte(calFixture), berlin)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (malformed one skipped)", len(events))
	}

	byUID := map[string]*Event{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	meeting := byUID["simple-1"]
	if meeting == nil {
		t.Fatal("simple-1 missing")
	}
	if meeting.Summary != "Team meeting" || meeting.Description != "Weekly agenda" {
		t.Errorf("fields: %q / %q", meeting.Summary, meeting.Description)
	}
	if !meeting.Start.Equal(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", meeting.Start)
	}
	if meeting.Duration != time.Hour {
		t.Errorf("duration = %v", meeting.Duration)
	}

	holiday := byUID["allday-1"]
	if !holiday.IsAllDay || holiday.Duration != 24*time.Hour {
		t.Errorf("all-day: %v / %v", holiday.IsAllDay, holiday.Duration)
	}

	// Floating local time anchors in the given zone.
	dinner := byUID["floating-1"]
	want := time.Date(2026, 8, 25, 19, 0, 0, 0, berlin)
	if !dinner.Start.Equal(want) {
		t.Errorf("floating start = %v, want %v", dinner.Start, want)
	}
	if dinner.Duration != 2*time.Hour {
		t.Errorf("duration from DURATION prop = %v", dinner.Duration)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a calendar"), time.UTC); err == nil {
		t.Fatal("want parse error")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT1H":      time.Hour,
		"PT90M":     90 * time.Minute,
		"P1D":       24 * time.Hour,
		"P1W":       7 * 24 * time.Hour,
		"P1DT2H30M": 26*time.Hour + 30*time.Minute,
		"-PT15M":    -15 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		if err != nil {
			t.Errorf("parseDuration(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseDuration(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseDuration("1H"); err == nil {
		t.Error("missing P prefix must fail")
	}
}

const weeklyFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:weekly-1
SUMMARY:Standup
DTSTART:20260803T090000Z
DTEND:20260803T091500Z
RRULE:FREQ=WEEKLY;BYDAY=MO,WE
END:VEVENT
END:VCALENDAR
`

func TestExpandBetweenWeekly(t *testing.T) {
	events, err := Parse([]byte(weeklyFixture), time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// One calendar week: Monday Aug 24 through Sunday Aug 30 2026.
	rangeStart := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	rangeEnd := rangeStart.AddDate(0, 0, 7)

	expanded := NewExpander(time.UTC).ExpandBetween(events, rangeStart, rangeEnd)
	if len(expanded) != 2 {
		t.Fatalf("instances = %d, want 2 (Mon + Wed)", len(expanded))
	}

	if !expanded[0].Start.Equal(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("first instance = %v", expanded[0].Start)
	}
	if !expanded[1].Start.Equal(time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("second instance = %v", expanded[1].Start)
	}
	for _, inst := range expanded {
		if inst.Summary != "Standup" {
			t.Errorf("summary = %q", inst.Summary)
		}
		if inst.End.Sub(inst.Start) != 15*time.Minute {
			t.Errorf("instance duration = %v", inst.End.Sub(inst.Start))
		}
	}
	if expanded[0].UID == expanded[1].UID {
		t.Error("instances must carry distinct UIDs")
	}
	if !strings.HasPrefix(expanded[0].UID, "weekly-1-") {
		t.Errorf("instance UID = %q", expanded[0].UID)
	}
}

func TestExpandBetweenExcludesNonOverlapping(t *testing.T) {
	events := []*Event{
		{UID: "a", Summary: "in range", Start: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)},
		{UID: "b", Summary: "before", Start: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)},
	}
	rangeStart := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	expanded := NewExpander(time.UTC).ExpandBetween(events, rangeStart, rangeStart.AddDate(0, 0, 7))
	if len(expanded) != 1 || expanded[0].UID != "a" {
		t.Fatalf("expanded = %+v", expanded)
	}
}

const dstWeeklyFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:dst-1
SUMMARY:Standup
DTSTART:20261012T090000
DTEND:20261012T091500
RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=4
END:VEVENT
END:VCALENDAR
`

func TestExpandBetweenKeepsLocalTimeAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	events, err := Parse([]byte(dstWeeklyFixture), berlin)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Four Mondays spanning the October 25 clock change.
	rangeStart := time.Date(2026, 10, 12, 0, 0, 0, 0, berlin)
	expanded := NewExpander(berlin).ExpandBetween(events, rangeStart, rangeStart.AddDate(0, 0, 28))
	if len(expanded) != 4 {
		t.Fatalf("instances = %d, want 4", len(expanded))
	}
	for _, inst := range expanded {
		got := inst.Start.In(berlin)
		if got.Hour() != 9 || got.Minute() != 0 {
			t.Errorf("instance at %v, want 09:00 local", got)
		}
	}
}

const exdateFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:ex-1
SUMMARY:Daily
DTSTART:20260824T080000Z
DTEND:20260824T083000Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20260826T080000Z
END:VEVENT
END:VCALENDAR
`

func TestExpandBetweenHonorsExdate(t *testing.T) {
	events, err := Parse([]byte(exdateFixture), time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rangeStart := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	expanded := NewExpander(time.UTC).ExpandBetween(events, rangeStart, rangeStart.AddDate(0, 0, 7))

	if len(expanded) != 4 {
		t.Fatalf("instances = %d, want 4 (one excluded)", len(expanded))
	}
	for _, inst := range expanded {
		if inst.Start.Day() == 26 {
			t.Fatal("excluded date still present")
		}
	}
}
