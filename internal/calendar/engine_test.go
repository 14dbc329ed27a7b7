package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/fetch"
	"github.com/herald-labs/herald/internal/retry"
	"github.com/herald-labs/herald/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	guild     *storage.Guild
	calendars map[int64]*storage.Calendar
	links     map[int64]map[string]*storage.EventLink
	reminders map[string]time.Time
}

func newFakeStore(cal *storage.Calendar) *fakeStore {
	s := &fakeStore{
		guild:     &storage.Guild{ID: cal.GuildID, Name: "g", Timezone: "UTC"},
		calendars: map[int64]*storage.Calendar{cal.ID: cal},
		links:     map[int64]map[string]*storage.EventLink{cal.ID: {}},
		reminders: make(map[string]time.Time),
	}
	return s
}

func (s *fakeStore) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Calendar
	for _, c := range s.calendars {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) GetCalendar(ctx context.Context, id int64) (*storage.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendars[id], nil
}

func (s *fakeStore) GetGuild(ctx context.Context, id uint64) (*storage.Guild, error) {
	return s.guild, nil
}

func (s *fakeStore) UpdateCalendarMessage(ctx context.Context, id int64, messageID uint64, weekStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.calendars[id]
	c.LastMessageID = &messageID
	c.WeekStart = &weekStart
	return nil
}

func (s *fakeStore) TouchCalendarSync(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.calendars[id]
	c.LastSync = &at
	return nil
}

func (s *fakeStore) EventLinks(ctx context.Context, calendarID int64) ([]*storage.EventLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.EventLink
	for _, l := range s.links[calendarID] {
		out = append(out, l)
	}
	return out, nil
}

func (s *fakeStore) ListEventLinks(ctx context.Context) ([]*storage.EventLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.EventLink
	for _, m := range s.links {
		for _, l := range m {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) AddEventLink(ctx context.Context, calendarID int64, title string, eventID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[calendarID][title] = &storage.EventLink{CalendarID: calendarID, Title: title, EventID: eventID}
	return nil
}

func (s *fakeStore) RemoveEventLink(ctx context.Context, calendarID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links[calendarID], title)
	return nil
}

func (s *fakeStore) ReminderSentSince(ctx context.Context, calendarID int64, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.reminders[key]
	return ok && time.Since(at) < window, nil
}

func (s *fakeStore) MarkReminderSent(ctx context.Context, calendarID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[key] = time.Now()
	return nil
}

type fakeFetcher struct {
	status fetch.Status
	body   []byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	if f.status == fetch.NotModified {
		return &fetch.Result{Status: fetch.NotModified}, nil
	}
	return &fetch.Result{Status: f.status, Body: f.body}, nil
}

func (f *fakeFetcher) Get(ctx context.Context, url, accept string) ([]byte, error) {
	if f.body == nil {
		return nil, errors.New("no body")
	}
	return f.body, nil
}

type recordedMessage struct {
	channelID uint64
	messageID uint64
	msg       *chat.Message
}

type fakeAdapter struct {
	*chat.LogAdapter
	mu      sync.Mutex
	sends   []recordedMessage
	edits   []recordedMessage
	deletes []recordedMessage
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{LogAdapter: chat.NewLogAdapter(zerolog.Nop())}
}

func (a *fakeAdapter) SendMessage(ctx context.Context, channelID uint64, m *chat.Message) (uint64, error) {
	id, err := a.LogAdapter.SendMessage(ctx, channelID, m)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, recordedMessage{channelID, id, m})
	return id, err
}

func (a *fakeAdapter) EditMessage(ctx context.Context, channelID, messageID uint64, m *chat.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, recordedMessage{channelID, messageID, m})
	return nil
}

func (a *fakeAdapter) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes = append(a.deletes, recordedMessage{channelID, messageID, nil})
	return nil
}

func testCalendar() *storage.Calendar {
	return &storage.Calendar{
		ID:             1,
		GuildID:        10,
		Name:           "events",
		URL:            "https://example.org/cal.ics",
		TextChannelID:  20,
		VoiceChannelID: 21,
	}
}

func testEngine(store *fakeStore, fetcher *fakeFetcher) (*Engine, *fakeAdapter) {
	adapter := newFakeAdapter()
	runner := retry.NewRunner(config.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		ContextTTL: time.Hour,
	}, zerolog.Nop())
	e := NewEngine(store, fetcher, runner, adapter, config.CalendarConfig{LookaheadWeeks: 4}, zerolog.Nop())
	return e, adapter
}

// icsWith renders a minimal calendar with hourly events at the given
// UTC start times.
func icsWith(titles map[string]time.Time) []byte {
	body := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//test//test//EN\n"
	i := 0
	for title, start := range titles {
		body += fmt.Sprintf(
			"BEGIN:VEVENT\nUID:ev-%d\nSUMMARY:%s\nDTSTART:%s\nDTEND:%s\nEND:VEVENT\n",
			i, title,
			start.UTC().Format("20060102T150405Z"),
			start.Add(time.Hour).UTC().Format("20060102T150405Z"))
		i++
	}
	return []byte(body + "END:VCALENDAR\n")
}

func fixedNow() time.Time {
	// A Tuesday, mid-week.
	return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
}

func TestSyncCalendarCreatesEventsAndSummary(t *testing.T) {
	now := fixedNow()
	cal := testCalendar()
	store := newFakeStore(cal)
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Raid night": now.Add(24 * time.Hour),
		"Standup":    now.Add(2 * time.Hour),
	})}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))

	require.Len(t, store.links[cal.ID], 2, "both events linked")
	require.Len(t, adapter.sends, 1, "one summary message")
	require.Equal(t, cal.TextChannelID, adapter.sends[0].channelID)
	require.NotNil(t, cal.LastMessageID)
	require.NotNil(t, cal.WeekStart)
	require.Equal(t, time.Monday, cal.WeekStart.Weekday())
	require.NotNil(t, cal.LastSync)

	desc := adapter.sends[0].msg.Embeds[0].Description
	require.Contains(t, desc, "Standup")
	require.Contains(t, desc, "Raid night")
}

func TestSyncCalendarEditsSummarySameWeek(t *testing.T) {
	cal := testCalendar()
	store := newFakeStore(cal)
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Standup": fixedNow().Add(2 * time.Hour),
	})}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, adapter.sends, 1)

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, adapter.sends, 1, "same week must edit, not repost")
	require.Len(t, adapter.edits, 1)
	require.Equal(t, *cal.LastMessageID, adapter.edits[0].messageID)
}

func TestSyncCalendarEditsSummaryNonUTCWeekStart(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cal := testCalendar()
	store := newFakeStore(cal)
	store.guild.Timezone = "Europe/Berlin"
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Standup": fixedNow().Add(2 * time.Hour),
	})}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, adapter.sends, 1)
	require.Equal(t, time.Monday, cal.WeekStart.In(berlin).Weekday())

	// A TIMESTAMPTZ scans back as a UTC instant: Monday 00:00 Berlin reads
	// as Sunday evening UTC.
	ws := cal.WeekStart.UTC()
	cal.WeekStart = &ws

	// An hour later, same week: the summary must be edited in place, not
	// deleted and reposted.
	e.now = func() time.Time { return fixedNow().Add(time.Hour) }
	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Empty(t, adapter.deletes)
	require.Len(t, adapter.sends, 1, "same week must never repost")
	require.Len(t, adapter.edits, 1)
}

func TestSyncCalendarWeekRollover(t *testing.T) {
	cal := testCalendar()
	store := newFakeStore(cal)
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Standup": fixedNow().Add(2 * time.Hour),
	})}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	firstMsg := *cal.LastMessageID

	// A week later: old summary goes away, a fresh one is posted.
	e.now = func() time.Time { return fixedNow().AddDate(0, 0, 7) }
	fetcher.body = icsWith(map[string]time.Time{
		"Standup": fixedNow().AddDate(0, 0, 7).Add(2 * time.Hour),
	})
	require.NoError(t, e.SyncCalendar(context.Background(), cal))

	require.Len(t, adapter.deletes, 1)
	require.Equal(t, firstMsg, adapter.deletes[0].messageID)
	require.Len(t, adapter.sends, 2)
	require.NotEqual(t, firstMsg, *cal.LastMessageID)
}

func TestSyncCalendarNotModifiedSameWeekShortCircuits(t *testing.T) {
	cal := testCalendar()
	store := newFakeStore(cal)
	body := icsWith(map[string]time.Time{"Standup": fixedNow().Add(2 * time.Hour)})
	fetcher := &fakeFetcher{status: fetch.Changed, body: body}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	sendsBefore := len(adapter.sends)

	fetcher.status = fetch.NotModified
	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, adapter.sends, sendsBefore)
	require.Empty(t, adapter.edits, "304 in the same week must do nothing")
}

func TestSyncCalendarBlacklistFilters(t *testing.T) {
	cal := testCalendar()
	cal.Blacklist = []string{"cancelled"}
	store := newFakeStore(cal)
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Standup":           fixedNow().Add(2 * time.Hour),
		"Cancelled meeting": fixedNow().Add(3 * time.Hour),
	})}
	e, _ := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, store.links[cal.ID], 1)
	require.Contains(t, store.links[cal.ID], "Standup")
}

func TestSyncCalendarRemovesStaleEvents(t *testing.T) {
	cal := testCalendar()
	store := newFakeStore(cal)
	fetcher := &fakeFetcher{status: fetch.Changed, body: icsWith(map[string]time.Time{
		"Standup": fixedNow().Add(2 * time.Hour),
		"Raid":    fixedNow().Add(4 * time.Hour),
	})}
	e, adapter := testEngine(store, fetcher)
	e.now = fixedNow

	require.NoError(t, e.SyncCalendar(context.Background(), cal))
	require.Len(t, store.links[cal.ID], 2)
	raidID := store.links[cal.ID]["Raid"].EventID

	// Raid disappears upstream: its platform event and link must go.
	fetcher.body = icsWith(map[string]time.Time{
		"Standup": fixedNow().Add(2 * time.Hour),
	})
	require.NoError(t, e.SyncCalendar(context.Background(), cal))

	require.Len(t, store.links[cal.ID], 1)
	require.NotContains(t, store.links[cal.ID], "Raid")
	_, err := adapter.FetchScheduledEvent(context.Background(), cal.GuildID, raidID)
	require.Error(t, err, "platform event must be deleted")
}

func TestReminderTick(t *testing.T) {
	now := fixedNow()
	cal := testCalendar()
	role := uint64(77)
	cal.ReminderRoleID = &role
	store := newFakeStore(cal)
	e, adapter := testEngine(store, &fakeFetcher{})
	e.now = func() time.Time { return now }

	// One event inside the window, one well outside.
	soonID, err := adapter.CreateScheduledEvent(context.Background(), cal.GuildID, &chat.ScheduledEvent{
		Name: "Soon", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), ChannelID: cal.VoiceChannelID,
	})
	require.NoError(t, err)
	lateID, err := adapter.CreateScheduledEvent(context.Background(), cal.GuildID, &chat.ScheduledEvent{
		Name: "Later", Start: now.Add(6 * time.Hour), End: now.Add(7 * time.Hour), ChannelID: cal.VoiceChannelID,
	})
	require.NoError(t, err)
	require.NoError(t, store.AddEventLink(context.Background(), cal.ID, "Soon", soonID))
	require.NoError(t, store.AddEventLink(context.Background(), cal.ID, "Later", lateID))

	require.NoError(t, e.ReminderTick(context.Background()))
	require.Len(t, adapter.sends, 1)
	require.Contains(t, adapter.sends[0].msg.Content, "<@&77>")
	require.Contains(t, adapter.sends[0].msg.Embeds[0].Title, "Soon")

	// Second tick inside the resend guard: no duplicate.
	require.NoError(t, e.ReminderTick(context.Background()))
	require.Len(t, adapter.sends, 1)
}

func TestStatusTickStartsAndEndsEvents(t *testing.T) {
	now := fixedNow()
	cal := testCalendar()
	store := newFakeStore(cal)
	e, adapter := testEngine(store, &fakeFetcher{})
	e.now = func() time.Time { return now }

	dueID, _ := adapter.CreateScheduledEvent(context.Background(), cal.GuildID, &chat.ScheduledEvent{
		Name: "Due", Start: now.Add(-time.Minute), End: now.Add(time.Hour),
	})
	futureID, _ := adapter.CreateScheduledEvent(context.Background(), cal.GuildID, &chat.ScheduledEvent{
		Name: "Future", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour),
	})
	require.NoError(t, store.AddEventLink(context.Background(), cal.ID, "Due", dueID))
	require.NoError(t, store.AddEventLink(context.Background(), cal.ID, "Future", futureID))

	require.NoError(t, e.StatusTick(context.Background()))

	due, err := adapter.FetchScheduledEvent(context.Background(), cal.GuildID, dueID)
	require.NoError(t, err)
	require.Equal(t, chat.EventActive, due.State)

	future, err := adapter.FetchScheduledEvent(context.Background(), cal.GuildID, futureID)
	require.NoError(t, err)
	require.Equal(t, chat.EventScheduled, future.State)

	// Gone event retires its link.
	require.NoError(t, adapter.DeleteScheduledEvent(context.Background(), cal.GuildID, futureID))
	require.NoError(t, e.StatusTick(context.Background()))
	require.NotContains(t, store.links[cal.ID], "Future")
}
