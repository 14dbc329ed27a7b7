package feed

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
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/retry"
	"github.com/herald-labs/herald/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	guild      *storage.Guild
	posted     map[string]*storage.PostedEntry
	failures   map[int64]int
	enabled    map[int64]bool
	webhookURL string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guild:    &storage.Guild{ID: 1, Name: "g", Timezone: "UTC"},
		posted:   make(map[string]*storage.PostedEntry),
		failures: make(map[int64]int),
		enabled:  make(map[int64]bool),
	}
}

func (s *fakeStore) ListEnabledFeeds(ctx context.Context) ([]*storage.Feed, error) { return nil, nil }

func (s *fakeStore) GetGuild(ctx context.Context, id uint64) (*storage.Guild, error) {
	return s.guild, nil
}

func (s *fakeStore) PostedEntry(ctx context.Context, guildID uint64, guid string) (*storage.PostedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted[guid], nil
}

func (s *fakeStore) MarkPosted(ctx context.Context, e *storage.PostedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted[e.GUID] = e
	return nil
}

func (s *fakeStore) UpdatePostedHash(ctx context.Context, guildID uint64, guid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posted[guid]; ok {
		p.ContentHash = hash
	}
	return nil
}

func (s *fakeStore) IncrementFeedFailure(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id]++
	return s.failures[id], nil
}

func (s *fakeStore) ResetFeedFailure(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = 0
	return nil
}

func (s *fakeStore) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[id] = enabled
	return nil
}

func (s *fakeStore) WebhookURL(ctx context.Context, channelID uint64) (string, error) {
	return s.webhookURL, nil
}

type fakeFetcher struct {
	result *fetch.Result
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	return f.result, f.err
}

func (f *fakeFetcher) Get(ctx context.Context, url, accept string) ([]byte, error) {
	return nil, errors.New("no network in tests")
}

type sentMessage struct {
	channelID uint64
	messageID uint64
	embed     chat.Embed
}

type fakeAdapter struct {
	*chat.LogAdapter
	mu    sync.Mutex
	sends []sentMessage
	edits []sentMessage
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{LogAdapter: chat.NewLogAdapter(zerolog.Nop())}
}

func (a *fakeAdapter) SendMessage(ctx context.Context, channelID uint64, m *chat.Message) (uint64, error) {
	id, err := a.LogAdapter.SendMessage(ctx, channelID, m)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, sentMessage{channelID: channelID, messageID: id, embed: m.Embeds[0]})
	return id, err
}

func (a *fakeAdapter) EditMessage(ctx context.Context, channelID, messageID uint64, m *chat.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, sentMessage{channelID: channelID, messageID: messageID, embed: m.Embeds[0]})
	return nil
}

type fakeWebhooks struct {
	mu    sync.Mutex
	posts []chat.WebhookPayload
	edits []chat.WebhookPayload
}

func (w *fakeWebhooks) Post(ctx context.Context, hookURL string, payload chat.WebhookPayload, files ...chat.Attachment) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posts = append(w.posts, payload)
	return uint64(len(w.posts)), nil
}

func (w *fakeWebhooks) Edit(ctx context.Context, hookURL string, messageID uint64, payload chat.WebhookPayload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edits = append(w.edits, payload)
	return nil
}

func testEngine(store *fakeStore, fetcher *fakeFetcher) (*Engine, *fakeAdapter, *fakeWebhooks) {
	adapter := newFakeAdapter()
	webhooks := &fakeWebhooks{}
	runner := retry.NewRunner(config.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		ContextTTL: time.Hour,
	}, zerolog.Nop())
	cfg := config.FeedConfig{
		MaxPostAge:       24 * time.Hour,
		FailureThreshold: 3,
		MaxItemsDefault:  3,
	}
	e := NewEngine(store, fetcher, runner, adapter, webhooks, cfg, zerolog.Nop())
	return e, adapter, webhooks
}

func rssBody(items ...string) []byte {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`
	for _, it := range items {
		body += it
	}
	return []byte(body + `</channel></rss>`)
}

func rssItem(guid, title, summary string, published time.Time) string {
	return fmt.Sprintf(
		`<item><guid>%s</guid><title>%s</title><description>%s</description><link>https://example.org/%s</link><pubDate>%s</pubDate></item>`,
		guid, title, summary, guid, published.UTC().Format(time.RFC1123Z))
}

func testFeed() *storage.Feed {
	return &storage.Feed{ID: 7, GuildID: 1, Name: "news", URL: "https://example.org/rss", ChannelID: 42, Enabled: true}
}

func TestPollFeedPostsOncePerEntry(t *testing.T) {
	now := time.Now()
	body := rssBody(
		rssItem("a", "First", "s1", now.Add(-time.Hour)),
		rssItem("b", "Second", "s2", now.Add(-2*time.Hour)),
	)
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: body}}
	e, adapter, _ := testEngine(store, fetcher)

	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Len(t, adapter.sends, 2)
	require.Equal(t, "First", adapter.sends[0].embed.Title)
	require.Contains(t, store.posted, "a")
	require.Contains(t, store.posted, "b")

	// Same body again: everything already posted, nothing new goes out.
	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Len(t, adapter.sends, 2)
	require.Empty(t, adapter.edits)
}

func TestPollFeedEditsChangedEntry(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: rssBody(rssItem("a", "First", "v1", now.Add(-time.Hour)))}}
	e, adapter, _ := testEngine(store, fetcher)

	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Len(t, adapter.sends, 1)
	firstHash := store.posted["a"].ContentHash

	fetcher.result = &fetch.Result{Status: fetch.Changed, Body: rssBody(rssItem("a", "First", "v2 corrected", now.Add(-time.Hour)))}
	require.NoError(t, e.PollFeed(context.Background(), testFeed()))

	require.Len(t, adapter.sends, 1, "correction must edit, not repost")
	require.Len(t, adapter.edits, 1)
	require.Equal(t, adapter.sends[0].messageID, adapter.edits[0].messageID)
	require.Equal(t, "v2 corrected", adapter.edits[0].embed.Description)
	require.NotEqual(t, firstHash, store.posted["a"].ContentHash)
}

func TestPollFeedRecentUpdatesPassOnUnchangedBody(t *testing.T) {
	// Global body unchanged but a stored hash differs: the recent pass
	// must still deliver the edit.
	now := time.Now()
	body := rssBody(rssItem("a", "First", "current", now.Add(-time.Hour)))
	store := newFakeStore()
	msgID, chanID := uint64(99), uint64(42)
	store.posted["a"] = &storage.PostedEntry{
		GuildID: 1, FeedID: 7, GUID: "a",
		MessageID: &msgID, ChannelID: &chanID,
		ContentHash: "stale-hash",
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Unchanged, Body: body}}
	e, adapter, _ := testEngine(store, fetcher)

	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Empty(t, adapter.sends)
	require.Len(t, adapter.edits, 1)
	require.Equal(t, msgID, adapter.edits[0].messageID)
}

func TestPollFeedAgeCutoff(t *testing.T) {
	now := time.Now()
	body := rssBody(
		rssItem("old", "Ancient", "s", now.Add(-48*time.Hour)),
		rssItem("new", "Fresh", "s", now.Add(-time.Hour)),
	)
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: body}}
	e, adapter, _ := testEngine(store, fetcher)

	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Len(t, adapter.sends, 1)
	require.Equal(t, "Fresh", adapter.sends[0].embed.Title)
	require.NotContains(t, store.posted, "old")
}

func TestPollFeedMaxItems(t *testing.T) {
	now := time.Now()
	var items []string
	for i := 0; i < 6; i++ {
		items = append(items, rssItem(fmt.Sprintf("g%d", i), fmt.Sprintf("T%d", i), "s", now.Add(-time.Hour)))
	}
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: rssBody(items...)}}
	e, adapter, _ := testEngine(store, fetcher)

	f := testFeed()
	f.MaxItems = 2
	require.NoError(t, e.PollFeed(context.Background(), f))
	require.Len(t, adapter.sends, 2)
}

func TestPollFeedFailureThresholdDisables(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{err: herr.Newf(herr.Transient, "503")}
	e, _, _ := testEngine(store, fetcher)
	f := testFeed()

	for i := 0; i < 2; i++ {
		require.Error(t, e.PollFeed(context.Background(), f))
	}
	require.NotContains(t, store.enabled, f.ID, "feed must stay enabled below threshold")

	require.Error(t, e.PollFeed(context.Background(), f))
	require.Equal(t, false, store.enabled[f.ID], "third consecutive failure must disable")
}

func TestPollFeedNotModifiedResetsFailures(t *testing.T) {
	store := newFakeStore()
	store.failures[7] = 2
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.NotModified}}
	e, adapter, _ := testEngine(store, fetcher)

	require.NoError(t, e.PollFeed(context.Background(), testFeed()))
	require.Empty(t, adapter.sends)
	require.Equal(t, 0, store.failures[7])
}

func TestPollFeedPostsViaWebhookIdentity(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.webhookURL = "https://hooks.example/1"
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: rssBody(rssItem("a", "First", "s", now.Add(-time.Hour)))}}
	e, adapter, webhooks := testEngine(store, fetcher)

	f := testFeed()
	f.Username = "Newsbot"
	f.AvatarURL = "https://example.org/a.png"
	require.NoError(t, e.PollFeed(context.Background(), f))

	require.Empty(t, adapter.sends, "identity feeds post through the webhook")
	require.Len(t, webhooks.posts, 1)
	require.Equal(t, "Newsbot", webhooks.posts[0].Username)
}

func TestPollFeedParseErrorCountsAsFailure(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: fetch.Changed, Body: []byte("not xml at all")}}
	e, _, _ := testEngine(store, fetcher)

	err := e.PollFeed(context.Background(), testFeed())
	require.Error(t, err)
	require.True(t, herr.Is(err, herr.PermanentSource))
	require.Equal(t, 1, store.failures[7])
}
