// Package feed turns RSS/Atom sources into idempotent, edit-in-place chat
// messages: each entry is posted once per guild and edited when its
// upstream content changes.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/fetch"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/metrics"
	"github.com/herald-labs/herald/internal/retry"
	"github.com/herald-labs/herald/internal/storage"
)

// recentPassSize bounds the recent-updates pass: only this many of the
// newest entries are re-examined for in-place edits.
const recentPassSize = 5

const pollConcurrency = 4

// Store is the slice of the persistent store the feed engine uses.
type Store interface {
	ListEnabledFeeds(ctx context.Context) ([]*storage.Feed, error)
	GetGuild(ctx context.Context, id uint64) (*storage.Guild, error)
	PostedEntry(ctx context.Context, guildID uint64, guid string) (*storage.PostedEntry, error)
	MarkPosted(ctx context.Context, e *storage.PostedEntry) error
	UpdatePostedHash(ctx context.Context, guildID uint64, guid, hash string) error
	IncrementFeedFailure(ctx context.Context, id int64) (int, error)
	ResetFeedFailure(ctx context.Context, id int64) error
	SetFeedEnabled(ctx context.Context, id int64, enabled bool) error
	WebhookURL(ctx context.Context, channelID uint64) (string, error)
}

// Fetcher is what the engine needs from the HTTP layer.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
	Get(ctx context.Context, url string, accept string) ([]byte, error)
}

// Webhooks posts and edits messages through channel webhooks, which is how
// posting-identity feeds render.
type Webhooks interface {
	Post(ctx context.Context, hookURL string, payload chat.WebhookPayload, files ...chat.Attachment) (uint64, error)
	Edit(ctx context.Context, hookURL string, messageID uint64, payload chat.WebhookPayload) error
}

type Engine struct {
	store    Store
	fetcher  Fetcher
	runner   *retry.Runner
	adapter  chat.Adapter
	webhooks Webhooks
	cfg      config.FeedConfig
	parser   *gofeed.Parser
	logger   zerolog.Logger

	now func() time.Time
}

func NewEngine(store Store, fetcher Fetcher, runner *retry.Runner, adapter chat.Adapter, webhooks Webhooks, cfg config.FeedConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		fetcher:  fetcher,
		runner:   runner,
		adapter:  adapter,
		webhooks: webhooks,
		cfg:      cfg,
		parser:   gofeed.NewParser(),
		logger:   logger,
		now:      time.Now,
	}
}

// PollAll runs one poll cycle over every enabled feed. Feeds are isolated:
// a failing feed only affects its own failure counter.
func (e *Engine) PollAll(ctx context.Context) error {
	feeds, err := e.store.ListEnabledFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)
	for _, f := range feeds {
		f := f
		g.Go(func() error {
			if err := e.PollFeed(ctx, f); err != nil {
				e.logger.Warn().Err(err).Int64("feed", f.ID).Str("name", f.Name).Msg("feed poll failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// PollFeed polls one feed and emits/edits messages as needed.
func (e *Engine) PollFeed(ctx context.Context, f *storage.Feed) error {
	opID := fmt.Sprintf("poll_feed:%d", f.ID)

	var result *fetch.Result
	err := e.runner.Execute(ctx, opID, func(ctx context.Context) error {
		r, err := e.fetcher.Fetch(ctx, f.URL)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		metrics.FeedPolls.WithLabelValues("fetch_error").Inc()
		return e.recordFailure(ctx, f, err)
	}

	if result.Status == fetch.NotModified {
		// 304 leaves us without a body; nothing to diff against, so the
		// recent-updates pass has no input this cycle.
		metrics.FeedPolls.WithLabelValues("not_modified").Inc()
		return e.recordSuccess(ctx, f)
	}

	parsed, err := e.parser.Parse(bytes.NewReader(result.Body))
	if err != nil {
		metrics.FeedPolls.WithLabelValues("parse_error").Inc()
		return e.recordFailure(ctx, f, herr.New(herr.PermanentSource, err))
	}
	entries := ExtractEntries(parsed)

	guild, err := e.store.GetGuild(ctx, f.GuildID)
	if err != nil {
		return err
	}
	loc := guildLocation(guild)

	processed := make(map[string]bool)
	if result.Status == fetch.Changed {
		e.processNewEntries(ctx, f, entries, loc, processed)
	} else {
		metrics.FeedPolls.WithLabelValues("unchanged").Inc()
	}

	// Bounded recent-updates pass: global-hash equality can mask local
	// edits when an upstream feed rotates entries, so the newest entries
	// are always re-checked against their stored fingerprints.
	e.recentUpdatesPass(ctx, f, entries, loc, processed)

	return e.recordSuccess(ctx, f)
}

func (e *Engine) processNewEntries(ctx context.Context, f *storage.Feed, entries []*Entry, loc *time.Location, processed map[string]bool) {
	maxItems := f.MaxItems
	if maxItems <= 0 {
		maxItems = e.cfg.MaxItemsDefault
	}

	count := 0
	for _, entry := range entries {
		if count >= maxItems {
			break
		}
		count++

		if entry.GUID == "" {
			continue
		}
		processed[entry.GUID] = true

		posted, err := e.store.PostedEntry(ctx, f.GuildID, entry.GUID)
		if err != nil {
			e.logger.Error().Err(err).Str("guid", entry.GUID).Msg("posted-entry lookup failed")
			continue
		}

		hash := entry.ContentHash()
		switch {
		case posted == nil:
			if !entry.Published.IsZero() && e.now().Sub(entry.Published) > e.cfg.MaxPostAge {
				continue
			}
			e.postEntry(ctx, f, entry, hash, loc)
		case posted.ContentHash != hash:
			e.editEntry(ctx, f, entry, posted, hash, loc)
		}
	}
	metrics.FeedPolls.WithLabelValues("changed").Inc()
}

func (e *Engine) recentUpdatesPass(ctx context.Context, f *storage.Feed, entries []*Entry, loc *time.Location, processed map[string]bool) {
	checked := 0
	for _, entry := range entries {
		if checked >= recentPassSize {
			break
		}
		if entry.GUID == "" || processed[entry.GUID] {
			continue
		}
		if entry.Published.IsZero() || e.now().Sub(entry.Published) > 24*time.Hour {
			continue
		}
		checked++

		posted, err := e.store.PostedEntry(ctx, f.GuildID, entry.GUID)
		if err != nil || posted == nil {
			continue
		}
		if hash := entry.ContentHash(); posted.ContentHash != hash {
			e.editEntry(ctx, f, entry, posted, hash, loc)
		}
	}
}

func (e *Engine) postEntry(ctx context.Context, f *storage.Feed, entry *Entry, hash string, loc *time.Location) {
	e.resolveThumbnail(ctx, f, entry)

	embed, err := e.renderEntry(f, entry, loc)
	if err != nil {
		e.logger.Error().Err(err).Int64("feed", f.ID).Msg("embed render failed")
		return
	}

	msgID, viaWebhook, err := e.send(ctx, f, embed)
	if err != nil {
		e.logger.Warn().Err(err).Int64("feed", f.ID).Str("guid", entry.GUID).Msg("entry post failed")
		return
	}

	channelID := f.ChannelID
	rec := &storage.PostedEntry{
		GuildID:     f.GuildID,
		FeedID:      f.ID,
		GUID:        entry.GUID,
		MessageID:   &msgID,
		ChannelID:   &channelID,
		ContentHash: hash,
	}
	if !entry.Published.IsZero() {
		published := entry.Published
		rec.PublishedAt = &published
	}
	if err := e.store.MarkPosted(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("guid", entry.GUID).Msg("mark-posted failed")
		return
	}
	metrics.EntriesPosted.Inc()

	if f.Crosspost && !viaWebhook {
		if err := e.adapter.CrosspostMessage(ctx, f.ChannelID, msgID); err != nil {
			e.logger.Debug().Err(err).Msg("crosspost failed")
		}
	}
}

// editEntry delivers a correction by editing the original message. The
// stored hash is updated even when the edit fails: at-least-once edit
// semantics, a later real change re-edits.
func (e *Engine) editEntry(ctx context.Context, f *storage.Feed, entry *Entry, posted *storage.PostedEntry, hash string, loc *time.Location) {
	defer func() {
		if err := e.store.UpdatePostedHash(ctx, f.GuildID, entry.GUID, hash); err != nil {
			e.logger.Error().Err(err).Str("guid", entry.GUID).Msg("hash update failed")
		}
	}()

	if posted.MessageID == nil || posted.ChannelID == nil {
		return
	}

	e.resolveThumbnail(ctx, f, entry)
	embed, err := e.renderEntry(f, entry, loc)
	if err != nil {
		e.logger.Error().Err(err).Int64("feed", f.ID).Msg("embed render failed")
		return
	}

	if err := e.edit(ctx, f, *posted.ChannelID, *posted.MessageID, embed); err != nil {
		if herr.Is(err, herr.NotFound) {
			e.logger.Warn().Int64("feed", f.ID).Str("guid", entry.GUID).Msg("posted message gone, cannot edit")
		} else {
			e.logger.Warn().Err(err).Str("guid", entry.GUID).Msg("message edit failed")
		}
		return
	}
	metrics.EntriesEdited.Inc()
}

func (e *Engine) renderEntry(f *storage.Feed, entry *Entry, loc *time.Location) (*chat.Embed, error) {
	template := f.Template
	if IsBlueskyFeed(f.URL) {
		template = []byte(BlueskyTemplate)
	}
	embed, err := RenderTemplate(template, entry.TemplateVars(loc))
	if err != nil {
		return nil, err
	}
	if embed.Color == 0 && f.AccentColor != 0 {
		embed.Color = f.AccentColor
	}
	return embed, nil
}

// resolveThumbnail appends the network steps of the thumbnail search
// order: Bluesky post expansion, then OpenGraph of the link.
func (e *Engine) resolveThumbnail(ctx context.Context, f *storage.Feed, entry *Entry) {
	if entry.Thumbnail != "" {
		return
	}
	if IsBlueskyFeed(f.URL) {
		if url := blueskyThumbnail(ctx, e.fetcher, entry.Link); url != "" {
			entry.Thumbnail = url
			return
		}
	}
	entry.Thumbnail = openGraphThumbnail(ctx, e.fetcher, entry.Link)
}

func (e *Engine) send(ctx context.Context, f *storage.Feed, embed *chat.Embed) (msgID uint64, viaWebhook bool, err error) {
	if f.Username != "" {
		hookURL, err := e.store.WebhookURL(ctx, f.ChannelID)
		if err == nil && hookURL != "" {
			id, err := e.webhooks.Post(ctx, hookURL, chat.WebhookPayload{
				Username:  f.Username,
				AvatarURL: f.AvatarURL,
				Embeds:    []chat.Embed{*embed},
			})
			if err == nil {
				return id, true, nil
			}
			e.logger.Debug().Err(err).Int64("feed", f.ID).Msg("webhook post failed, falling back to adapter")
		}
	}
	id, err := e.adapter.SendMessage(ctx, f.ChannelID, &chat.Message{Embeds: []chat.Embed{*embed}})
	return id, false, err
}

func (e *Engine) edit(ctx context.Context, f *storage.Feed, channelID, messageID uint64, embed *chat.Embed) error {
	if f.Username != "" {
		hookURL, err := e.store.WebhookURL(ctx, channelID)
		if err == nil && hookURL != "" {
			return e.webhooks.Edit(ctx, hookURL, messageID, chat.WebhookPayload{
				Username:  f.Username,
				AvatarURL: f.AvatarURL,
				Embeds:    []chat.Embed{*embed},
			})
		}
	}
	return e.adapter.EditMessage(ctx, channelID, messageID, &chat.Message{Embeds: []chat.Embed{*embed}})
}

// recordFailure bumps the consecutive-failure counter and disables the
// feed once it crosses the threshold.
func (e *Engine) recordFailure(ctx context.Context, f *storage.Feed, cause error) error {
	count, err := e.store.IncrementFeedFailure(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("increment failure: %w", err)
	}
	if count >= e.cfg.FailureThreshold {
		if err := e.store.SetFeedEnabled(ctx, f.ID, false); err != nil {
			return fmt.Errorf("disable feed: %w", err)
		}
		e.logger.Warn().
			Int64("feed", f.ID).
			Str("name", f.Name).
			Int("failures", count).
			Msg("feed disabled after repeated failures")
	}
	return cause
}

func (e *Engine) recordSuccess(ctx context.Context, f *storage.Feed) error {
	if err := e.store.ResetFeedFailure(ctx, f.ID); err != nil {
		return fmt.Errorf("reset failure: %w", err)
	}
	return nil
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
