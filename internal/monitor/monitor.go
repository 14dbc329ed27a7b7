// Package monitor keeps long-lived status messages fresh: each monitor
// row names a channel message that gets its embed rebuilt and edited in
// place on its own refresh interval.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/storage"
)

// Store is the monitor slice of the persistent store.
type Store interface {
	ListMonitors(ctx context.Context) ([]*storage.Monitor, error)
	TouchMonitor(ctx context.Context, channelID uint64, kind storage.MonitorKind, at time.Time) error
	DeleteMonitor(ctx context.Context, channelID uint64, kind storage.MonitorKind) error
	UpsertMonitor(ctx context.Context, m *storage.Monitor) error

	ListGuilds(ctx context.Context) ([]*storage.Guild, error)
	ListEnabledFeeds(ctx context.Context) ([]*storage.Feed, error)
	ListCalendars(ctx context.Context) ([]*storage.Calendar, error)
}

type Refresher struct {
	store   Store
	adapter chat.Adapter
	logger  zerolog.Logger

	startedAt time.Time
	now       func() time.Time
}

func NewRefresher(store Store, adapter chat.Adapter, logger zerolog.Logger) *Refresher {
	return &Refresher{
		store:     store,
		adapter:   adapter,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Register creates or replaces a monitor message in a channel. The
// initial message is posted immediately.
func (r *Refresher) Register(ctx context.Context, channelID uint64, kind storage.MonitorKind, refreshSeconds int) error {
	embed, err := r.buildEmbed(ctx, kind)
	if err != nil {
		return err
	}
	msgID, err := r.adapter.SendMessage(ctx, channelID, &chat.Message{Embeds: []chat.Embed{*embed}})
	if err != nil {
		return err
	}
	return r.store.UpsertMonitor(ctx, &storage.Monitor{
		ChannelID:      channelID,
		Kind:           kind,
		MessageID:      msgID,
		RefreshSeconds: refreshSeconds,
	})
}

// RefreshTick edits every monitor message whose refresh interval has
// elapsed. A deleted message retires its monitor row.
func (r *Refresher) RefreshTick(ctx context.Context) error {
	monitors, err := r.store.ListMonitors(ctx)
	if err != nil {
		return err
	}
	now := r.now()

	for _, m := range monitors {
		if now.Sub(m.UpdatedAt) < time.Duration(m.RefreshSeconds)*time.Second {
			continue
		}

		embed, err := r.buildEmbed(ctx, m.Kind)
		if err != nil {
			r.logger.Warn().Err(err).Str("kind", string(m.Kind)).Msg("monitor embed build failed")
			continue
		}

		err = r.adapter.EditMessage(ctx, m.ChannelID, m.MessageID, &chat.Message{Embeds: []chat.Embed{*embed}})
		if err != nil {
			if herr.Is(err, herr.NotFound) {
				if err := r.store.DeleteMonitor(ctx, m.ChannelID, m.Kind); err != nil {
					r.logger.Error().Err(err).Uint64("channel", m.ChannelID).Msg("monitor retire failed")
				}
				continue
			}
			r.logger.Warn().Err(err).Uint64("channel", m.ChannelID).Msg("monitor edit failed")
			continue
		}

		if err := r.store.TouchMonitor(ctx, m.ChannelID, m.Kind, now); err != nil {
			r.logger.Error().Err(err).Uint64("channel", m.ChannelID).Msg("monitor touch failed")
		}
	}
	return nil
}

func (r *Refresher) buildEmbed(ctx context.Context, kind storage.MonitorKind) (*chat.Embed, error) {
	switch kind {
	case storage.MonitorSystem:
		return r.systemEmbed()
	case storage.MonitorServer:
		return r.serverEmbed(ctx)
	default:
		return nil, fmt.Errorf("unknown monitor kind %q", kind)
	}
}

func (r *Refresher) systemEmbed() (*chat.Embed, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &chat.Embed{
		Title: "System status",
		Fields: []chat.EmbedField{
			{Name: "Uptime", Value: formatUptime(r.now().Sub(r.startedAt)), Inline: true},
			{Name: "Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
			{Name: "Heap", Value: fmt.Sprintf("%.1f MiB", float64(ms.HeapAlloc)/(1<<20)), Inline: true},
		},
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}, nil
}

func (r *Refresher) serverEmbed(ctx context.Context) (*chat.Embed, error) {
	guilds, err := r.store.ListGuilds(ctx)
	if err != nil {
		return nil, err
	}
	feeds, err := r.store.ListEnabledFeeds(ctx)
	if err != nil {
		return nil, err
	}
	cals, err := r.store.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}

	failing := 0
	for _, f := range feeds {
		if f.FailureCount > 0 {
			failing++
		}
	}

	return &chat.Embed{
		Title: "Service status",
		Fields: []chat.EmbedField{
			{Name: "Guilds", Value: fmt.Sprintf("%d", len(guilds)), Inline: true},
			{Name: "Feeds", Value: fmt.Sprintf("%d (%d failing)", len(feeds), failing), Inline: true},
			{Name: "Calendars", Value: fmt.Sprintf("%d", len(cals)), Inline: true},
		},
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}, nil
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
