package chat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/herr"
)

// LogAdapter is a dry-run Adapter: every side effect is logged and
// recorded in memory instead of reaching a platform. It backs local
// runs without credentials.
type LogAdapter struct {
	logger zerolog.Logger
	ready  chan struct{}
	nextID atomic.Uint64

	mu     sync.Mutex
	events map[uint64]*ScheduledEvent
}

func NewLogAdapter(logger zerolog.Logger) *LogAdapter {
	a := &LogAdapter{
		logger: logger,
		ready:  make(chan struct{}),
		events: make(map[uint64]*ScheduledEvent),
	}
	close(a.ready)
	return a
}

func (a *LogAdapter) Ready() <-chan struct{} { return a.ready }

func (a *LogAdapter) SendMessage(ctx context.Context, channelID uint64, m *Message) (uint64, error) {
	id := a.nextID.Add(1)
	a.logger.Info().Uint64("channel", channelID).Uint64("message", id).Int("embeds", len(m.Embeds)).Msg("send")
	return id, nil
}

func (a *LogAdapter) EditMessage(ctx context.Context, channelID, messageID uint64, m *Message) error {
	a.logger.Info().Uint64("channel", channelID).Uint64("message", messageID).Msg("edit")
	return nil
}

func (a *LogAdapter) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	a.logger.Info().Uint64("channel", channelID).Uint64("message", messageID).Msg("delete")
	return nil
}

func (a *LogAdapter) CrosspostMessage(ctx context.Context, channelID, messageID uint64) error {
	a.logger.Info().Uint64("channel", channelID).Uint64("message", messageID).Msg("crosspost")
	return nil
}

func (a *LogAdapter) CreateScheduledEvent(ctx context.Context, guildID uint64, e *ScheduledEvent) (uint64, error) {
	id := a.nextID.Add(1)
	stored := *e
	stored.ID = id
	stored.State = EventScheduled
	a.mu.Lock()
	a.events[id] = &stored
	a.mu.Unlock()
	a.logger.Info().Uint64("guild", guildID).Uint64("event", id).Str("name", e.Name).Msg("event create")
	return id, nil
}

func (a *LogAdapter) EditScheduledEvent(ctx context.Context, guildID, eventID uint64, e *ScheduledEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.events[eventID]
	if !ok {
		return herr.Newf(herr.NotFound, "event %d", eventID)
	}
	state := stored.State
	*stored = *e
	stored.ID = eventID
	stored.State = state
	return nil
}

func (a *LogAdapter) FetchScheduledEvent(ctx context.Context, guildID, eventID uint64) (*ScheduledEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.events[eventID]
	if !ok {
		return nil, herr.Newf(herr.NotFound, "event %d", eventID)
	}
	copy := *stored
	return &copy, nil
}

func (a *LogAdapter) StartScheduledEvent(ctx context.Context, guildID, eventID uint64) error {
	return a.setState(eventID, EventActive)
}

func (a *LogAdapter) EndScheduledEvent(ctx context.Context, guildID, eventID uint64) error {
	return a.setState(eventID, EventCompleted)
}

func (a *LogAdapter) DeleteScheduledEvent(ctx context.Context, guildID, eventID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.events[eventID]; !ok {
		return herr.Newf(herr.NotFound, "event %d", eventID)
	}
	delete(a.events, eventID)
	return nil
}

func (a *LogAdapter) setState(eventID uint64, s EventState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.events[eventID]
	if !ok {
		return herr.Newf(herr.NotFound, "event %d", eventID)
	}
	stored.State = s
	return nil
}
