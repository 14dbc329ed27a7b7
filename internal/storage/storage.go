// Package storage defines the persistent model and the Store contract.
// All operations are safe for concurrent use and atomic at row level.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

type Guild struct {
	ID        uint64
	Name      string
	Timezone  string
	CreatedAt time.Time
}

type Feed struct {
	ID           int64
	GuildID      uint64
	Name         string
	URL          string
	ChannelID    uint64
	Username     string
	AvatarURL    string
	AccentColor  int
	MaxItems     int
	Crosspost    bool
	Template     json.RawMessage
	Enabled      bool
	FailureCount int
	LastSuccess  *time.Time
	CreatedAt    time.Time
}

type PostedEntry struct {
	GuildID     uint64
	FeedID      int64
	GUID        string
	MessageID   *uint64
	ChannelID   *uint64
	ContentHash string
	PostedAt    time.Time
	PublishedAt *time.Time
}

type Calendar struct {
	ID             int64
	GuildID        uint64
	Name           string
	URL            string
	TextChannelID  uint64
	VoiceChannelID uint64
	Whitelist      []string
	Blacklist      []string
	ReminderRoleID *uint64
	LastMessageID  *uint64
	WeekStart      *time.Time
	LastSync       *time.Time
}

type EventLink struct {
	CalendarID int64
	Title      string
	EventID    uint64
	CreatedAt  time.Time
}

type VisualSettings struct {
	LandColor    string `json:"land_color"`
	WaterColor   string `json:"water_color"`
	CountryColor string `json:"country_color"`
	StateColor   string `json:"state_color"`
	RiverColor   string `json:"river_color"`
	PinColor     string `json:"pin_color"`
	PinSize      int    `json:"pin_size"`
}

// DefaultVisual is the out-of-the-box map palette.
func DefaultVisual() VisualSettings {
	return VisualSettings{
		LandColor:    "#f5f0e1",
		WaterColor:   "#aad3df",
		CountryColor: "#666666",
		StateColor:   "#999999",
		RiverColor:   "#7fb3d5",
		PinColor:     "#d62828",
		PinSize:      12,
	}
}

type MapSettings struct {
	GuildID        uint64
	Region         string
	ChannelID      *uint64
	MessageID      *uint64
	Visual         VisualSettings
	AllowProximity bool
}

type MapPin struct {
	GuildID  uint64
	UserID   uint64
	Lat      float64
	Lng      float64
	Label    string
	Color    string
	PinnedAt time.Time
}

type FeedHTTPCache struct {
	URL          string
	ETag         string
	LastModified string
	ContentHash  string
	CheckedAt    time.Time
}

type Moderation struct {
	GuildID          uint64
	MemberLogWebhook string
	AutoJoinRoleID   *uint64
}

type MonitorKind string

const (
	MonitorSystem MonitorKind = "system"
	MonitorServer MonitorKind = "server"
)

type Monitor struct {
	ChannelID      uint64
	Kind           MonitorKind
	MessageID      uint64
	RefreshSeconds int
	UpdatedAt      time.Time
}

// FeedUpdate carries the nullable fields of a partial feed update.
type FeedUpdate struct {
	URL         *string
	ChannelID   *uint64
	Username    *string
	AvatarURL   *string
	AccentColor *int
	MaxItems    *int
	Crosspost   *bool
	Template    json.RawMessage
}

type Store interface {
	Close()
	// InTx runs fn with every store call inside one transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Guilds
	UpsertGuild(ctx context.Context, id uint64, name, tz string) error
	GetGuild(ctx context.Context, id uint64) (*Guild, error)
	ListGuilds(ctx context.Context) ([]*Guild, error)
	SetGuildTimezone(ctx context.Context, id uint64, tz string) error
	DeleteGuild(ctx context.Context, id uint64) error

	// Feeds
	ListFeedsByGuild(ctx context.Context, guildID uint64) ([]*Feed, error)
	ListEnabledFeeds(ctx context.Context) ([]*Feed, error)
	GetFeed(ctx context.Context, id int64) (*Feed, error)
	CreateFeed(ctx context.Context, f *Feed) (int64, error)
	UpdateFeed(ctx context.Context, id int64, u FeedUpdate) error
	DeleteFeed(ctx context.Context, id int64) error
	IncrementFeedFailure(ctx context.Context, id int64) (int, error)
	ResetFeedFailure(ctx context.Context, id int64) error
	SetFeedEnabled(ctx context.Context, id int64, enabled bool) error

	// Posted entries
	IsPosted(ctx context.Context, guildID uint64, guid string) (bool, error)
	MarkPosted(ctx context.Context, e *PostedEntry) error
	PostedEntry(ctx context.Context, guildID uint64, guid string) (*PostedEntry, error)
	UpdatePostedHash(ctx context.Context, guildID uint64, guid, hash string) error
	CleanupPostedOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Calendars
	ListCalendarsByGuild(ctx context.Context, guildID uint64) ([]*Calendar, error)
	ListCalendars(ctx context.Context) ([]*Calendar, error)
	GetCalendar(ctx context.Context, id int64) (*Calendar, error)
	CreateCalendar(ctx context.Context, c *Calendar) (int64, error)
	UpdateCalendarFilters(ctx context.Context, id int64, whitelist, blacklist []string) error
	UpdateCalendarMessage(ctx context.Context, id int64, messageID uint64, weekStart time.Time) error
	TouchCalendarSync(ctx context.Context, id int64, at time.Time) error
	DeleteCalendar(ctx context.Context, id int64) error

	// Event links
	EventLinks(ctx context.Context, calendarID int64) ([]*EventLink, error)
	AddEventLink(ctx context.Context, calendarID int64, title string, eventID uint64) error
	RemoveEventLink(ctx context.Context, calendarID int64, title string) error
	EventLinkByTitle(ctx context.Context, calendarID int64, title string) (*EventLink, error)
	EventLinkByEventID(ctx context.Context, eventID uint64) (*EventLink, error)
	ListEventLinks(ctx context.Context) ([]*EventLink, error)

	// Reminders
	ReminderSentSince(ctx context.Context, calendarID int64, key string, window time.Duration) (bool, error)
	MarkReminderSent(ctx context.Context, calendarID int64, key string) error
	CleanupRemindersOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Maps
	MapSettings(ctx context.Context, guildID uint64) (*MapSettings, error)
	SetMapRegion(ctx context.Context, guildID uint64, region string) error
	SetMapVisual(ctx context.Context, guildID uint64, v VisualSettings) error
	SetMapMessage(ctx context.Context, guildID uint64, channelID, messageID uint64) error
	ListPins(ctx context.Context, guildID uint64) ([]*MapPin, error)
	GetPin(ctx context.Context, guildID, userID uint64) (*MapPin, error)
	SetPin(ctx context.Context, p *MapPin) error
	DeletePin(ctx context.Context, guildID, userID uint64) error
	CountPins(ctx context.Context, guildID uint64) (int, error)
	PinsInBounds(ctx context.Context, guildID uint64, minLat, maxLat, minLng, maxLng float64) ([]*MapPin, error)

	// Caches
	WebhookURL(ctx context.Context, channelID uint64) (string, error)
	SetWebhookURL(ctx context.Context, channelID uint64, url string) error
	FeedCache(ctx context.Context, url string) (*FeedHTTPCache, error)
	SetFeedCache(ctx context.Context, c *FeedHTTPCache) error

	// Moderation
	ModerationSettings(ctx context.Context, guildID uint64) (*Moderation, error)
	SetMemberLogWebhook(ctx context.Context, guildID uint64, url string) error
	SetAutoJoinRole(ctx context.Context, guildID uint64, roleID *uint64) error

	// Monitors
	UpsertMonitor(ctx context.Context, m *Monitor) error
	ListMonitors(ctx context.Context) ([]*Monitor, error)
	TouchMonitor(ctx context.Context, channelID uint64, kind MonitorKind, at time.Time) error
	DeleteMonitor(ctx context.Context, channelID uint64, kind MonitorKind) error
}
