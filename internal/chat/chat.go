// Package chat defines the surface the engine emits side effects through.
// The platform SDK implements Adapter; the engine never imports the SDK.
package chat

import (
	"context"
	"time"
)

type EmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type Attachment struct {
	Name string
	Data []byte
}

type Message struct {
	Content     string
	Embeds      []Embed
	Attachments []Attachment
}

type EventState string

const (
	EventScheduled EventState = "scheduled"
	EventActive    EventState = "active"
	EventCompleted EventState = "completed"
	EventCancelled EventState = "cancelled"
)

type ScheduledEvent struct {
	ID          uint64
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	ChannelID   uint64
	State       EventState
}

// Adapter is the chat-platform boundary. Every call is I/O and may fail;
// a missing artifact surfaces as herr.NotFound.
type Adapter interface {
	SendMessage(ctx context.Context, channelID uint64, m *Message) (uint64, error)
	EditMessage(ctx context.Context, channelID, messageID uint64, m *Message) error
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
	CrosspostMessage(ctx context.Context, channelID, messageID uint64) error

	CreateScheduledEvent(ctx context.Context, guildID uint64, e *ScheduledEvent) (uint64, error)
	EditScheduledEvent(ctx context.Context, guildID, eventID uint64, e *ScheduledEvent) error
	FetchScheduledEvent(ctx context.Context, guildID, eventID uint64) (*ScheduledEvent, error)
	StartScheduledEvent(ctx context.Context, guildID, eventID uint64) error
	EndScheduledEvent(ctx context.Context, guildID, eventID uint64) error
	DeleteScheduledEvent(ctx context.Context, guildID, eventID uint64) error

	// Ready closes once the platform session is established. The scheduler
	// does not start tasks before then.
	Ready() <-chan struct{}
}

// EventURL renders the platform deep link for a scheduled event.
func EventURL(guildID, eventID uint64) string {
	return formatEventURL(guildID, eventID)
}
