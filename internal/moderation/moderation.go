// Package moderation owns the member audit log: join/leave events posted
// to a per-guild webhook, plus the auto-join role exposed to the
// platform adapter.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/storage"
)

// Store is the moderation slice of the persistent store.
type Store interface {
	ModerationSettings(ctx context.Context, guildID uint64) (*storage.Moderation, error)
	SetMemberLogWebhook(ctx context.Context, guildID uint64, url string) error
	SetAutoJoinRole(ctx context.Context, guildID uint64, roleID *uint64) error
}

// Webhooks posts through the shared HTTP pool.
type Webhooks interface {
	Post(ctx context.Context, hookURL string, payload chat.WebhookPayload, files ...chat.Attachment) (uint64, error)
}

// Member carries what the adapter knows about a member at event time.
type Member struct {
	UserID      uint64
	Username    string
	AvatarURL   string
	JoinedAt    time.Time
	MemberCount int
}

type Emitter struct {
	store    Store
	webhooks Webhooks
	logger   zerolog.Logger
}

func NewEmitter(store Store, webhooks Webhooks, logger zerolog.Logger) *Emitter {
	return &Emitter{store: store, webhooks: webhooks, logger: logger}
}

// AutoJoinRole returns the role to grant new members, nil when none is
// configured. The adapter calls this on every join.
func (e *Emitter) AutoJoinRole(ctx context.Context, guildID uint64) (*uint64, error) {
	m, err := e.store.ModerationSettings(ctx, guildID)
	if err != nil || m == nil {
		return nil, err
	}
	return m.AutoJoinRoleID, nil
}

// MemberJoined posts a join audit entry. Guilds without a member-log
// webhook are a no-op.
func (e *Emitter) MemberJoined(ctx context.Context, guildID uint64, member Member) error {
	return e.emit(ctx, guildID, member, "Member joined", 0x2a9d2a)
}

// MemberLeft posts a leave audit entry.
func (e *Emitter) MemberLeft(ctx context.Context, guildID uint64, member Member) error {
	return e.emit(ctx, guildID, member, "Member left", 0xd62828)
}

func (e *Emitter) emit(ctx context.Context, guildID uint64, member Member, title string, color int) error {
	m, err := e.store.ModerationSettings(ctx, guildID)
	if err != nil {
		return err
	}
	if m == nil || m.MemberLogWebhook == "" {
		return nil
	}

	embed := chat.Embed{
		Title: title,
		Color: color,
		Author: &chat.EmbedAuthor{
			Name:    member.Username,
			IconURL: member.AvatarURL,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []chat.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%d>", member.UserID), Inline: true},
			{Name: "Members", Value: fmt.Sprintf("%d", member.MemberCount), Inline: true},
		},
	}
	if !member.JoinedAt.IsZero() {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Joined", Value: member.JoinedAt.UTC().Format("02.01.2006 15:04"), Inline: true,
		})
	}

	if _, err := e.webhooks.Post(ctx, m.MemberLogWebhook, chat.WebhookPayload{Embeds: []chat.Embed{embed}}); err != nil {
		e.logger.Warn().Err(err).Uint64("guild", guildID).Msg("member audit post failed")
		return err
	}
	return nil
}
