package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

func (s *Store) ModerationSettings(ctx context.Context, guildID uint64) (*storage.Moderation, error) {
	var m storage.Moderation
	err := s.db(ctx).QueryRow(ctx, `
        SELECT guild_id, member_log_webhook, auto_join_role_id
        FROM moderation WHERE guild_id = $1
    `, guildID).Scan(&m.GuildID, &m.MemberLogWebhook, &m.AutoJoinRoleID)
	if err == pgx.ErrNoRows {
		return &storage.Moderation{GuildID: guildID}, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Store) SetMemberLogWebhook(ctx context.Context, guildID uint64, url string) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO moderation (guild_id, member_log_webhook)
        VALUES ($1, $2)
        ON CONFLICT (guild_id) DO UPDATE SET member_log_webhook = EXCLUDED.member_log_webhook
    `, guildID, url)
	return mapErr(err)
}

func (s *Store) SetAutoJoinRole(ctx context.Context, guildID uint64, roleID *uint64) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO moderation (guild_id, auto_join_role_id)
        VALUES ($1, $2)
        ON CONFLICT (guild_id) DO UPDATE SET auto_join_role_id = EXCLUDED.auto_join_role_id
    `, guildID, roleID)
	return mapErr(err)
}
