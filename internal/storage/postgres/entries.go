package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

func (s *Store) IsPosted(ctx context.Context, guildID uint64, guid string) (bool, error) {
	var exists bool
	err := s.db(ctx).QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM posted_entries WHERE guild_id = $1 AND guid = $2
        )
    `, guildID, guid).Scan(&exists)
	if err != nil {
		return false, mapErr(err)
	}
	return exists, nil
}

func (s *Store) MarkPosted(ctx context.Context, e *storage.PostedEntry) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO posted_entries (
            guild_id, feed_id, guid, message_id, channel_id, content_hash, published_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (guild_id, guid) DO UPDATE SET
            message_id   = EXCLUDED.message_id,
            channel_id   = EXCLUDED.channel_id,
            content_hash = EXCLUDED.content_hash
    `, e.GuildID, e.FeedID, e.GUID, e.MessageID, e.ChannelID, e.ContentHash, e.PublishedAt)
	return mapErr(err)
}

func (s *Store) PostedEntry(ctx context.Context, guildID uint64, guid string) (*storage.PostedEntry, error) {
	var e storage.PostedEntry
	err := s.db(ctx).QueryRow(ctx, `
        SELECT guild_id, feed_id, guid, message_id, channel_id, content_hash, posted_at, published_at
        FROM posted_entries WHERE guild_id = $1 AND guid = $2
    `, guildID, guid).Scan(
		&e.GuildID, &e.FeedID, &e.GUID, &e.MessageID, &e.ChannelID,
		&e.ContentHash, &e.PostedAt, &e.PublishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (s *Store) UpdatePostedHash(ctx context.Context, guildID uint64, guid, hash string) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE posted_entries SET content_hash = $3
        WHERE guild_id = $1 AND guid = $2
    `, guildID, guid, hash)
	return mapErr(err)
}

func (s *Store) CleanupPostedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx, `
        DELETE FROM posted_entries WHERE posted_at < now() - $1::interval
    `, age)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
