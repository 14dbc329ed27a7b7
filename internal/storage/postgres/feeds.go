package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

const feedColumns = `
    id, guild_id, name, url, channel_id, username, avatar_url, accent_color,
    max_items, crosspost, template, enabled, failure_count, last_success, created_at`

func scanFeed(row pgx.Row) (*storage.Feed, error) {
	var f storage.Feed
	err := row.Scan(
		&f.ID, &f.GuildID, &f.Name, &f.URL, &f.ChannelID, &f.Username,
		&f.AvatarURL, &f.AccentColor, &f.MaxItems, &f.Crosspost, &f.Template,
		&f.Enabled, &f.FailureCount, &f.LastSuccess, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListFeedsByGuild(ctx context.Context, guildID uint64) ([]*storage.Feed, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT `+feedColumns+`
        FROM feeds WHERE guild_id = $1 ORDER BY name
    `, guildID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectFeeds(rows)
}

func (s *Store) ListEnabledFeeds(ctx context.Context) ([]*storage.Feed, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT `+feedColumns+`
        FROM feeds WHERE enabled ORDER BY id
    `)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectFeeds(rows)
}

func collectFeeds(rows pgx.Rows) ([]*storage.Feed, error) {
	var feeds []*storage.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (s *Store) GetFeed(ctx context.Context, id int64) (*storage.Feed, error) {
	f, err := scanFeed(s.db(ctx).QueryRow(ctx, `
        SELECT `+feedColumns+`
        FROM feeds WHERE id = $1
    `, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return f, nil
}

func (s *Store) CreateFeed(ctx context.Context, f *storage.Feed) (int64, error) {
	var id int64
	err := s.db(ctx).QueryRow(ctx, `
        INSERT INTO feeds (
            guild_id, name, url, channel_id, username, avatar_url,
            accent_color, max_items, crosspost, template, enabled
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
        RETURNING id
    `, f.GuildID, f.Name, f.URL, f.ChannelID, f.Username, f.AvatarURL,
		f.AccentColor, f.MaxItems, f.Crosspost, f.Template).Scan(&id)
	if err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *Store) UpdateFeed(ctx context.Context, id int64, u storage.FeedUpdate) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE feeds SET
            url          = COALESCE($2, url),
            channel_id   = COALESCE($3, channel_id),
            username     = COALESCE($4, username),
            avatar_url   = COALESCE($5, avatar_url),
            accent_color = COALESCE($6, accent_color),
            max_items    = COALESCE($7, max_items),
            crosspost    = COALESCE($8, crosspost),
            template     = COALESCE($9, template)
        WHERE id = $1
    `, id, u.URL, u.ChannelID, u.Username, u.AvatarURL, u.AccentColor,
		u.MaxItems, u.Crosspost, u.Template)
	return mapErr(err)
}

func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	return mapErr(err)
}

func (s *Store) IncrementFeedFailure(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.db(ctx).QueryRow(ctx, `
        UPDATE feeds SET failure_count = failure_count + 1
        WHERE id = $1
        RETURNING failure_count
    `, id).Scan(&count)
	if err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

func (s *Store) ResetFeedFailure(ctx context.Context, id int64) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE feeds SET failure_count = 0, last_success = now()
        WHERE id = $1
    `, id)
	return mapErr(err)
}

func (s *Store) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE feeds SET enabled = $2 WHERE id = $1
    `, id, enabled)
	return mapErr(err)
}
