package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

func (s *Store) WebhookURL(ctx context.Context, channelID uint64) (string, error) {
	var url string
	err := s.db(ctx).QueryRow(ctx, `
        SELECT url FROM webhook_cache WHERE channel_id = $1
    `, channelID).Scan(&url)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mapErr(err)
	}
	return url, nil
}

func (s *Store) SetWebhookURL(ctx context.Context, channelID uint64, url string) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO webhook_cache (channel_id, url)
        VALUES ($1, $2)
        ON CONFLICT (channel_id) DO UPDATE SET url = EXCLUDED.url, updated_at = now()
    `, channelID, url)
	return mapErr(err)
}

// FeedCache is advisory conditional-request state. Absence is not an error.
func (s *Store) FeedCache(ctx context.Context, url string) (*storage.FeedHTTPCache, error) {
	var c storage.FeedHTTPCache
	err := s.db(ctx).QueryRow(ctx, `
        SELECT url, etag, last_modified, content_hash, checked_at
        FROM feed_http_cache WHERE url = $1
    `, url).Scan(&c.URL, &c.ETag, &c.LastModified, &c.ContentHash, &c.CheckedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) SetFeedCache(ctx context.Context, c *storage.FeedHTTPCache) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO feed_http_cache (url, etag, last_modified, content_hash, checked_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (url) DO UPDATE SET
            etag = EXCLUDED.etag,
            last_modified = EXCLUDED.last_modified,
            content_hash = EXCLUDED.content_hash,
            checked_at = now()
    `, c.URL, c.ETag, c.LastModified, c.ContentHash)
	return mapErr(err)
}
