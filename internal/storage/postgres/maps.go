package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

// MapSettings returns the guild's map configuration, creating a default row
// on first read.
func (s *Store) MapSettings(ctx context.Context, guildID uint64) (*storage.MapSettings, error) {
	m, err := s.mapSettings(ctx, guildID)
	if err != nil || m != nil {
		return m, err
	}

	visual, _ := json.Marshal(storage.DefaultVisual())
	_, err = s.db(ctx).Exec(ctx, `
        INSERT INTO map_settings (guild_id, visual)
        VALUES ($1, $2)
        ON CONFLICT (guild_id) DO NOTHING
    `, guildID, visual)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.mapSettings(ctx, guildID)
}

func (s *Store) mapSettings(ctx context.Context, guildID uint64) (*storage.MapSettings, error) {
	var (
		m      storage.MapSettings
		visual []byte
	)
	err := s.db(ctx).QueryRow(ctx, `
        SELECT guild_id, region, channel_id, message_id, visual, allow_proximity
        FROM map_settings WHERE guild_id = $1
    `, guildID).Scan(&m.GuildID, &m.Region, &m.ChannelID, &m.MessageID, &visual, &m.AllowProximity)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(visual, &m.Visual); err != nil {
		return nil, fmt.Errorf("decode visual settings: %w", err)
	}
	return &m, nil
}

func (s *Store) SetMapRegion(ctx context.Context, guildID uint64, region string) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE map_settings SET region = $2 WHERE guild_id = $1
    `, guildID, region)
	return mapErr(err)
}

func (s *Store) SetMapVisual(ctx context.Context, guildID uint64, v storage.VisualSettings) error {
	visual, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode visual settings: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `
        UPDATE map_settings SET visual = $2 WHERE guild_id = $1
    `, guildID, visual)
	return mapErr(err)
}

func (s *Store) SetMapMessage(ctx context.Context, guildID uint64, channelID, messageID uint64) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE map_settings SET channel_id = $2, message_id = $3 WHERE guild_id = $1
    `, guildID, channelID, messageID)
	return mapErr(err)
}

func (s *Store) ListPins(ctx context.Context, guildID uint64) ([]*storage.MapPin, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT guild_id, user_id, lat, lng, label, color, pinned_at
        FROM map_pins WHERE guild_id = $1 ORDER BY pinned_at
    `, guildID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectPins(rows)
}

func (s *Store) GetPin(ctx context.Context, guildID, userID uint64) (*storage.MapPin, error) {
	var p storage.MapPin
	err := s.db(ctx).QueryRow(ctx, `
        SELECT guild_id, user_id, lat, lng, label, color, pinned_at
        FROM map_pins WHERE guild_id = $1 AND user_id = $2
    `, guildID, userID).Scan(&p.GuildID, &p.UserID, &p.Lat, &p.Lng, &p.Label, &p.Color, &p.PinnedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// SetPin upserts; repeated pinning by the same user overwrites coordinates
// and label.
func (s *Store) SetPin(ctx context.Context, p *storage.MapPin) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO map_pins (guild_id, user_id, lat, lng, label, color)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (guild_id, user_id) DO UPDATE SET
            lat = EXCLUDED.lat,
            lng = EXCLUDED.lng,
            label = EXCLUDED.label,
            color = EXCLUDED.color,
            pinned_at = now()
    `, p.GuildID, p.UserID, p.Lat, p.Lng, p.Label, p.Color)
	return mapErr(err)
}

func (s *Store) DeletePin(ctx context.Context, guildID, userID uint64) error {
	_, err := s.db(ctx).Exec(ctx, `
        DELETE FROM map_pins WHERE guild_id = $1 AND user_id = $2
    `, guildID, userID)
	return mapErr(err)
}

func (s *Store) CountPins(ctx context.Context, guildID uint64) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `
        SELECT count(*) FROM map_pins WHERE guild_id = $1
    `, guildID).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) PinsInBounds(ctx context.Context, guildID uint64, minLat, maxLat, minLng, maxLng float64) ([]*storage.MapPin, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT guild_id, user_id, lat, lng, label, color, pinned_at
        FROM map_pins
        WHERE guild_id = $1 AND lat BETWEEN $2 AND $3 AND lng BETWEEN $4 AND $5
    `, guildID, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectPins(rows)
}

func collectPins(rows pgx.Rows) ([]*storage.MapPin, error) {
	var pins []*storage.MapPin
	for rows.Next() {
		var p storage.MapPin
		if err := rows.Scan(&p.GuildID, &p.UserID, &p.Lat, &p.Lng, &p.Label, &p.Color, &p.PinnedAt); err != nil {
			return nil, err
		}
		pins = append(pins, &p)
	}
	return pins, rows.Err()
}
