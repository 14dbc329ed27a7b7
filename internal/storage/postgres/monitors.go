package postgres

import (
	"context"
	"time"

	"github.com/herald-labs/herald/internal/storage"
)

func (s *Store) UpsertMonitor(ctx context.Context, m *storage.Monitor) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO monitors (channel_id, kind, message_id, refresh_seconds)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (channel_id, kind) DO UPDATE SET
            message_id = EXCLUDED.message_id,
            refresh_seconds = EXCLUDED.refresh_seconds
    `, m.ChannelID, string(m.Kind), m.MessageID, m.RefreshSeconds)
	return mapErr(err)
}

func (s *Store) ListMonitors(ctx context.Context) ([]*storage.Monitor, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT channel_id, kind, message_id, refresh_seconds, updated_at
        FROM monitors ORDER BY channel_id
    `)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var monitors []*storage.Monitor
	for rows.Next() {
		var m storage.Monitor
		if err := rows.Scan(&m.ChannelID, &m.Kind, &m.MessageID, &m.RefreshSeconds, &m.UpdatedAt); err != nil {
			return nil, err
		}
		monitors = append(monitors, &m)
	}
	return monitors, rows.Err()
}

func (s *Store) TouchMonitor(ctx context.Context, channelID uint64, kind storage.MonitorKind, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE monitors SET updated_at = $3 WHERE channel_id = $1 AND kind = $2
    `, channelID, string(kind), at)
	return mapErr(err)
}

func (s *Store) DeleteMonitor(ctx context.Context, channelID uint64, kind storage.MonitorKind) error {
	_, err := s.db(ctx).Exec(ctx, `
        DELETE FROM monitors WHERE channel_id = $1 AND kind = $2
    `, channelID, string(kind))
	return mapErr(err)
}
