package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

func (s *Store) UpsertGuild(ctx context.Context, id uint64, name, tz string) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO guilds (id, name, timezone)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
    `, id, name, tz)
	return mapErr(err)
}

func (s *Store) GetGuild(ctx context.Context, id uint64) (*storage.Guild, error) {
	var g storage.Guild
	err := s.db(ctx).QueryRow(ctx, `
        SELECT id, name, timezone, created_at
        FROM guilds WHERE id = $1
    `, id).Scan(&g.ID, &g.Name, &g.Timezone, &g.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &g, nil
}

func (s *Store) ListGuilds(ctx context.Context) ([]*storage.Guild, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT id, name, timezone, created_at
        FROM guilds ORDER BY id
    `)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var guilds []*storage.Guild
	for rows.Next() {
		var g storage.Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.Timezone, &g.CreatedAt); err != nil {
			return nil, err
		}
		guilds = append(guilds, &g)
	}
	return guilds, rows.Err()
}

func (s *Store) SetGuildTimezone(ctx context.Context, id uint64, tz string) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE guilds SET timezone = $1 WHERE id = $2
    `, tz, id)
	return mapErr(err)
}

// DeleteGuild removes the guild and, via foreign keys, everything it owns.
func (s *Store) DeleteGuild(ctx context.Context, id uint64) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM guilds WHERE id = $1`, id)
	return mapErr(err)
}
