package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herald-labs/herald/internal/storage"
)

const calendarColumns = `
    id, guild_id, name, url, text_channel_id, voice_channel_id,
    whitelist, blacklist, reminder_role_id, last_message_id, week_start, last_sync`

func scanCalendar(row pgx.Row) (*storage.Calendar, error) {
	var c storage.Calendar
	err := row.Scan(
		&c.ID, &c.GuildID, &c.Name, &c.URL, &c.TextChannelID, &c.VoiceChannelID,
		&c.Whitelist, &c.Blacklist, &c.ReminderRoleID, &c.LastMessageID,
		&c.WeekStart, &c.LastSync,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCalendarsByGuild(ctx context.Context, guildID uint64) ([]*storage.Calendar, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT `+calendarColumns+`
        FROM calendars WHERE guild_id = $1 ORDER BY name
    `, guildID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectCalendars(rows)
}

func (s *Store) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT `+calendarColumns+`
        FROM calendars ORDER BY id
    `)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectCalendars(rows)
}

func collectCalendars(rows pgx.Rows) ([]*storage.Calendar, error) {
	var cals []*storage.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}

func (s *Store) GetCalendar(ctx context.Context, id int64) (*storage.Calendar, error) {
	c, err := scanCalendar(s.db(ctx).QueryRow(ctx, `
        SELECT `+calendarColumns+`
        FROM calendars WHERE id = $1
    `, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Store) CreateCalendar(ctx context.Context, c *storage.Calendar) (int64, error) {
	var id int64
	err := s.db(ctx).QueryRow(ctx, `
        INSERT INTO calendars (
            guild_id, name, url, text_channel_id, voice_channel_id,
            whitelist, blacklist, reminder_role_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `, c.GuildID, c.Name, c.URL, c.TextChannelID, c.VoiceChannelID,
		c.Whitelist, c.Blacklist, c.ReminderRoleID).Scan(&id)
	if err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *Store) UpdateCalendarFilters(ctx context.Context, id int64, whitelist, blacklist []string) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE calendars SET whitelist = $2, blacklist = $3 WHERE id = $1
    `, id, whitelist, blacklist)
	return mapErr(err)
}

func (s *Store) UpdateCalendarMessage(ctx context.Context, id int64, messageID uint64, weekStart time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE calendars SET last_message_id = $2, week_start = $3 WHERE id = $1
    `, id, messageID, weekStart)
	return mapErr(err)
}

func (s *Store) TouchCalendarSync(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `
        UPDATE calendars SET last_sync = $2 WHERE id = $1
    `, id, at)
	return mapErr(err)
}

func (s *Store) DeleteCalendar(ctx context.Context, id int64) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM calendars WHERE id = $1`, id)
	return mapErr(err)
}

func (s *Store) EventLinks(ctx context.Context, calendarID int64) ([]*storage.EventLink, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT calendar_id, title, event_id, created_at
        FROM event_links WHERE calendar_id = $1 ORDER BY title
    `, calendarID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

func (s *Store) ListEventLinks(ctx context.Context) ([]*storage.EventLink, error) {
	rows, err := s.db(ctx).Query(ctx, `
        SELECT calendar_id, title, event_id, created_at
        FROM event_links ORDER BY calendar_id, title
    `)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

func collectLinks(rows pgx.Rows) ([]*storage.EventLink, error) {
	var links []*storage.EventLink
	for rows.Next() {
		var l storage.EventLink
		if err := rows.Scan(&l.CalendarID, &l.Title, &l.EventID, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func (s *Store) AddEventLink(ctx context.Context, calendarID int64, title string, eventID uint64) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO event_links (calendar_id, title, event_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (calendar_id, title) DO UPDATE SET event_id = EXCLUDED.event_id
    `, calendarID, title, eventID)
	return mapErr(err)
}

func (s *Store) RemoveEventLink(ctx context.Context, calendarID int64, title string) error {
	_, err := s.db(ctx).Exec(ctx, `
        DELETE FROM event_links WHERE calendar_id = $1 AND title = $2
    `, calendarID, title)
	return mapErr(err)
}

func (s *Store) EventLinkByTitle(ctx context.Context, calendarID int64, title string) (*storage.EventLink, error) {
	var l storage.EventLink
	err := s.db(ctx).QueryRow(ctx, `
        SELECT calendar_id, title, event_id, created_at
        FROM event_links WHERE calendar_id = $1 AND title = $2
    `, calendarID, title).Scan(&l.CalendarID, &l.Title, &l.EventID, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (s *Store) EventLinkByEventID(ctx context.Context, eventID uint64) (*storage.EventLink, error) {
	var l storage.EventLink
	err := s.db(ctx).QueryRow(ctx, `
        SELECT calendar_id, title, event_id, created_at
        FROM event_links WHERE event_id = $1
    `, eventID).Scan(&l.CalendarID, &l.Title, &l.EventID, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (s *Store) ReminderSentSince(ctx context.Context, calendarID int64, key string, window time.Duration) (bool, error) {
	var sent bool
	err := s.db(ctx).QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM reminders
            WHERE calendar_id = $1 AND key = $2 AND sent_at > now() - $3::interval
        )
    `, calendarID, key, window).Scan(&sent)
	if err != nil {
		return false, mapErr(err)
	}
	return sent, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, calendarID int64, key string) error {
	_, err := s.db(ctx).Exec(ctx, `
        INSERT INTO reminders (calendar_id, key)
        VALUES ($1, $2)
        ON CONFLICT (calendar_id, key) DO UPDATE SET sent_at = now()
    `, calendarID, key)
	return mapErr(err)
}

func (s *Store) CleanupRemindersOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx, `
        DELETE FROM reminders WHERE sent_at < now() - $1::interval
    `, age)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
