package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("storage: not found")

// scheduleTolerance absorbs jitter in normalized start times. ETA-derived
// times wobble by the gap between polls; a shift below this is not a
// reschedule and must not report a change.
const scheduleTolerance = 5 * time.Minute

// Repository handles all database operations
type Repository struct {
	db *sql.DB

	// one writer per external ID; unrelated events never contend
	locks sync.Map // externalID -> *sync.Mutex
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id VARCHAR(50) UNIQUE NOT NULL,
			kind VARCHAR(10) NOT NULL,
			team_a VARCHAR(100) NOT NULL,
			team_b VARCHAR(100) NOT NULL,
			flag_a VARCHAR(10) NOT NULL DEFAULT '',
			flag_b VARCHAR(10) NOT NULL DEFAULT '',
			event_group VARCHAR(200) NOT NULL,
			url VARCHAR(300) NOT NULL,
			scheduled_time INTEGER,
			status VARCHAR(20) NOT NULL DEFAULT '',
			score_a INTEGER NOT NULL DEFAULT 0,
			score_b INTEGER NOT NULL DEFAULT 0,
			winner VARCHAR(1) NOT NULL DEFAULT '',
			notified INTEGER NOT NULL DEFAULT 0,
			result_sent INTEGER NOT NULL DEFAULT 0,
			last_seen_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id VARCHAR(50) NOT NULL,
			guild_id VARCHAR(20) NOT NULL,
			attempted_at INTEGER NOT NULL,
			UNIQUE(external_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			kind VARCHAR(10) NOT NULL,
			value VARCHAR(200) NOT NULL COLLATE NOCASE,
			created_at INTEGER NOT NULL,
			UNIQUE(guild_id, kind, value)
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id VARCHAR(20) PRIMARY KEY,
			notification_channel_id VARCHAR(20) NOT NULL DEFAULT '',
			lead_time_minutes INTEGER NOT NULL DEFAULT 15,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_external_id ON events(external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_due ON events(kind, notified, scheduled_time)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_guild ON subscriptions(guild_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// lockFor returns the write mutex for one external ID
func (r *Repository) lockFor(externalID string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(externalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Event operations

// UpsertEvent inserts a new event or merges it into the existing record
// with the same external ID. Mutable fields (teams, times, scores, kind,
// status) are overwritten; notified and result_sent are never cleared.
func (r *Repository) UpsertEvent(ev *Event) (UpsertOutcome, error) {
	mu := r.lockFor(ev.ExternalID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()

	existing, err := r.GetEventByExternalID(ev.ExternalID)
	if errors.Is(err, ErrNotFound) {
		_, err := r.db.Exec(
			`INSERT INTO events (external_id, kind, team_a, team_b, flag_a, flag_b,
				event_group, url, scheduled_time, status, score_a, score_b, winner,
				notified, result_sent, last_seen_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
			ev.ExternalID, ev.Kind, ev.TeamA, ev.TeamB, ev.FlagA, ev.FlagB,
			ev.EventGroup, ev.URL, nullUnix(ev.ScheduledTime), ev.Status,
			ev.ScoreA, ev.ScoreB, ev.Winner,
			now.Unix(), now.Unix(), now.Unix(),
		)
		if err != nil {
			return UpsertOutcome{}, fmt.Errorf("failed to insert event: %w", err)
		}
		return UpsertOutcome{Inserted: true, Changed: true}, nil
	}
	if err != nil {
		return UpsertOutcome{}, err
	}

	merged := *ev
	// A completed match never reverts to upcoming
	if existing.Kind == KindResult {
		merged.Kind = KindResult
	}
	// Results drop off the upcoming feed without a start time; keep the
	// one we learned while the match was upcoming
	if merged.ScheduledTime.IsZero() {
		merged.ScheduledTime = existing.ScheduledTime
	}
	// A sub-tolerance shift is normalization jitter, not a reschedule
	if !existing.ScheduledTime.IsZero() && !merged.ScheduledTime.IsZero() {
		if delta := merged.ScheduledTime.Sub(existing.ScheduledTime); delta > -scheduleTolerance && delta < scheduleTolerance {
			merged.ScheduledTime = existing.ScheduledTime
		}
	}

	changed := existing.Kind != merged.Kind ||
		existing.TeamA != merged.TeamA ||
		existing.TeamB != merged.TeamB ||
		existing.FlagA != merged.FlagA ||
		existing.FlagB != merged.FlagB ||
		existing.EventGroup != merged.EventGroup ||
		existing.URL != merged.URL ||
		!existing.ScheduledTime.Equal(merged.ScheduledTime) ||
		existing.Status != merged.Status ||
		existing.ScoreA != merged.ScoreA ||
		existing.ScoreB != merged.ScoreB ||
		existing.Winner != merged.Winner

	updatedAt := existing.UpdatedAt
	if changed {
		updatedAt = now
	}

	_, err = r.db.Exec(
		`UPDATE events SET kind = ?, team_a = ?, team_b = ?, flag_a = ?, flag_b = ?,
			event_group = ?, url = ?, scheduled_time = ?, status = ?,
			score_a = ?, score_b = ?, winner = ?, last_seen_at = ?, updated_at = ?
		 WHERE external_id = ?`,
		merged.Kind, merged.TeamA, merged.TeamB, merged.FlagA, merged.FlagB,
		merged.EventGroup, merged.URL, nullUnix(merged.ScheduledTime), merged.Status,
		merged.ScoreA, merged.ScoreB, merged.Winner,
		now.Unix(), updatedAt.Unix(),
		ev.ExternalID,
	)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("failed to update event: %w", err)
	}

	return UpsertOutcome{Inserted: false, Changed: changed}, nil
}

// GetEventByExternalID finds an event by its source identifier
func (r *Repository) GetEventByExternalID(externalID string) (*Event, error) {
	row := r.db.QueryRow(eventSelect+` WHERE external_id = ?`, externalID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// DueForNotification returns unnotified matches whose start is within the
// lead window. Matches already at or past their start are included with
// Late set; they are reported once rather than silently dropped.
func (r *Repository) DueForNotification(now time.Time, lead time.Duration) ([]DueEvent, error) {
	rows, err := r.db.Query(
		eventSelect+` WHERE kind = ? AND notified = 0 AND scheduled_time IS NOT NULL
			AND scheduled_time <= ? ORDER BY scheduled_time`,
		KindMatch, now.Add(lead).Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []DueEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, DueEvent{
			Event: *ev,
			Late:  !ev.ScheduledTime.After(now),
		})
	}

	return due, rows.Err()
}

// MarkNotified flips the terminal notified flag for an event
func (r *Repository) MarkNotified(externalID string) error {
	mu := r.lockFor(externalID)
	mu.Lock()
	defer mu.Unlock()

	res, err := r.db.Exec(
		`UPDATE events SET notified = 1, updated_at = ? WHERE external_id = ?`,
		time.Now().Unix(), externalID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResultsPendingDelivery returns results whose match notification fired
// but whose scoreline has not been announced yet
func (r *Repository) ResultsPendingDelivery() ([]*Event, error) {
	rows, err := r.db.Query(
		eventSelect+` WHERE kind = ? AND notified = 1 AND result_sent = 0 ORDER BY updated_at`,
		KindResult,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// MarkResultSent records that an event's scoreline was announced
func (r *Repository) MarkResultSent(externalID string) error {
	mu := r.lockFor(externalID)
	mu.Lock()
	defer mu.Unlock()

	res, err := r.db.Exec(
		`UPDATE events SET result_sent = 1, updated_at = ? WHERE external_id = ?`,
		time.Now().Unix(), externalID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents returns the most recently seen events of one kind,
// soonest-scheduled first for matches, newest first for results
func (r *Repository) ListEvents(kind EventKind, limit int) ([]*Event, error) {
	order := `scheduled_time`
	if kind == KindResult {
		order = `updated_at DESC`
	}

	rows, err := r.db.Query(
		eventSelect+` WHERE kind = ? ORDER BY `+order+` LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// PruneStale deletes events that stopped appearing in polls before the
// cutoff, along with their delivery records. Returns the number of
// events removed.
func (r *Repository) PruneStale(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM events WHERE last_seen_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, err
	}

	_, err = r.db.Exec(
		`DELETE FROM deliveries WHERE external_id NOT IN (SELECT external_id FROM events)`,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Delivery operations

// RecordDelivery marks that a notification attempt was made for an event
// to one guild. Returns false if the attempt was already recorded; the
// record is durable before delivery is confirmed, so a restart never
// re-fires a guild's notification.
func (r *Repository) RecordDelivery(externalID, guildID string) (bool, error) {
	mu := r.lockFor(externalID)
	mu.Lock()
	defer mu.Unlock()

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO deliveries (external_id, guild_id, attempted_at) VALUES (?, ?, ?)`,
		externalID, guildID, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeliveredGuilds returns the guilds a match notification attempt was
// recorded for
func (r *Repository) DeliveredGuilds(externalID string) (map[string]bool, error) {
	rows, err := r.db.Query(
		`SELECT guild_id FROM deliveries WHERE external_id = ?`, externalID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	delivered := make(map[string]bool)
	for rows.Next() {
		var guildID string
		if err := rows.Scan(&guildID); err != nil {
			return nil, err
		}
		delivered[guildID] = true
	}

	return delivered, rows.Err()
}

// Subscription operations

// AddSubscription creates a guild subscription. Returns false if an
// equivalent subscription already exists (values compare case-insensitively).
func (r *Repository) AddSubscription(sub *Subscription) (bool, error) {
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO subscriptions (guild_id, kind, value, created_at) VALUES (?, ?, ?, ?)`,
		sub.GuildID, sub.Kind, sub.Value, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveSubscription deletes a guild subscription. Returns false if no
// matching subscription existed.
func (r *Repository) RemoveSubscription(guildID string, kind SubscriptionKind, value string) (bool, error) {
	res, err := r.db.Exec(
		`DELETE FROM subscriptions WHERE guild_id = ? AND kind = ? AND value = ?`,
		guildID, kind, value,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSubscriptionsByGuild returns all subscriptions for a guild
func (r *Repository) GetSubscriptionsByGuild(guildID string) ([]*Subscription, error) {
	rows, err := r.db.Query(
		`SELECT id, guild_id, kind, value, created_at FROM subscriptions WHERE guild_id = ? ORDER BY kind, value`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var createdAt int64
		if err := rows.Scan(&sub.ID, &sub.GuildID, &sub.Kind, &sub.Value, &createdAt); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(createdAt, 0)
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Guild settings operations

// UpsertGuildSettings sets the notification channel for a guild
func (r *Repository) UpsertGuildSettings(settings *GuildSettings) error {
	_, err := r.db.Exec(
		`INSERT INTO guild_settings (guild_id, notification_channel_id, lead_time_minutes, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET notification_channel_id = excluded.notification_channel_id`,
		settings.GuildID, settings.NotificationChannelID, settings.LeadTimeMinutes, time.Now().Unix(),
	)
	return err
}

// SetLeadTime sets how early before a match a guild is notified
func (r *Repository) SetLeadTime(guildID string, minutes int) error {
	_, err := r.db.Exec(
		`INSERT INTO guild_settings (guild_id, lead_time_minutes, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET lead_time_minutes = excluded.lead_time_minutes`,
		guildID, minutes, time.Now().Unix(),
	)
	return err
}

// GetGuildSettings retrieves guild settings
func (r *Repository) GetGuildSettings(guildID string) (*GuildSettings, error) {
	settings := &GuildSettings{}
	var createdAt int64
	err := r.db.QueryRow(
		`SELECT guild_id, notification_channel_id, lead_time_minutes, created_at FROM guild_settings WHERE guild_id = ?`,
		guildID,
	).Scan(&settings.GuildID, &settings.NotificationChannelID, &settings.LeadTimeMinutes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	settings.CreatedAt = time.Unix(createdAt, 0)
	return settings, nil
}

// GetAllGuildSettings returns settings for every configured guild
func (r *Repository) GetAllGuildSettings() ([]*GuildSettings, error) {
	rows, err := r.db.Query(
		`SELECT guild_id, notification_channel_id, lead_time_minutes, created_at FROM guild_settings`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []*GuildSettings
	for rows.Next() {
		settings := &GuildSettings{}
		var createdAt int64
		if err := rows.Scan(&settings.GuildID, &settings.NotificationChannelID, &settings.LeadTimeMinutes, &createdAt); err != nil {
			return nil, err
		}
		settings.CreatedAt = time.Unix(createdAt, 0)
		all = append(all, settings)
	}

	return all, rows.Err()
}

// Scan helpers

const eventSelect = `SELECT id, external_id, kind, team_a, team_b, flag_a, flag_b,
	event_group, url, scheduled_time, status, score_a, score_b, winner,
	notified, result_sent, last_seen_at, created_at, updated_at FROM events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	ev := &Event{}
	var scheduled sql.NullInt64
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&ev.ID, &ev.ExternalID, &ev.Kind, &ev.TeamA, &ev.TeamB, &ev.FlagA, &ev.FlagB,
		&ev.EventGroup, &ev.URL, &scheduled, &ev.Status, &ev.ScoreA, &ev.ScoreB, &ev.Winner,
		&ev.Notified, &ev.ResultSent, &lastSeen, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduled.Valid {
		ev.ScheduledTime = time.Unix(scheduled.Int64, 0).UTC()
	}
	ev.LastSeenAt = time.Unix(lastSeen, 0).UTC()
	ev.CreatedAt = time.Unix(createdAt, 0).UTC()
	ev.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return ev, nil
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
