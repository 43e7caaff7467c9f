package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salahguard/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements the durable ledger on SQLite. It backs the lock
// state, last-valid-prayer snapshot, per-day completion records, the event
// dedup ledger, the guardian owner token and the audit log.
type SQLiteStorage struct {
	db       *sql.DB
	timezone *time.Location
}

// New creates a new SQLite storage instance
func New(dbPath string, timezone *time.Location) (*SQLiteStorage, error) {
	if timezone == nil {
		timezone = time.UTC // Fallback to UTC
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps the read-modify-write cycles on the lock state
	// effectively atomic from the perspective of concurrent callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	storage := &SQLiteStorage{
		db:       db,
		timezone: timezone,
	}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS lock_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active INTEGER NOT NULL DEFAULT 0,
			episode_id TEXT NOT NULL DEFAULT '',
			prayer_name TEXT NOT NULL DEFAULT '',
			rakaat_count INTEGER NOT NULL DEFAULT 0,
			prayer_time DATETIME,
			pin_verified INTEGER NOT NULL DEFAULT 0,
			prayer_complete INTEGER NOT NULL DEFAULT 0,
			bypass_suspected INTEGER NOT NULL DEFAULT 0,
			last_unlock_time DATETIME,
			very_recent_unlock_time DATETIME,
			activated_at DATETIME,
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS prayer_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			prayer_name TEXT NOT NULL,
			rakaat_count INTEGER NOT NULL,
			prayer_time DATETIME NOT NULL,
			written_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS completions (
			prayer_name TEXT NOT NULL,
			date DATE NOT NULL,
			status TEXT NOT NULL,
			completion_type TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (prayer_name, date)
		);

		CREATE TABLE IF NOT EXISTS dedup_events (
			key TEXT PRIMARY KEY,
			fired_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS owner_token (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token_id TEXT NOT NULL,
			fence INTEGER NOT NULL,
			prayer_name TEXT NOT NULL,
			prayer_time DATETIME NOT NULL,
			acquired_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			prayer_name TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_completions_date ON completions(date);
		CREATE INDEX IF NOT EXISTS idx_dedup_fired_at ON dedup_events(fired_at);
		CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetLockState retrieves the lock state, returning a zero-value state when
// none has been persisted yet.
func (s *SQLiteStorage) GetLockState(ctx context.Context) (*core.LockState, error) {
	var state core.LockState
	var prayerTime, lastUnlock, veryRecent, activatedAt, updatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT active, episode_id, prayer_name, rakaat_count, prayer_time,
			pin_verified, prayer_complete, bypass_suspected, last_unlock_time,
			very_recent_unlock_time, activated_at, updated_at
		FROM lock_state WHERE id = 1
	`).Scan(&state.Active, &state.EpisodeID, &state.PrayerName, &state.RakaatCount, &prayerTime,
		&state.PinVerified, &state.PrayerComplete, &state.BypassSuspected,
		&lastUnlock, &veryRecent, &activatedAt, &updatedAt)

	if err == sql.ErrNoRows {
		return &core.LockState{}, nil
	}
	if err != nil {
		return nil, err
	}

	if prayerTime.Valid {
		state.PrayerTime = prayerTime.Time
	}
	if lastUnlock.Valid {
		state.LastUnlockTime = lastUnlock.Time
	}
	if veryRecent.Valid {
		state.VeryRecentUnlockTime = veryRecent.Time
	}
	if activatedAt.Valid {
		state.ActivatedAt = activatedAt.Time
	}
	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time
	}

	return &state, nil
}

// SaveLockState persists the lock state as the single authoritative row
func (s *SQLiteStorage) SaveLockState(ctx context.Context, state *core.LockState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lock_state (id, active, episode_id, prayer_name, rakaat_count,
			prayer_time, pin_verified, prayer_complete, bypass_suspected,
			last_unlock_time, very_recent_unlock_time, activated_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			episode_id = excluded.episode_id,
			prayer_name = excluded.prayer_name,
			rakaat_count = excluded.rakaat_count,
			prayer_time = excluded.prayer_time,
			pin_verified = excluded.pin_verified,
			prayer_complete = excluded.prayer_complete,
			bypass_suspected = excluded.bypass_suspected,
			last_unlock_time = excluded.last_unlock_time,
			very_recent_unlock_time = excluded.very_recent_unlock_time,
			activated_at = excluded.activated_at,
			updated_at = excluded.updated_at
	`, state.Active, state.EpisodeID, state.PrayerName, state.RakaatCount, nullTime(state.PrayerTime),
		state.PinVerified, state.PrayerComplete, state.BypassSuspected,
		nullTime(state.LastUnlockTime), nullTime(state.VeryRecentUnlockTime),
		nullTime(state.ActivatedAt), nullTime(state.UpdatedAt))

	return err
}

// GetSnapshot retrieves the last-valid-prayer snapshot, or nil if none exists
func (s *SQLiteStorage) GetSnapshot(ctx context.Context) (*core.PrayerSnapshot, error) {
	var snap core.PrayerSnapshot

	err := s.db.QueryRowContext(ctx, `
		SELECT prayer_name, rakaat_count, prayer_time, written_at
		FROM prayer_snapshot WHERE id = 1
	`).Scan(&snap.PrayerName, &snap.RakaatCount, &snap.PrayerTime, &snap.WrittenAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot persists the last-valid-prayer snapshot
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap *core.PrayerSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prayer_snapshot (id, prayer_name, rakaat_count, prayer_time, written_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prayer_name = excluded.prayer_name,
			rakaat_count = excluded.rakaat_count,
			prayer_time = excluded.prayer_time,
			written_at = excluded.written_at
	`, snap.PrayerName, snap.RakaatCount, snap.PrayerTime, snap.WrittenAt)

	return err
}

// GetCompletion retrieves the completion record for a prayer on a date, or
// nil if none exists.
func (s *SQLiteStorage) GetCompletion(ctx context.Context, prayer core.PrayerName, date time.Time) (*core.CompletionRecord, error) {
	normalized := s.normalizeDate(date)

	var rec core.CompletionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT prayer_name, date, status, completion_type, timestamp, updated_at
		FROM completions WHERE prayer_name = ? AND date = ?
	`, prayer, normalized).Scan(&rec.PrayerName, &rec.Date, &rec.Status, &rec.Type,
		&rec.Timestamp, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveCompletion upserts a completion record
func (s *SQLiteStorage) SaveCompletion(ctx context.Context, rec *core.CompletionRecord) error {
	rec.Date = s.normalizeDate(rec.Date)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completions (prayer_name, date, status, completion_type, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(prayer_name, date) DO UPDATE SET
			status = excluded.status,
			completion_type = excluded.completion_type,
			timestamp = excluded.timestamp,
			updated_at = excluded.updated_at
	`, rec.PrayerName, rec.Date, rec.Status, rec.Type, rec.Timestamp, rec.UpdatedAt)

	return err
}

// ListCompletions retrieves all completion records for a date
func (s *SQLiteStorage) ListCompletions(ctx context.Context, date time.Time) ([]*core.CompletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prayer_name, date, status, completion_type, timestamp, updated_at
		FROM completions WHERE date = ? ORDER BY timestamp
	`, s.normalizeDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*core.CompletionRecord
	for rows.Next() {
		var rec core.CompletionRecord
		if err := rows.Scan(&rec.PrayerName, &rec.Date, &rec.Status, &rec.Type,
			&rec.Timestamp, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// MarkHandled records that an event key has fired. Returns false when the
// key was already present, i.e. this exact scheduled event already triggered
// its action.
func (s *SQLiteStorage) MarkHandled(ctx context.Context, key string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dedup_events (key, fired_at) VALUES (?, ?)
	`, key, at)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// PurgeDedupBefore removes dedup entries older than the cutoff so the ledger
// never grows unbounded.
func (s *SQLiteStorage) PurgeDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dedup_events WHERE fired_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetOwnerToken retrieves the guardian owner token, or nil if none is held
func (s *SQLiteStorage) GetOwnerToken(ctx context.Context) (*core.OwnerToken, error) {
	var token core.OwnerToken

	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, fence, prayer_name, prayer_time, acquired_at, expires_at
		FROM owner_token WHERE id = 1
	`).Scan(&token.ID, &token.Fence, &token.PrayerName, &token.PrayerTime,
		&token.AcquiredAt, &token.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// SaveOwnerToken persists the guardian owner token
func (s *SQLiteStorage) SaveOwnerToken(ctx context.Context, token *core.OwnerToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_token (id, token_id, fence, prayer_name, prayer_time, acquired_at, expires_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token_id = excluded.token_id,
			fence = excluded.fence,
			prayer_name = excluded.prayer_name,
			prayer_time = excluded.prayer_time,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
	`, token.ID, token.Fence, token.PrayerName, token.PrayerTime, token.AcquiredAt, token.ExpiresAt)

	return err
}

// DeleteOwnerToken removes the owner token if the given holder still owns it
func (s *SQLiteStorage) DeleteOwnerToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM owner_token WHERE id = 1 AND token_id = ?`, id)
	return err
}

// AppendAudit appends an audit entry
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry *core.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, prayer_name, reason, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.PrayerName, entry.Reason, entry.Detail, entry.At)
	return err
}

// ListAudit retrieves the most recent audit entries, newest first
func (s *SQLiteStorage) ListAudit(ctx context.Context, limit int) ([]*core.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, prayer_name, reason, detail, at
		FROM audit_log ORDER BY at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		var entry core.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.PrayerName,
			&entry.Reason, &entry.Detail, &entry.At); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Helper functions

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (s *SQLiteStorage) normalizeDate(t time.Time) time.Time {
	return core.NormalizeDate(t, s.timezone)
}
