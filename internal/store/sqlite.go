package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/ashureev/hydraflow/internal/shared"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Repository on database/sql. The same queries serve
// SQLite and Postgres; placeholders are rebound for Postgres.
type SQLStore struct {
	db             *sql.DB
	dialect        dialect
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, dialectSQLite, opts)
}

func newSQLStore(db *sql.DB, d dialect, opts []Option) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{
		db:             db,
		dialect:        d,
		maxRetries:     3,
		retryBaseDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS water_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		logged_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_water_logs_user_time ON water_logs(user_id, logged_at);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		daily_goal INTEGER NOT NULL,
		reminder_enabled BOOLEAN NOT NULL,
		reminder_interval INTEGER NOT NULL,
		sounds_enabled BOOLEAN NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activity_breaks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		break_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_breaks_user_time ON activity_breaks(user_id, break_at);

	CREATE TABLE IF NOT EXISTS streaks (
		user_id TEXT PRIMARY KEY,
		streak_count INTEGER NOT NULL,
		evaluated_on TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		pref_key TEXT NOT NULL,
		pref_value TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, pref_key)
	);
	`
	if s.dialect == dialectSQLite {
		query = "PRAGMA busy_timeout = 5000;\n" + query
	}
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// execWithRetry runs a write with exponential backoff on busy or serialization errors.
func (s *SQLStore) execWithRetry(ctx context.Context, op string, query string, args ...any) (sql.Result, error) {
	query = s.rebind(query)
	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if shared.IsRetryableDBError(err) && i < s.maxRetries-1 {
			delay := s.retryBaseDelay * time.Duration(1<<i)
			slog.Debug("Database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", op, ctx.Err())
			}
		}
		break
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

// inTx runs fn in one transaction. The whole unit is retried on busy or
// serialization errors.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		lastErr = s.runTx(ctx, fn)
		if lastErr == nil {
			return nil
		}

		if shared.IsRetryableDBError(lastErr) && i < s.maxRetries-1 {
			delay := s.retryBaseDelay * time.Duration(1<<i)
			slog.Debug("Database busy, retrying transaction", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
		}
		break
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (s *SQLStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, s.rebind(query), userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.execWithRetry(ctx, "upsert user", query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	return err
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.execWithRetry(ctx, "update last_seen", query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// ListWaterLogs returns the newest logs for a user, newest first.
func (s *SQLStore) ListWaterLogs(ctx context.Context, userID string, limit int) ([]domain.WaterLog, error) {
	query := `
		SELECT id, user_id, amount, logged_at
		FROM water_logs WHERE user_id = ?
		ORDER BY logged_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query water logs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close water log rows", "error", closeErr)
		}
	}()

	logs := make([]domain.WaterLog, 0, limit)
	for rows.Next() {
		var log domain.WaterLog
		var loggedAt int64
		if err := rows.Scan(&log.ID, &log.UserID, &log.Amount, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan water log row: %w", err)
		}
		log.LoggedAt = time.UnixMilli(loggedAt)
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate water logs: %w", err)
	}

	return logs, nil
}

// InsertWaterLog stores a new intake entry.
func (s *SQLStore) InsertWaterLog(ctx context.Context, log *domain.WaterLog) error {
	query := `INSERT INTO water_logs (id, user_id, amount, logged_at) VALUES (?, ?, ?, ?)`
	_, err := s.execWithRetry(ctx, "insert water log", query,
		log.ID, log.UserID, log.Amount, log.LoggedAt.UnixMilli())
	return err
}

// DeleteWaterLog removes a log owned by userID.
func (s *SQLStore) DeleteWaterLog(ctx context.Context, userID, logID string) (bool, error) {
	query := `DELETE FROM water_logs WHERE id = ? AND user_id = ?`
	result, err := s.execWithRetry(ctx, "delete water log", query, logID, userID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SumWaterLogs sums amounts logged in [from, to).
func (s *SQLStore) SumWaterLogs(ctx context.Context, userID string, from, to time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM water_logs
		WHERE user_id = ? AND logged_at >= ? AND logged_at < ?`

	var total int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, from.UnixMilli(), to.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum water logs: %w", err)
	}
	return int(total), nil
}

// GetSettings returns stored settings, or nil, nil if the user has none yet.
func (s *SQLStore) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	query := `
		SELECT daily_goal, reminder_enabled, reminder_interval, sounds_enabled
		FROM user_settings WHERE user_id = ?`

	var settings domain.UserSettings
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&settings.DailyGoal, &settings.ReminderEnabled,
		&settings.ReminderInterval, &settings.SoundsEnabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings row: %w", err)
	}
	return &settings, nil
}

// UpdateSettings applies a partial update and returns the stored result. The
// row is seeded with defaults, read, merged and written in one transaction.
func (s *SQLStore) UpdateSettings(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.UserSettings, error) {
	defaults := domain.DefaultSettings()
	now := time.Now().Unix()

	seed := `
		INSERT INTO user_settings (user_id, daily_goal, reminder_enabled, reminder_interval, sounds_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`
	read := `
		SELECT daily_goal, reminder_enabled, reminder_interval, sounds_enabled
		FROM user_settings WHERE user_id = ?`
	if s.dialect == dialectPostgres {
		read += " FOR UPDATE"
	}
	write := `
		UPDATE user_settings SET
			daily_goal = ?, reminder_enabled = ?, reminder_interval = ?, sounds_enabled = ?, updated_at = ?
		WHERE user_id = ?`

	var merged domain.UserSettings
	err := s.inTx(ctx, "update settings", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(seed),
			userID, defaults.DailyGoal, defaults.ReminderEnabled,
			defaults.ReminderInterval, defaults.SoundsEnabled, now,
		); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}

		var current domain.UserSettings
		if err := tx.QueryRowContext(ctx, s.rebind(read), userID).Scan(
			&current.DailyGoal, &current.ReminderEnabled,
			&current.ReminderInterval, &current.SoundsEnabled,
		); err != nil {
			return fmt.Errorf("read settings: %w", err)
		}

		merged = patch.Apply(current)
		_, err := tx.ExecContext(ctx, s.rebind(write),
			merged.DailyGoal, merged.ReminderEnabled,
			merged.ReminderInterval, merged.SoundsEnabled, now, userID,
		)
		return err
	})
	if err != nil {
		return domain.UserSettings{}, err
	}
	return merged, nil
}

// InsertActivityBreak appends an activity break event.
func (s *SQLStore) InsertActivityBreak(ctx context.Context, b *domain.ActivityBreak) error {
	query := `INSERT INTO activity_breaks (id, user_id, break_at) VALUES (?, ?, ?)`
	_, err := s.execWithRetry(ctx, "insert activity break", query, b.ID, b.UserID, b.BreakAt.UnixMilli())
	return err
}

// CountActivityBreaks counts breaks at or after since.
func (s *SQLStore) CountActivityBreaks(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM activity_breaks WHERE user_id = ? AND break_at >= ?`
	var n int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query), userID, since.UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activity breaks: %w", err)
	}
	return int(n), nil
}

// GetStreak returns the streak record, or nil, nil if absent.
func (s *SQLStore) GetStreak(ctx context.Context, userID string) (*domain.Streak, error) {
	query := `SELECT user_id, streak_count, evaluated_on, updated_at FROM streaks WHERE user_id = ?`

	var streak domain.Streak
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&streak.UserID, &streak.Count, &streak.EvaluatedOn, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan streak row: %w", err)
	}
	streak.UpdatedAt = time.Unix(updatedAt, 0)
	return &streak, nil
}

// UpsertStreak creates or updates the streak record.
func (s *SQLStore) UpsertStreak(ctx context.Context, streak *domain.Streak) error {
	query := `
		INSERT INTO streaks (user_id, streak_count, evaluated_on, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			streak_count = excluded.streak_count,
			evaluated_on = excluded.evaluated_on,
			updated_at = excluded.updated_at`
	_, err := s.execWithRetry(ctx, "upsert streak", query,
		streak.UserID, streak.Count, streak.EvaluatedOn, time.Now().Unix())
	return err
}

// GetPreferences returns the raw client preference values for a user.
func (s *SQLStore) GetPreferences(ctx context.Context, userID string) (map[string]string, error) {
	query := `SELECT pref_key, pref_value FROM preferences WHERE user_id = ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close preference rows", "error", closeErr)
		}
	}()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return values, nil
}

// SetPreferences upserts the given preference values in one transaction.
// Empty values delete the key.
func (s *SQLStore) SetPreferences(ctx context.Context, userID string, values map[string]string) error {
	now := time.Now().Unix()
	upsert := s.rebind(`
		INSERT INTO preferences (user_id, pref_key, pref_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, pref_key) DO UPDATE SET
			pref_value = excluded.pref_value,
			updated_at = excluded.updated_at`)
	remove := s.rebind(`DELETE FROM preferences WHERE user_id = ? AND pref_key = ?`)

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return s.inTx(ctx, "set preferences", func(tx *sql.Tx) error {
		for _, key := range keys {
			value := values[key]
			if value == "" {
				if _, err := tx.ExecContext(ctx, remove, userID, key); err != nil {
					return fmt.Errorf("delete preference %s: %w", key, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, upsert, userID, key, value, now); err != nil {
				return fmt.Errorf("upsert preference %s: %w", key, err)
			}
		}
		return nil
	})
}
