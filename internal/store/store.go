// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
)

// Repository defines the interface for persisting users and their hydration data.
// Every hydration record is scoped by user ID.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListWaterLogs returns the newest logs for a user, newest first.
	ListWaterLogs(ctx context.Context, userID string, limit int) ([]domain.WaterLog, error)

	// InsertWaterLog stores a new intake entry.
	InsertWaterLog(ctx context.Context, log *domain.WaterLog) error

	// DeleteWaterLog removes a log owned by userID. Reports whether a row was deleted.
	DeleteWaterLog(ctx context.Context, userID, logID string) (bool, error)

	// SumWaterLogs sums amounts logged in [from, to).
	SumWaterLogs(ctx context.Context, userID string, from, to time.Time) (int, error)

	// GetSettings returns stored settings. Returns nil, nil if the user has none yet.
	GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error)

	// UpdateSettings applies a partial update (creating the defaults row first
	// if needed) and returns the stored result.
	UpdateSettings(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.UserSettings, error)

	// InsertActivityBreak appends an activity break event.
	InsertActivityBreak(ctx context.Context, b *domain.ActivityBreak) error

	// CountActivityBreaks counts breaks at or after since.
	CountActivityBreaks(ctx context.Context, userID string, since time.Time) (int, error)

	// GetStreak returns the streak record. Returns nil, nil if absent.
	GetStreak(ctx context.Context, userID string) (*domain.Streak, error)

	// UpsertStreak creates or updates the streak record.
	UpsertStreak(ctx context.Context, s *domain.Streak) error

	// GetPreferences returns the raw client preference values for a user.
	GetPreferences(ctx context.Context, userID string) (map[string]string, error)

	// SetPreferences upserts the given preference values. Empty values delete the key.
	SetPreferences(ctx context.Context, userID string, values map[string]string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Open returns the repository for the given driver name.
func Open(driver, dsn string, opts ...Option) (Repository, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn, opts...)
	case "postgres":
		return NewPostgres(dsn, opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Option configures a SQL-backed repository.
type Option func(*SQLStore)

// WithRetry sets how often busy/locked writes are retried and the base backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(s *SQLStore) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			s.retryBaseDelay = baseDelay
		}
	}
}
