package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgres creates a Postgres-backed repository. The schema matches the
// SQLite one, so a hosted Postgres (e.g. Supabase) can serve as the backend.
func NewPostgres(databaseURL string, opts ...Option) (Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, dialectPostgres, opts)
}
