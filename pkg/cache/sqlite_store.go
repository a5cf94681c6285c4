package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	bypass bool
}

// Config holds SQLite store configuration.
type Config struct {
	Path string

	// Bypass disables lookups (every resource reports absent, forcing a
	// re-upload) without disabling writes, so the cache self-heals on the
	// next normal run.
	Bypass bool
}

// NewSQLiteStore creates a new SQLite store instance. An absent database
// file is not an error; it simply means an empty cache.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache database path is required")
	}
	return &SQLiteStore{
		path:   cfg.Path,
		bypass: cfg.Bypass,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping cache database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("cache database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Lookup returns the recorded content hash for a resource. In bypass mode
// every lookup reports absent.
func (s *SQLiteStore) Lookup(ctx context.Context, targetID, name string) (string, bool, error) {
	if s.bypass {
		return "", false, nil
	}

	query := `
		SELECT content_hash
		FROM cache_entries
		WHERE target_id = ? AND resource_name = ?
	`

	var hash string
	err := s.db.QueryRowContext(ctx, query, targetID, name).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	return hash, true, nil
}

// Record upserts the content hash for a resource. Writes happen even in
// bypass mode.
func (s *SQLiteStore) Record(ctx context.Context, targetID, name, hash, runID string) error {
	query := `
		INSERT INTO cache_entries (target_id, resource_name, content_hash, last_seen_run, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(target_id, resource_name) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_seen_run = excluded.last_seen_run,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		targetID,
		name,
		hash,
		runID,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to record cache entry: %w", err)
	}
	return nil
}

// Purge deletes a resource's cache entry. Purging an absent entry is not
// an error.
func (s *SQLiteStore) Purge(ctx context.Context, targetID, name string) error {
	query := `DELETE FROM cache_entries WHERE target_id = ? AND resource_name = ?`

	if _, err := s.db.ExecContext(ctx, query, targetID, name); err != nil {
		return fmt.Errorf("failed to purge cache entry: %w", err)
	}
	return nil
}

// AllKnown lists every resource name with an entry for the target.
func (s *SQLiteStore) AllKnown(ctx context.Context, targetID string) ([]string, error) {
	query := `
		SELECT resource_name
		FROM cache_entries
		WHERE target_id = ?
		ORDER BY resource_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return names, nil
}
