package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage is a seen-cache backed by a local SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Path returns the database file location.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetSeen returns the high-water mark for scope, or common.ErrNotFound.
func (s *SQLiteStorage) GetSeen(ctx context.Context, scope string) (*model.SeenCacheEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(scope, "scope"); err != nil {
		return nil, err
	}

	entry := model.SeenCacheEntry{Scope: scope}
	err := s.db.QueryRowContext(ctx,
		`SELECT highest_id, updated_at FROM seen_cache WHERE scope = ?`, scope,
	).Scan(&entry.HighestID, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("seen mark for %s: %w", scope, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seen mark: %w", err)
	}
	return &entry, nil
}

// AdvanceSeen moves the mark for scope to id when id orders after the stored
// mark. The comparison runs inside the upsert so concurrent writers can
// never move a mark backwards.
func (s *SQLiteStorage) AdvanceSeen(ctx context.Context, scope, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(scope, "scope"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_cache (scope, highest_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			highest_id = excluded.highest_id,
			updated_at = excluded.updated_at
		WHERE length(excluded.highest_id) > length(seen_cache.highest_id)
			OR (length(excluded.highest_id) = length(seen_cache.highest_id)
				AND excluded.highest_id > seen_cache.highest_id)`,
		scope, id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to advance seen mark: %w", err)
	}
	return nil
}

// ListSeen returns every stored mark ordered by scope.
func (s *SQLiteStorage) ListSeen(ctx context.Context) ([]model.SeenCacheEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, highest_id, updated_at FROM seen_cache ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seen marks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.SeenCacheEntry
	for rows.Next() {
		var e model.SeenCacheEntry
		if err := rows.Scan(&e.Scope, &e.HighestID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan seen mark: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearSeen deletes the mark for scope. An empty scope clears every mark.
func (s *SQLiteStorage) ClearSeen(ctx context.Context, scope string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var err error
	if scope == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM seen_cache`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM seen_cache WHERE scope = ?`, scope)
	}
	if err != nil {
		return fmt.Errorf("failed to clear seen marks: %w", err)
	}
	return nil
}
