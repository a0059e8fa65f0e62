package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS downloaded_hashes (
	hash         TEXT PRIMARY KEY,
	committed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps hashes in a SQLite table. It survives partial writes
// better than the flat file and can be inspected with standard tooling.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("dedup sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open dedup database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dedup table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Seen reports whether hash was committed.
func (s *SQLiteStore) Seen(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM downloaded_hashes WHERE hash = ?", hash).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query dedup hash: %w", err)
	default:
		return true, nil
	}
}

// Commit records hash. Committing a known hash is a no-op.
func (s *SQLiteStore) Commit(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO downloaded_hashes (hash) VALUES (?)", hash); err != nil {
		return fmt.Errorf("insert dedup hash: %w", err)
	}
	return nil
}

// Count returns the number of committed hashes.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloaded_hashes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count dedup hashes: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close dedup database: %w", err)
	}
	return nil
}
