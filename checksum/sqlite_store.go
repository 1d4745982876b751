package checksum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// SQLiteConfig holds settings for SQLiteStore.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// SQLiteStore keeps records in a local SQLite file. It serves the same
// contract as RedisStore for hosts without a Redis server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path, creating its parent
// directory if needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("mkdir db parent: %w", err)
	}
	db, err := openDBAt(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database handle is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}

// ListKeys returns every record path.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM records")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan record path: %w", err)
		}
		keys = append(keys, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sub("store").Debug("ListKeys", "count", len(keys))
	return keys, nil
}

// GetMtime fetches the mtime column once.
func (s *SQLiteStore) GetMtime(ctx context.Context, path string) (int64, bool, error) {
	var mtime int64
	err := s.db.QueryRowContext(ctx, "SELECT mtime FROM records WHERE path = ?", path).Scan(&mtime)
	if errors.Is(err, sql.ErrNoRows) {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("GetMtime", "path", path, "found", false)
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get mtime: %w", err)
	}
	return mtime, true, nil
}

// GetRecord retrieves the record for path, or nil if absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, path string) (*FileRecord, error) {
	rec := &FileRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT path, size, mtime, md5sum FROM records WHERE path = ?
	`, path).Scan(&rec.Path, &rec.Size, &rec.Mtime, &rec.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// PutRecord inserts or replaces the record keyed by path.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec FileRecord) error {
	l := sub("store")
	if logEnabled(slog.LevelDebug) {
		l.Debug("PutRecord", "path", rec.Path, "size", rec.Size, "mtime", rec.Mtime)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (path, size, mtime, md5sum)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size   = excluded.size,
			mtime  = excluded.mtime,
			md5sum = excluded.md5sum
	`, rec.Path, rec.Size, rec.Mtime, rec.Digest)
	if err != nil {
		l.Error("PutRecord failed", "path", rec.Path, "err", err)
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Delete removes the record for path.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	sub("store").Debug("Delete", "path", path)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
