package checksum

import (
	"context"
	"fmt"
	"strconv"
)

// Store is the persistent mapping from absolute path to FileRecord.
// Every method is a single typed call; paths are never interpolated into
// command strings.
type Store interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// ListKeys returns every key held in the store, unfiltered.
	ListKeys(ctx context.Context) ([]string, error)
	// GetMtime returns the stored mtime for path. found is false when the
	// store has no record for path.
	GetMtime(ctx context.Context, path string) (mtime int64, found bool, err error)
	// GetRecord returns the full record for path, or nil if absent.
	GetRecord(ctx context.Context, path string) (*FileRecord, error)
	// PutRecord writes all fields of rec in one operation.
	PutRecord(ctx context.Context, rec FileRecord) error
	// Delete removes the key for path.
	Delete(ctx context.Context, path string) error
	Close() error
}

// Store backends accepted by OpenStore.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// OpenStore connects to the backend selected in cfg and pings it.
// Any failure is reported as ErrStoreUnavailable.
func OpenStore(ctx context.Context, cfg Config) (Store, error) {
	l := sub("store")

	var (
		s   Store
		err error
	)
	switch cfg.Store {
	case BackendRedis, "":
		s = NewRedisStore(cfg.Redis)
	case BackendSQLite:
		s, err = OpenSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}

	if err := s.Ping(ctx); err != nil {
		s.Close() //nolint:errcheck
		l.Error("store unreachable", "backend", cfg.Store, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	l.Info("store connected", "backend", cfg.Store)
	return s, nil
}

// parseMtime converts a stored mtime field. ok is false for values that are
// not integers; callers treat those records as changed.
func parseMtime(raw string) (int64, bool) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
