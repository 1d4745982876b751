package checksum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 1000

// unparsableMtime stands in for a stored mtime that is not an integer.
// It never equals a real file mtime, so the record is always refreshed.
const unparsableMtime = math.MinInt64

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RedisStore keeps one hash per tracked path with the fields size, mtime and
// md5sum.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store for the given server. No connection is made
// until the first command; call Ping to verify reachability.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})}
}

// Ping verifies the server answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// ListKeys walks the keyspace with SCAN. SCAN may report a key more than
// once; callers de-duplicate.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, "*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sub("store").Debug("ListKeys", "count", len(keys))
	return keys, nil
}

// GetMtime fetches the mtime field once.
func (s *RedisStore) GetMtime(ctx context.Context, path string) (int64, bool, error) {
	raw, err := s.client.HGet(ctx, path, FieldMtime).Result()
	if errors.Is(err, redis.Nil) {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("GetMtime", "path", path, "found", false)
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis hget %s: %w", FieldMtime, err)
	}

	mtime, ok := parseMtime(raw)
	if !ok {
		sub("store").Warn("stored mtime is not an integer", "path", path, "value", raw)
		return unparsableMtime, true, nil
	}
	return mtime, true, nil
}

// GetRecord fetches all fields for path.
func (s *RedisStore) GetRecord(ctx context.Context, path string) (*FileRecord, error) {
	fields, err := s.client.HGetAll(ctx, path).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &FileRecord{Path: path, Digest: fields[FieldDigest]}
	if v, ok := fields[FieldSize]; ok {
		rec.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields[FieldMtime]; ok {
		rec.Mtime, _ = parseMtime(v)
	}
	return rec, nil
}

// PutRecord writes all three fields with a single HSET.
func (s *RedisStore) PutRecord(ctx context.Context, rec FileRecord) error {
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("PutRecord", "path", rec.Path, "size", rec.Size, "mtime", rec.Mtime)
	}
	err := s.client.HSet(ctx, rec.Path,
		FieldMtime, rec.Mtime,
		FieldSize, rec.Size,
		FieldDigest, rec.Digest,
	).Err()
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete removes the key for path.
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	sub("store").Debug("Delete", "path", path)
	if err := s.client.Del(ctx, path).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
