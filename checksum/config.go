package checksum

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full runtime configuration. The command line populates it
// through viper; the mapstructure tags are the config-file keys.
type Config struct {
	Store      string       `mapstructure:"store"`
	Redis      RedisConfig  `mapstructure:"redis"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
	Workers    int          `mapstructure:"workers"`
	MaxDepth   int          `mapstructure:"max_depth"`
	ChunkSize  int          `mapstructure:"chunk_size"`
	IgnoreFile string       `mapstructure:"ignore_file"`
	LogDir     string       `mapstructure:"log_dir"`
	Verbose    bool         `mapstructure:"verbose"`
	DryRun     bool         `mapstructure:"dry_run"`
	Watch      bool         `mapstructure:"watch"`
}

// DefaultConfig returns the settings of the reference behavior: a local
// Redis, one worker, no watching.
func DefaultConfig() Config {
	return Config{
		Store: BackendRedis,
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			DialTimeout: 5 * time.Second,
		},
		SQLite:    SQLiteConfig{Path: "checksum.db"},
		Workers:   1,
		MaxDepth:  DefaultMaxDepth,
		ChunkSize: DefaultChunkSize,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	return nil
}
