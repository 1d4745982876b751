package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ghyeongl/redis-checksum/checksum"
)

const envPrefix = "REDIS_CHECKSUM"

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "redis-checksum <directory>",
		Short: "Track size, mtime and MD5 of every file under a directory",
		Long: `Reconcile a directory tree with a key-value store.

Every non-empty regular file gets one record keyed by its absolute path
holding size, mtime and md5sum. Records of files that no longer exist are
removed first, then the tree is walked and new or changed files are hashed.
Files whose mtime matches the stored record are not read.`,
		Args:          usageArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runReconcile(cmd.Context(), cfg, args[0], stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return reportUsage(c, err)
	})

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("store", checksum.BackendRedis, "store backend: redis or sqlite")
	flags.String("redis-addr", "", "redis server address (default 127.0.0.1:6379)")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database number")
	flags.String("sqlite-path", "", "sqlite database file for --store=sqlite")
	flags.String("log-dir", "", "directory for rotating log files")
	flags.BoolP("verbose", "v", false, "print info and debug logs to stderr")

	local := cmd.Flags()
	local.Bool("dry-run", false, "report what would change without writing to the store")
	local.Bool("watch", false, "keep running and reconcile paths as they change")
	local.Int("workers", 0, "files hashed concurrently (default 1)")
	local.Int("max-depth", 0, "maximum directory depth to descend")
	local.String("ignore-file", "", "ignore patterns file (default <directory>/.checksumignore)")

	bindFlags(v, flags, local)

	cmd.AddCommand(newShowCmd(v, stdout))
	return cmd
}

// usageError is a command-line mistake already reported on stderr together
// with the help hint.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// reportUsage writes err and the help hint to the command's stderr.
func reportUsage(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\nRun '%s --help' for usage.\n", err, cmd.CommandPath())
	return &usageError{err: err}
}

// usageArgs wraps an argument validator so that its failures are reported
// like flag errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return reportUsage(cmd, err)
		}
		return nil
	}
}

// reportError prints a run error unless it was already reported as a
// usage mistake.
func reportError(w io.Writer, err error) {
	var ue *usageError
	if errors.As(err, &ue) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// bindFlags maps flag names to config keys.
func bindFlags(v *viper.Viper, persistent, local *pflag.FlagSet) {
	keys := map[string]string{
		"config":         "config",
		"store":          "store",
		"redis-addr":     "redis.addr",
		"redis-password": "redis.password",
		"redis-db":       "redis.db",
		"sqlite-path":    "sqlite.path",
		"log-dir":        "log_dir",
		"verbose":        "verbose",
		"dry-run":        "dry_run",
		"watch":          "watch",
		"workers":        "workers",
		"max-depth":      "max_depth",
		"ignore-file":    "ignore_file",
	}
	for name, key := range keys {
		f := persistent.Lookup(name)
		if f == nil {
			f = local.Lookup(name)
		}
		v.BindPFlag(key, f) //nolint:errcheck
	}
}

// loadConfig layers defaults, config file, environment and flags.
func loadConfig(v *viper.Viper) (checksum.Config, error) {
	def := checksum.DefaultConfig()
	v.SetDefault("store", def.Store)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("sqlite.path", def.SQLite.Path)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("max_depth", def.MaxDepth)
	v.SetDefault("chunk_size", def.ChunkSize)
	v.SetDefault("ignore_file", "")
	v.SetDefault("log_dir", "")
	v.SetDefault("verbose", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("watch", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		expanded, err := homedir.Expand(file)
		if err != nil {
			return checksum.Config{}, fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return checksum.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg checksum.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return checksum.Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Zero-valued flags mean "not set" for these keys.
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = def.SQLite.Path
	}

	var err error
	if cfg.SQLite.Path, err = homedir.Expand(cfg.SQLite.Path); err != nil {
		return checksum.Config{}, fmt.Errorf("expand sqlite path: %w", err)
	}
	if cfg.LogDir, err = homedir.Expand(cfg.LogDir); err != nil {
		return checksum.Config{}, fmt.Errorf("expand log dir: %w", err)
	}
	if cfg.IgnoreFile, err = homedir.Expand(cfg.IgnoreFile); err != nil {
		return checksum.Config{}, fmt.Errorf("expand ignore file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return checksum.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resolveRoot turns the directory argument into the absolute, symlink-free
// path used as the key prefix.
func resolveRoot(dir string) (string, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", dir, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", resolved, checksum.ErrRootNotDir)
	}
	return filepath.Clean(resolved), nil
}

func runReconcile(ctx context.Context, cfg checksum.Config, dir string, stdout io.Writer) error {
	root, err := resolveRoot(dir)
	if err != nil {
		return err
	}

	checksum.InitLogger(cfg.LogDir, cfg.Verbose)

	store, err := checksum.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	d := checksum.NewDaemon(store, afero.NewOsFs(), root, cfg, stdout)
	summary, runErr := d.Run(ctx)
	summary.Print(stdout, cfg.DryRun)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("interrupted: %w", runErr)
		}
		return runErr
	}
	return nil
}
