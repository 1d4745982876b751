package checksum

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/maruel/natural"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// missingDirTTL bounds how long a directory observed as missing is trusted.
const missingDirTTL = 30 * time.Second

// ExistsChecker answers whether a path currently exists on disk.
type ExistsChecker interface {
	Exists(path string) (bool, error)
}

// FSChecker checks existence on an afero filesystem. Directories observed as
// missing are remembered briefly so that keys under a deleted directory do not
// each cost a stat.
type FSChecker struct {
	fs          afero.Fs
	missingDirs *ttlcache.Cache[string, struct{}]
}

// NewFSChecker creates a checker over fs.
func NewFSChecker(fs afero.Fs) *FSChecker {
	return &FSChecker{
		fs: fs,
		missingDirs: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](missingDirTTL),
			ttlcache.WithCapacity[string, struct{}](4096),
		),
	}
}

// Exists reports whether path exists. Symlinks are followed.
func (c *FSChecker) Exists(path string) (bool, error) {
	dir := filepath.Dir(path)
	for d := dir; ; d = filepath.Dir(d) {
		if c.missingDirs.Has(d) {
			return false, nil
		}
		if next := filepath.Dir(d); next == d {
			break
		}
	}

	ok, err := afero.Exists(c.fs, path)
	if err != nil {
		return false, err
	}
	if !ok {
		if dirOK, dirErr := afero.DirExists(c.fs, dir); dirErr == nil && !dirOK {
			c.missingDirs.Set(dir, struct{}{}, ttlcache.DefaultTTL)
		}
	}
	return ok, nil
}

// Pruner deletes store keys whose paths no longer exist on disk.
type Pruner struct {
	store    Store
	checker  ExistsChecker
	counters *Counters
	dryRun   bool
	out      io.Writer
}

// NewPruner creates a pruner. Under dryRun nothing is deleted but stale keys
// are still counted. Progress lines go to out.
func NewPruner(store Store, checker ExistsChecker, counters *Counters, dryRun bool, out io.Writer) *Pruner {
	if out == nil {
		out = io.Discard
	}
	return &Pruner{store: store, checker: checker, counters: counters, dryRun: dryRun, out: out}
}

// Prune lists every key and removes those whose path is gone. A listing
// failure is fatal; a failed existence check or delete only skips that key.
// Returns the number of keys counted as deleted.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	l := sub("pruner")

	keys, err := p.store.ListKeys(ctx)
	if err != nil {
		l.Error("cannot list store keys", "err", err)
		return 0, fmt.Errorf("%w: %w", ErrListKeys, err)
	}
	l.Info("prune start", "keys", len(keys), "dryRun", p.dryRun)

	deleted, err := p.pruneKeys(ctx, keys)
	l.Info("prune complete", "deleted", deleted)
	return deleted, err
}

// PrunePrefix prunes path itself and every key beneath it. Used when a watched
// path disappears.
func (p *Pruner) PrunePrefix(ctx context.Context, path string) (int, error) {
	keys, err := p.store.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrListKeys, err)
	}
	prefix := path + string(filepath.Separator)
	matched := lo.Filter(keys, func(k string, _ int) bool {
		return k == path || strings.HasPrefix(k, prefix)
	})
	return p.pruneKeys(ctx, matched)
}

func (p *Pruner) pruneKeys(ctx context.Context, keys []string) (int, error) {
	keys = lo.Uniq(keys)
	sort.Slice(keys, func(i, j int) bool { return natural.Less(keys[i], keys[j]) })

	deleted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if p.pruneKey(ctx, key) {
			deleted++
		}
	}
	return deleted, nil
}

// pruneKey deletes key if its path is missing and reports whether it was
// counted as deleted.
func (p *Pruner) pruneKey(ctx context.Context, key string) bool {
	l := sub("pruner")

	exists, err := p.checker.Exists(key)
	if err != nil {
		l.Warn("existence check failed, key kept", "key", key, "err", err)
		p.counters.skipped.Add(1)
		return false
	}
	if exists {
		return false
	}

	if !p.dryRun {
		if err := p.store.Delete(ctx, key); err != nil {
			l.Warn("delete failed, key kept", "key", key, "err", err)
			p.counters.skipped.Add(1)
			return false
		}
	}

	fmt.Fprintf(p.out, "Removing %s.\n", key)
	p.counters.deleted.Add(1)
	return true
}
