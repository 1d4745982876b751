package checksum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// Daemon runs one reconciliation session: prune, full reconcile, then in
// watch mode keeps reconciling changed paths until ctx is cancelled.
type Daemon struct {
	root     string
	store    Store
	fs       afero.Fs
	watch    bool
	dryRun   bool
	ignore   *IgnoreRules
	counters *Counters
	pruner   *Pruner
	rec      *Reconciler
	queue    *PathQueue
}

// NewDaemon wires a session for root. root must be absolute and clean.
// Progress lines are written to out.
func NewDaemon(store Store, fsys afero.Fs, root string, cfg Config, out io.Writer) *Daemon {
	ignorePath := cfg.IgnoreFile
	if ignorePath == "" {
		ignorePath = filepath.Join(root, DefaultIgnoreFile)
	}
	ignore := LoadIgnoreRules(fsys, ignorePath)

	counters := &Counters{}
	return &Daemon{
		root:     root,
		store:    store,
		fs:       fsys,
		watch:    cfg.Watch,
		dryRun:   cfg.DryRun,
		ignore:   ignore,
		counters: counters,
		pruner:   NewPruner(store, NewFSChecker(fsys), counters, cfg.DryRun, out),
		rec: NewReconciler(store, fsys, counters, ReconcilerOptions{
			Workers:   cfg.Workers,
			ChunkSize: cfg.ChunkSize,
			Walk:      WalkOptions{MaxDepth: cfg.MaxDepth, Ignore: ignore},
			DryRun:    cfg.DryRun,
			Out:       out,
		}),
		queue: NewPathQueue(),
	}
}

// Run executes the session and returns the final counts. Pruning always
// completes before reconciliation starts. In watch mode a cancelled ctx is a
// normal shutdown and yields a nil error.
func (d *Daemon) Run(ctx context.Context) (Summary, error) {
	l := sub("daemon")
	l.Info("session starting", "root", d.root, "dryRun", d.dryRun, "watch", d.watch)
	start := nowFunc()

	// Phase 1: drop records of files that no longer exist
	if _, err := d.pruner.Prune(ctx); err != nil {
		return d.counters.Snapshot(), fmt.Errorf("prune: %w", err)
	}

	// Phase 2: full walk
	if _, _, err := d.rec.Reconcile(ctx, d.root); err != nil {
		return d.counters.Snapshot(), fmt.Errorf("reconcile: %w", err)
	}

	s := d.counters.Snapshot()
	l.Info("session pass complete",
		"added", s.Added,
		"updated", s.Updated,
		"deleted", s.Deleted,
		"skipped", s.Skipped,
		"hashed", humanize.Bytes(uint64(s.BytesHashed)),
		"elapsed", nowFunc().Sub(start),
	)

	if !d.watch {
		return s, nil
	}

	// Phase 3: watcher in background
	watcher, err := NewWatcher(d.root, d.ignore, d.queue)
	if err != nil {
		return d.counters.Snapshot(), fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	go func() {
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()

	// Phase 4: worker loop
	done := ctx.Done()
	for {
		path, ok := d.queue.Pop(done)
		if !ok {
			break
		}
		d.handlePath(ctx, path)
		if logEnabled(slog.LevelDebug) {
			l.Debug("path handled", "path", path, "pending", d.queue.Len())
		}
	}

	l.Info("session stopped")
	return d.counters.Snapshot(), nil
}

// handlePath reconciles one path reported by the watcher.
func (d *Daemon) handlePath(ctx context.Context, path string) {
	l := sub("daemon")

	info, err := lstat(d.fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if _, err := d.pruner.PrunePrefix(ctx, path); err != nil && ctx.Err() == nil {
			l.Warn("prune of removed path failed", "path", path, "err", err)
		}
	case err != nil:
		l.Warn("stat failed, event dropped", "path", path, "err", err)
	case d.ignore.Match(info.Name(), info.IsDir()):
		return
	case info.IsDir():
		if _, _, err := d.rec.Reconcile(ctx, path); err != nil && ctx.Err() == nil {
			l.Warn("subtree reconcile failed", "path", path, "err", err)
		}
	default:
		d.rec.reconcileFile(ctx, TraversalEntry{
			Path:      path,
			Size:      info.Size(),
			Mtime:     info.ModTime().Unix(),
			IsRegular: info.Mode().IsRegular(),
		})
	}
}

// lstat stats path without following a final symlink when fsys supports it.
func lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if ls, ok := fsys.(afero.Lstater); ok {
		info, _, err := ls.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}
