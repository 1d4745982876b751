package checksum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marusama/semaphore/v2"
	"github.com/spf13/afero"
)

// action is the outcome of reconciling one file.
type action int

const (
	actionNone   action = iota // tracked, mtime unchanged
	actionAdd                  // untracked, record written
	actionUpdate               // tracked, mtime changed, record rewritten
	actionSkip                 // failed for this run, prior record untouched
)

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Workers   int // concurrent hash+write workers; 1 is strictly sequential
	ChunkSize int
	Walk      WalkOptions
	DryRun    bool
	Out       io.Writer // progress lines
}

// Reconciler walks a tree and brings the store's records up to date.
type Reconciler struct {
	store    Store
	fs       afero.Fs
	hasher   *Hasher
	counters *Counters
	sem      semaphore.Semaphore
	walkOpts WalkOptions
	dryRun   bool

	outMu sync.Mutex
	out   io.Writer
}

// NewReconciler creates a reconciler reading from fs and writing to store.
func NewReconciler(store Store, fs afero.Fs, counters *Counters, opts ReconcilerOptions) *Reconciler {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Reconciler{
		store:    store,
		fs:       fs,
		hasher:   NewHasher(fs, opts.ChunkSize),
		counters: counters,
		sem:      semaphore.New(workers),
		walkOpts: opts.Walk,
		dryRun:   opts.DryRun,
		out:      out,
	}
}

// Reconcile walks root and adds or updates the record of every non-empty
// regular file. Files whose stored mtime matches are not rehashed. Per-file
// failures are logged and skipped; a walk failure or cancelled ctx is
// returned after in-flight files finish.
func (r *Reconciler) Reconcile(ctx context.Context, root string) (added, updated int, err error) {
	l := sub("reconciler")
	l.Info("reconcile start", "root", root, "workers", r.sem.GetLimit(), "dryRun", r.dryRun)

	var nAdded, nUpdated atomic.Int64
	var wg sync.WaitGroup

	walkErr := Walk(ctx, r.fs, root, r.walkOpts, func(e TraversalEntry) error {
		if !e.trackable() {
			return nil
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)
			switch r.reconcileFile(ctx, e) {
			case actionAdd:
				nAdded.Add(1)
			case actionUpdate:
				nUpdated.Add(1)
			}
		}()
		return nil
	})
	wg.Wait()

	added, updated = int(nAdded.Load()), int(nUpdated.Load())
	if walkErr != nil {
		l.Error("reconcile aborted", "root", root, "err", walkErr)
		return added, updated, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	l.Info("reconcile complete", "root", root, "added", added, "updated", updated)
	return added, updated, nil
}

// reconcileFile applies the per-file state machine: no record → add,
// mtime differs → update, mtime equal → nothing. The digest is computed
// completely before the single write.
func (r *Reconciler) reconcileFile(ctx context.Context, e TraversalEntry) action {
	l := sub("reconciler")
	if !e.trackable() {
		return actionNone
	}

	stored, found, err := r.store.GetMtime(ctx, e.Path)
	if err != nil {
		if ctx.Err() != nil {
			return actionSkip
		}
		l.Warn("store lookup failed, file skipped", "path", e.Path, "err", err)
		r.counters.skipped.Add(1)
		return actionSkip
	}

	act := actionAdd
	if found {
		if stored == e.Mtime {
			if logEnabled(slog.LevelDebug) {
				l.Debug("unchanged", "path", e.Path, "mtime", e.Mtime)
			}
			return actionNone
		}
		act = actionUpdate
	}

	digest, n, err := r.hasher.DigestEntry(ctx, e)
	r.counters.bytesHashed.Add(n)
	if err != nil {
		if ctx.Err() != nil {
			l.Debug("hash interrupted", "path", e.Path)
			return actionSkip
		}
		if errors.Is(err, ErrSourceModified) {
			l.Warn("file changed after scan, left for next run", "path", e.Path)
		} else {
			l.Warn("file can't be hashed, skipped", "path", e.Path, "err", err)
		}
		r.counters.skipped.Add(1)
		return actionSkip
	}

	// Cancelled after hashing: drop the result rather than start a write.
	if ctx.Err() != nil {
		return actionSkip
	}

	rec := FileRecord{Path: e.Path, Size: e.Size, Mtime: e.Mtime, Digest: digest}
	if !r.dryRun {
		if err := r.store.PutRecord(ctx, rec); err != nil {
			l.Warn("store write failed, file skipped", "path", e.Path, "err", err)
			r.counters.skipped.Add(1)
			return actionSkip
		}
	}

	if act == actionAdd {
		r.progress("Adding %s to store.\n", e.Path)
		r.counters.added.Add(1)
	} else {
		r.progress("Updating %s.\n", e.Path)
		r.counters.updated.Add(1)
	}
	return act
}

func (r *Reconciler) progress(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
