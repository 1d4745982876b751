package checksum

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors a directory tree on the OS filesystem and feeds changed
// absolute paths into a PathQueue after a short debounce.
type Watcher struct {
	root    string
	ignore  *IgnoreRules
	queue   *PathQueue
	watcher *fsnotify.Watcher
}

// NewWatcher creates a recursive watcher for root.
func NewWatcher(root string, ignore *IgnoreRules, queue *PathQueue) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, ignore: ignore, queue: queue, watcher: w}, nil
}

// Start adds watches and pumps events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	l.Info("watching", "root", w.root)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.within(event.Name) || w.ignore.Match(filepath.Base(event.Name), false) {
				continue
			}

			pending[event.Name] = struct{}{}
			timer.Reset(debounceInterval)

			// New directories need their own watch; adding a file is a no-op error.
			if event.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name); err != nil {
					l.Debug("watch add skipped", "path", event.Name, "err", err)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watcher error", "err", err)

		case <-timer.C:
			if len(pending) > 0 {
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				w.queue.PushMany(paths)
				l.Debug("flushed paths to queue", "count", len(paths))
				pending = make(map[string]struct{})
			}
		}
	}
}

// within reports whether path lies strictly beneath the watched root.
func (w *Watcher) within(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// addRecursive adds a directory and all its subdirectories, honoring ignore
// rules for directories below root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignore.Match(d.Name(), true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
