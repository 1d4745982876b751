package checksum

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultMaxDepth bounds traversal recursion. It exists to stop pathological
// trees, not to limit ordinary nesting.
const DefaultMaxDepth = 512

// WalkOptions controls a traversal.
type WalkOptions struct {
	MaxDepth int // 0 means DefaultMaxDepth
	Ignore   *IgnoreRules
}

// Walk streams every entry beneath root to fn, depth first in lexical order.
// The root itself is not reported. Symlinks are not followed and are reported
// as non-regular entries. Entries that cannot be read are logged and skipped;
// an error from fn or a cancelled ctx aborts the walk.
func Walk(ctx context.Context, fs afero.Fs, root string, opts WalkOptions, fn func(TraversalEntry) error) error {
	l := sub("scanner")

	info, err := fs.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", root, ErrRootNotDir)
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	l.Debug("walk start", "root", root, "maxDepth", maxDepth, "ignorePatterns", opts.Ignore.Len())
	var visited int

	err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			// Permission errors and entries that vanished mid-walk are not fatal.
			l.Warn("walk entry skipped", "path", path, "err", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		if opts.Ignore.Match(info.Name(), info.IsDir()) {
			if logEnabled(slog.LevelDebug) {
				l.Debug("walk ignored", "path", path)
			}
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		visited++
		entry := TraversalEntry{
			Path:      path,
			Size:      info.Size(),
			Mtime:     info.ModTime().Unix(),
			IsRegular: info.Mode().IsRegular(),
			IsDir:     info.IsDir(),
		}
		if err := fn(entry); err != nil {
			return err
		}

		if entry.IsDir && depth(rel) >= maxDepth {
			l.Warn("max depth reached, not descending", "path", path, "maxDepth", maxDepth)
			return filepath.SkipDir
		}
		return nil
	})

	l.Debug("walk complete", "root", root, "entries", visited)
	return err
}

// depth returns the number of path components in a relative path.
func depth(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	n := 0
	for _, c := range rel {
		if c == filepath.Separator {
			n++
		}
	}
	return n + 1
}
