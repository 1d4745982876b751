package checksum

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, fsys afero.Fs, root string, opts WalkOptions) map[string]TraversalEntry {
	t.Helper()
	out := make(map[string]TraversalEntry)
	err := Walk(context.Background(), fsys, root, opts, func(e TraversalEntry) error {
		out[e.Path] = e
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestWalk_BasicTree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	mtime := time.Unix(1707753600, 0)

	// /data/
	//   docs/
	//     readme.txt
	//   photo.jpg
	//   empty.bin
	writeFile(t, fsys, "/data/docs/readme.txt", []byte("hello"), mtime)
	writeFile(t, fsys, "/data/photo.jpg", []byte("fake-jpg"), mtime)
	writeFile(t, fsys, "/data/empty.bin", nil, mtime)

	result := collect(t, fsys, "/data", WalkOptions{})
	assert.Len(t, result, 4)

	docs, ok := result[filepath.Join("/data", "docs")]
	require.True(t, ok)
	assert.True(t, docs.IsDir)
	assert.False(t, docs.IsRegular)

	readme, ok := result[filepath.Join("/data", "docs", "readme.txt")]
	require.True(t, ok)
	assert.True(t, readme.IsRegular)
	assert.Equal(t, int64(5), readme.Size)
	assert.Equal(t, mtime.Unix(), readme.Mtime)
	assert.True(t, readme.trackable())

	empty := result[filepath.Join("/data", "empty.bin")]
	assert.True(t, empty.IsRegular)
	assert.False(t, empty.trackable(), "empty files are never tracked")
}

func TestWalk_RootErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/file.txt", []byte("x"), time.Now())

	err := Walk(context.Background(), fsys, "/missing", WalkOptions{}, func(TraversalEntry) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = Walk(context.Background(), fsys, "/file.txt", WalkOptions{}, func(TraversalEntry) error { return nil })
	assert.ErrorIs(t, err, ErrRootNotDir)
}

func TestWalk_MaxDepth(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := time.Now()
	writeFile(t, fsys, "/r/a.txt", []byte("1"), now)
	writeFile(t, fsys, "/r/d1/b.txt", []byte("2"), now)
	writeFile(t, fsys, "/r/d1/d2/c.txt", []byte("3"), now)

	result := collect(t, fsys, "/r", WalkOptions{MaxDepth: 2})

	assert.Contains(t, result, filepath.Join("/r", "a.txt"))
	assert.Contains(t, result, filepath.Join("/r", "d1", "b.txt"))
	assert.Contains(t, result, filepath.Join("/r", "d1", "d2"), "directory at the bound is reported")
	assert.NotContains(t, result, filepath.Join("/r", "d1", "d2", "c.txt"), "not descended past the bound")
}

func TestWalk_IgnoreRules(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := time.Now()
	writeFile(t, fsys, "/r/keep.txt", []byte("k"), now)
	writeFile(t, fsys, "/r/skip.tmp", []byte("s"), now)
	writeFile(t, fsys, "/r/cache/inside.txt", []byte("c"), now)
	writeFile(t, fsys, "/r/.checksumignore", []byte("*.tmp\ncache/\n"), now)

	rules := LoadIgnoreRules(fsys, "/r/.checksumignore")
	result := collect(t, fsys, "/r", WalkOptions{Ignore: rules})

	assert.Contains(t, result, filepath.Join("/r", "keep.txt"))
	assert.NotContains(t, result, filepath.Join("/r", "skip.tmp"))
	assert.NotContains(t, result, filepath.Join("/r", "cache"))
	assert.NotContains(t, result, filepath.Join("/r", "cache", "inside.txt"))
}

func TestWalk_SymlinksNotFollowed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "f.txt"), []byte("x"), 0644))

	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link")))

	result := collect(t, afero.NewOsFs(), root, WalkOptions{})

	link, ok := result[filepath.Join(root, "link")]
	require.True(t, ok)
	assert.False(t, link.IsRegular)
	assert.False(t, link.IsDir)
	for p := range result {
		assert.False(t, strings.HasPrefix(p, filepath.Join(root, "link")+string(filepath.Separator)),
			"walk must not descend into symlinked dir: %s", p)
	}
}

func TestWalk_CancelledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/r/a.txt", []byte("a"), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Walk(ctx, fsys, "/r", WalkOptions{}, func(TraversalEntry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, depth("."))
	assert.Equal(t, 1, depth("a"))
	assert.Equal(t, 3, depth(filepath.Join("a", "b", "c")))
}
