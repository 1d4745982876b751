package checksum

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecord(t *testing.T, s Store, path string) {
	t.Helper()
	require.NoError(t, s.PutRecord(context.Background(), FileRecord{Path: path, Size: 1, Mtime: 1, Digest: md5hex([]byte(path))}))
}

func TestPrune_RemovesStaleKeys(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/r/kept.txt", []byte("k"), time.Now())

	s, m := setupRedis(t)
	seedRecord(t, s, "/r/kept.txt")
	seedRecord(t, s, "/r/gone.txt")
	seedRecord(t, s, "/r/old/dir/deep.txt")

	counters := &Counters{}
	var out bytes.Buffer
	n, err := NewPruner(s, NewFSChecker(fsys), counters, false, &out).Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), counters.Snapshot().Deleted)
	assert.True(t, m.Exists("/r/kept.txt"))
	assert.False(t, m.Exists("/r/gone.txt"))
	assert.False(t, m.Exists("/r/old/dir/deep.txt"))
	assert.Contains(t, out.String(), "Removing /r/gone.txt.")
}

func TestPrune_DryRunKeepsRecordButCounts(t *testing.T) {
	fsys := afero.NewMemMapFs()
	inner, m := setupRedis(t)
	seedRecord(t, inner, "/r/gone.txt")
	s := newRecordingStore(inner)

	counters := &Counters{}
	n, err := NewPruner(s, NewFSChecker(fsys), counters, true, nil).Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), counters.Snapshot().Deleted)
	assert.True(t, m.Exists("/r/gone.txt"), "dry-run must not delete")
	assert.Zero(t, s.mutations())
}

func TestPrune_ListFailureIsFatal(t *testing.T) {
	inner, _ := setupRedis(t)
	s := newRecordingStore(inner)
	s.listErr = errors.New("connection reset")

	_, err := NewPruner(s, NewFSChecker(afero.NewMemMapFs()), &Counters{}, false, nil).Prune(context.Background())
	assert.ErrorIs(t, err, ErrListKeys)
}

func TestPrune_DeleteFailureDoesNotAbort(t *testing.T) {
	inner, m := setupRedis(t)
	seedRecord(t, inner, "/r/a.txt")
	seedRecord(t, inner, "/r/b.txt")
	seedRecord(t, inner, "/r/c.txt")
	s := newRecordingStore(inner)
	s.failDelete["/r/b.txt"] = true

	counters := &Counters{}
	n, err := NewPruner(s, NewFSChecker(afero.NewMemMapFs()), counters, false, nil).Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	snap := counters.Snapshot()
	assert.Equal(t, int64(2), snap.Deleted)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.True(t, m.Exists("/r/b.txt"))
	assert.False(t, m.Exists("/r/a.txt"))
	assert.False(t, m.Exists("/r/c.txt"))
}

type flakyChecker struct {
	ExistsChecker
	fail string
}

func (c flakyChecker) Exists(path string) (bool, error) {
	if path == c.fail {
		return false, errors.New("EIO")
	}
	return c.ExistsChecker.Exists(path)
}

func TestPrune_ExistenceCheckFailureKeepsKey(t *testing.T) {
	s, m := setupRedis(t)
	seedRecord(t, s, "/r/a.txt")
	seedRecord(t, s, "/r/b.txt")

	checker := flakyChecker{ExistsChecker: NewFSChecker(afero.NewMemMapFs()), fail: "/r/a.txt"}
	counters := &Counters{}
	n, err := NewPruner(s, checker, counters, false, nil).Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.True(t, m.Exists("/r/a.txt"))
	assert.False(t, m.Exists("/r/b.txt"))
	assert.Equal(t, int64(1), counters.Snapshot().Skipped)
}

func TestPrunePrefix(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/r/dirx/kept.txt", []byte("k"), time.Now())

	s, m := setupRedis(t)
	seedRecord(t, s, "/r/dir/a.txt")
	seedRecord(t, s, "/r/dir/sub/b.txt")
	seedRecord(t, s, "/r/dirx/kept.txt")
	seedRecord(t, s, "/r/other.txt")

	n, err := NewPruner(s, NewFSChecker(fsys), &Counters{}, false, nil).PrunePrefix(context.Background(), "/r/dir")
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.False(t, m.Exists("/r/dir/a.txt"))
	assert.False(t, m.Exists("/r/dir/sub/b.txt"))
	assert.True(t, m.Exists("/r/dirx/kept.txt"), "sibling with shared name prefix untouched")
	assert.True(t, m.Exists("/r/other.txt"), "outside prefix untouched even though missing")
}

func TestFSChecker_MissingDirMemo(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := NewFSChecker(fsys)

	ok, err := c.Exists("/gone/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, c.missingDirs.Has("/gone"))

	// Sibling and nested keys under the remembered directory short-circuit.
	ok, err = c.Exists("/gone/deeper/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, fsys, "/here/c.txt", []byte("c"), time.Now())
	ok, err = c.Exists("/here/c.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}
