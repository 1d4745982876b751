package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	s := NewRedisStore(RedisConfig{Addr: m.Addr(), DialTimeout: time.Second})
	t.Cleanup(func() { s.Close() })
	return s, m
}

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// writeFile writes data to path on fsys and sets its mtime.
func writeFile(t *testing.T, fsys afero.Fs, path string, data []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fsys, path, data, 0644))
	require.NoError(t, fsys.Chtimes(path, mtime, mtime))
}

// recordingStore wraps a Store, records mutating calls and injects failures.
type recordingStore struct {
	Store

	mu      sync.Mutex
	puts    []string
	deletes []string

	listErr    error
	failGet    map[string]bool
	failPut    map[string]bool
	failDelete map[string]bool
}

func newRecordingStore(inner Store) *recordingStore {
	return &recordingStore{
		Store:      inner,
		failGet:    map[string]bool{},
		failPut:    map[string]bool{},
		failDelete: map[string]bool{},
	}
}

var errInjected = errors.New("injected failure")

func (s *recordingStore) ListKeys(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListKeys(ctx)
}

func (s *recordingStore) GetMtime(ctx context.Context, path string) (int64, bool, error) {
	if s.failGet[path] {
		return 0, false, errInjected
	}
	return s.Store.GetMtime(ctx, path)
}

func (s *recordingStore) PutRecord(ctx context.Context, rec FileRecord) error {
	s.mu.Lock()
	s.puts = append(s.puts, rec.Path)
	fail := s.failPut[rec.Path]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.PutRecord(ctx, rec)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, path)
	fail := s.failDelete[path]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.Delete(ctx, path)
}

func (s *recordingStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts) + len(s.deletes)
}

// failOpenFs fails Open for a single path.
type failOpenFs struct {
	afero.Fs
	path string
}

func (f failOpenFs) Open(name string) (afero.File, error) {
	if name == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}
