package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
)

// DefaultChunkSize is the read buffer used while hashing.
const DefaultChunkSize = 64 * 1024

// HashFunc constructs the digest algorithm. The store field is named md5sum,
// so anything other than MD5 needs a schema change.
type HashFunc func() hash.Hash

// Hasher streams files through a digest in fixed-size chunks so memory use
// does not depend on file size.
type Hasher struct {
	fs        afero.Fs
	newHash   HashFunc
	chunkSize int
}

// NewHasher creates an MD5 hasher reading from fs.
func NewHasher(fs afero.Fs, chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Hasher{fs: fs, newHash: md5.New, chunkSize: chunkSize}
}

// Digest returns the hex digest of path and the number of bytes read.
// ctx is checked between chunks. If the file's mtime or size changed while it
// was being read, ErrSourceModified is returned and the digest is discarded.
func (h *Hasher) Digest(ctx context.Context, path string) (string, int64, error) {
	return h.digest(ctx, path, nil)
}

// DigestEntry is Digest for a file observed by Walk. The file must still
// carry the entry's size and mtime when it is opened, so the digest always
// belongs to the metadata recorded alongside it.
func (h *Hasher) DigestEntry(ctx context.Context, e TraversalEntry) (string, int64, error) {
	return h.digest(ctx, e.Path, &e)
}

func (h *Hasher) digest(ctx context.Context, path string, want *TraversalEntry) (string, int64, error) {
	before, err := h.fs.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat: %w", err)
	}
	// Some filesystems return live FileInfo values; copy what we compare.
	mtime, size := before.ModTime(), before.Size()
	if want != nil && (size != want.Size || mtime.Unix() != want.Mtime) {
		return "", 0, ErrSourceModified
	}

	f, err := h.fs.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	sum := h.newHash()
	buf := make([]byte, h.chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			sum.Write(buf[:n]) //nolint:errcheck // hash.Hash never returns an error
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", total, fmt.Errorf("read: %w", readErr)
		}
	}

	after, err := h.fs.Stat(path)
	if err != nil {
		return "", total, fmt.Errorf("re-stat: %w", err)
	}
	if !after.ModTime().Equal(mtime) || after.Size() != size {
		return "", total, ErrSourceModified
	}

	return hex.EncodeToString(sum.Sum(nil)), total, nil
}
