package checksum

import "errors"

var (
	// ErrStoreUnavailable is returned when the store cannot be reached at startup.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrListKeys is returned when the store's keys cannot be enumerated.
	// Pruning cannot proceed without them.
	ErrListKeys = errors.New("list store keys")

	// ErrSourceModified is returned by Digest when the file changed while
	// it was being hashed.
	ErrSourceModified = errors.New("source modified during hashing")

	// ErrRootNotDir is returned when the reconciliation root is not a directory.
	ErrRootNotDir = errors.New("root is not a directory")
)
