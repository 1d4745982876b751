package checksum

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Store field names. The digest field keeps its historical name even though
// it only ever held MD5; renaming any of these is a breaking migration.
const (
	FieldSize   = "size"
	FieldMtime  = "mtime"
	FieldDigest = "md5sum"
)

// FileRecord is the persisted metadata for one tracked file, keyed by its
// absolute path.
type FileRecord struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"` // seconds since epoch
	Digest string `json:"md5sum"`
}

// TraversalEntry is one entry produced by Walk. It is never persisted.
type TraversalEntry struct {
	Path      string
	Size      int64
	Mtime     int64 // seconds since epoch
	IsRegular bool
	IsDir     bool
}

// trackable reports whether the entry is a candidate for a store record.
// Empty files carry no content signal and are never tracked.
func (e TraversalEntry) trackable() bool {
	return e.IsRegular && e.Size > 0
}
