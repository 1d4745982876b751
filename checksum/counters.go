package checksum

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Counters accumulates the outcome of one process run. Safe for concurrent use.
type Counters struct {
	added       atomic.Int64
	updated     atomic.Int64
	deleted     atomic.Int64
	skipped     atomic.Int64
	bytesHashed atomic.Int64
}

// Summary is a point-in-time copy of Counters.
type Summary struct {
	Added       int64
	Updated     int64
	Deleted     int64
	Skipped     int64
	BytesHashed int64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Summary {
	return Summary{
		Added:       c.added.Load(),
		Updated:     c.updated.Load(),
		Deleted:     c.deleted.Load(),
		Skipped:     c.skipped.Load(),
		BytesHashed: c.bytesHashed.Load(),
	}
}

// Print writes the three-line summary. Skipped items and hashed bytes are
// logged, not printed.
func (s Summary) Print(w io.Writer, dryRun bool) {
	marker := ""
	if dryRun {
		marker = " (DRY RUN)"
	}
	fmt.Fprintf(w, "Summary%s:\n", marker)
	fmt.Fprintf(w, "Keys Added:   %d\n", s.Added)
	fmt.Fprintf(w, "Keys Updated: %d\n", s.Updated)
	fmt.Fprintf(w, "Keys Deleted: %d\n", s.Deleted)
}
