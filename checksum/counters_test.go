package checksum

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary_Print(t *testing.T) {
	s := Summary{Added: 3, Updated: 1, Deleted: 2, Skipped: 9}

	var buf bytes.Buffer
	s.Print(&buf, false)
	assert.Equal(t, "Summary:\nKeys Added:   3\nKeys Updated: 1\nKeys Deleted: 2\n", buf.String())

	buf.Reset()
	s.Print(&buf, true)
	assert.Equal(t, "Summary (DRY RUN):\nKeys Added:   3\nKeys Updated: 1\nKeys Deleted: 2\n", buf.String())
}

func TestCounters_Snapshot(t *testing.T) {
	c := &Counters{}
	c.added.Add(2)
	c.updated.Add(1)
	c.deleted.Add(4)
	c.skipped.Add(1)
	c.bytesHashed.Add(1024)

	assert.Equal(t, Summary{Added: 2, Updated: 1, Deleted: 4, Skipped: 1, BytesHashed: 1024}, c.Snapshot())
}
