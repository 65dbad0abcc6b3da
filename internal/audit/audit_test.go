package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openendpoint/replicator/internal/object"
)

func TestRecordRepairEnqueueWritesLine(t *testing.T) {
	buf := &bytes.Buffer{}
	trail := NewWriter(buf)

	require.NoError(t, trail.RecordRepairEnqueue(object.ErrReplicate, 7, []byte("k1")))

	out := buf.String()
	require.Contains(t, out, "repair_enqueue")
	require.Contains(t, out, "kind=ERR_REPLICATE")
	require.Contains(t, out, "partition=7")
}

func TestRecordQuorumFailureWritesLine(t *testing.T) {
	buf := &bytes.Buffer{}
	trail := NewWriter(buf)

	require.NoError(t, trail.RecordQuorumFailure(object.Put, 3, []byte("k2"), false, []string{"b: disk full"}))

	out := buf.String()
	require.Contains(t, out, "quorum_failure")
	require.Contains(t, out, "method=put")
	require.Contains(t, out, "timeout=false")
}

func TestFileTrailRotatesPastMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	trail, err := New(path, 64)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	for i := 0; i < 10; i++ {
		require.NoError(t, trail.RecordRepairEnqueue(object.ErrDelete, int64(i), []byte("key")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	rotated := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audit-") {
			rotated++
		}
	}
	require.Greater(t, rotated, 0, "expected at least one rotated file")
}
