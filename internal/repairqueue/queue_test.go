package repairqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestPublishAndDrain(t *testing.T) {
	q := newTestQueue(t)

	q.Publish(object.ErrReplicate, 7, []byte("key-a"))
	q.Publish(object.ErrReplicate, 7, []byte("key-b"))
	q.Publish(object.ErrDelete, 9, []byte("key-c"))

	depth, err := q.Depth(object.ErrReplicate)
	require.NoError(t, err)
	require.Equal(t, 2, depth)

	entries, err := q.Drain(object.ErrReplicate, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "key-a", string(entries[0].Key))
	require.Equal(t, "key-b", string(entries[1].Key))

	depth, err = q.Depth(object.ErrReplicate)
	require.NoError(t, err)
	require.Equal(t, 0, depth)

	depth, err = q.Depth(object.ErrDelete)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestPublishUnknownKindIsNoOp(t *testing.T) {
	q := newTestQueue(t)

	q.Publish(object.ErrorKind("bogus"), 1, []byte("k"))

	depth, err := q.Depth(object.ErrReplicate)
	require.NoError(t, err)
	require.Equal(t, 0, depth)
	depth, err = q.Depth(object.ErrDelete)
	require.NoError(t, err)
	require.Equal(t, 0, depth)
}

func TestDrainRespectsBatchSize(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 5; i++ {
		q.Publish(object.ErrReplicate, int64(i), []byte("k"))
	}

	entries, err := q.Drain(object.ErrReplicate, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	depth, err := q.Depth(object.ErrReplicate)
	require.NoError(t, err)
	require.Equal(t, 3, depth)
}
