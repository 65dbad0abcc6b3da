package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openendpoint/replicator/internal/object"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStorePutReturnsChecksum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obj := &object.Object{PartitionID: 1, Key: []byte("k1"), Data: []byte("hello")}
	checksum, err := store.Put(ctx, obj, "tok-1")
	require.NoError(t, err)
	require.NotEmpty(t, checksum)

	// Same content on a different key still hashes the same.
	obj2 := &object.Object{PartitionID: 1, Key: []byte("k2"), Data: []byte("hello")}
	checksum2, err := store.Put(ctx, obj2, "tok-2")
	require.NoError(t, err)
	require.Equal(t, checksum, checksum2)
}

func TestBoltStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obj := &object.Object{PartitionID: 1, Key: []byte("k1"), Data: []byte("hello")}

	// Deleting a key that was never written succeeds with no checksum.
	checksum, err := store.Delete(ctx, obj, "tok-1")
	require.NoError(t, err)
	require.Nil(t, checksum)

	_, err = store.Put(ctx, obj, "tok-2")
	require.NoError(t, err)

	checksum, err = store.Delete(ctx, obj, "tok-3")
	require.NoError(t, err)
	require.NotEmpty(t, checksum)

	// Deleting again is still fine.
	checksum, err = store.Delete(ctx, obj, "tok-4")
	require.NoError(t, err)
	require.Nil(t, checksum)
}

func TestPooledStoreReleasesSlotAfterPut(t *testing.T) {
	store := newTestStore(t)
	pooled := NewPooledStore(store, PoolConfig{MaxConcurrent: 2})

	ctx := context.Background()
	obj := &object.Object{PartitionID: 1, Key: []byte("k1"), Data: []byte("x")}

	checksum, err := pooled.Put(ctx, obj, "tok")
	require.NoError(t, err)
	require.NotEmpty(t, checksum)
	require.Equal(t, 0, pooled.Stats().InUse)
}
