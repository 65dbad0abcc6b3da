package cluster

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/audit"
	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/storage"
	"github.com/openendpoint/replicator/internal/transport"
)

// fakeTransport simulates a remote node accepting a cast and, after a
// short delay, delivering its outcome through the same registry the
// real HTTP callback would use — without any network round trip.
type fakeTransport struct {
	registry *transport.Registry
	fail     bool
}

func (f *fakeTransport) Cast(ctx context.Context, addr string, req transport.CastRequest) error {
	go func() {
		time.Sleep(5 * time.Millisecond)
		if f.fail {
			f.registry.Deliver(req.ReqID, object.Fail(addr, "connection refused"))
			return
		}
		f.registry.Deliver(req.ReqID, object.Ack(addr, []byte("remote-sum")))
	}()
	return nil
}

func newTestReplicator(t *testing.T, transport_ *fakeTransport) (*Replicator, *fakeRepair) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := transport.NewRegistry()
	repair := &fakeRepair{}
	r := NewReplicator(store, transport_, registry, repair, "self", "http://self", time.Second, zap.NewNop())
	return r, repair
}

func TestReplicateLocalAndRemoteReachQuorum(t *testing.T) {
	registry := transport.NewRegistry()
	ft := &fakeTransport{registry: registry}
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	repair := &fakeRepair{}
	r := NewReplicator(store, ft, registry, repair, "self", "http://self", time.Second, zap.NewNop())

	obj := &object.Object{PartitionID: 1, Key: []byte("k1"), ReqID: 100, Data: []byte("payload")}
	targets := []object.Target{
		{Node: "self", Reachable: true},
		{Node: "remote-1", Reachable: true},
		{Node: "remote-2", Reachable: true},
	}

	done := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Put, 2, targets, obj, func(reply Reply) {
		done <- reply
	})

	select {
	case reply := <-done:
		require.True(t, reply.OK)
		require.NotEmpty(t, reply.Checksum)
	case <-time.After(2 * time.Second):
		t.Fatal("Replicate never completed")
	}
	require.Equal(t, 0, repair.count())
}

func TestReplicateUnreachableTargetFailsWithoutRPC(t *testing.T) {
	r, repair := newTestReplicator(t, &fakeTransport{})

	obj := &object.Object{PartitionID: 1, Key: []byte("k2"), ReqID: 200, Data: []byte("payload")}
	targets := []object.Target{
		{Node: "self", Reachable: true},
		{Node: "remote-1", Reachable: false},
	}

	done := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Put, 2, targets, obj, func(reply Reply) {
		done <- reply
	})

	select {
	case reply := <-done:
		require.False(t, reply.OK)
		require.Len(t, reply.Errors, 1)
		require.Equal(t, "remote-1", reply.Errors[0].Node)
		require.Equal(t, object.NodeDown, reply.Errors[0].Cause)
	case <-time.After(2 * time.Second):
		t.Fatal("Replicate never completed")
	}
	require.Equal(t, 1, repair.count())
}

func TestReplicateEmptyTargetListFailsImmediately(t *testing.T) {
	r, _ := newTestReplicator(t, &fakeTransport{})

	obj := &object.Object{PartitionID: 1, Key: []byte("k3"), ReqID: 300, Data: []byte("payload")}

	done := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Put, 1, nil, obj, func(reply Reply) {
		done <- reply
	})

	select {
	case reply := <-done:
		require.False(t, reply.OK)
		require.Nil(t, reply.Errors)
	case <-time.After(time.Second):
		t.Fatal("Replicate never completed")
	}
}

func TestReplicateQuorumFailureRecordsAuditTrail(t *testing.T) {
	registry := transport.NewRegistry()
	ft := &fakeTransport{registry: registry, fail: true}
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	buf := &bytes.Buffer{}
	trail := audit.NewWriter(buf)
	r := NewReplicator(store, ft, registry, &fakeRepair{}, "self", "http://self", time.Second, zap.NewNop()).
		WithAuditTrail(trail)

	obj := &object.Object{PartitionID: 9, Key: []byte("k9"), ReqID: 900, Data: []byte("payload")}
	targets := []object.Target{
		{Node: "remote-1", Reachable: true},
		{Node: "remote-2", Reachable: true},
	}

	done := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Put, 2, targets, obj, func(reply Reply) {
		done <- reply
	})

	select {
	case reply := <-done:
		require.False(t, reply.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("Replicate never completed")
	}

	out := buf.String()
	require.Contains(t, out, "quorum_failure")
	require.Contains(t, out, "partition=9")
}

func TestReplicateDeleteMethodPropagatesToLocalStore(t *testing.T) {
	r, _ := newTestReplicator(t, &fakeTransport{})

	obj := &object.Object{PartitionID: 1, Key: []byte("k4"), ReqID: 400, Data: []byte("payload")}
	targets := []object.Target{{Node: "self", Reachable: true}}

	done := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Put, 1, targets, obj, func(reply Reply) { done <- reply })
	<-done

	done2 := make(chan Reply, 1)
	r.Replicate(context.Background(), object.Delete, 1, targets, obj, func(reply Reply) { done2 <- reply })
	select {
	case reply := <-done2:
		require.True(t, reply.OK)
		require.Equal(t, object.Delete, reply.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("Replicate never completed")
	}
}
