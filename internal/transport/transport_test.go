package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/storage"
)

func TestCastDeliversOutcomeThroughCallback(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	registry := NewRegistry()
	handler := NewHandler(store, registry, "remote-1", zap.NewNop())

	r := chi.NewRouter()
	handler.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	inbox := make(chan object.Outcome, 1)
	const reqID = int64(42)
	registry.Register(reqID, inbox)
	defer registry.Unregister(reqID)

	transport := NewHTTPTransport(2 * time.Second)
	req := CastRequest{
		ReqID:       reqID,
		PartitionID: 7,
		Key:         []byte("k1"),
		Data:        []byte("payload"),
		Method:      object.Put.String(),
		CallbackURL: srv.URL + "/internal/replicate/callback/42",
	}

	err = transport.Cast(context.Background(), srv.Listener.Addr().String(), req)
	require.NoError(t, err)

	select {
	case outcome := <-inbox:
		require.True(t, outcome.Ok)
		require.NotEmpty(t, outcome.Checksum)
		require.Equal(t, "remote-1", outcome.Node)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome delivery")
	}
}

func TestDeliverToUnregisteredReqIDReturnsFalse(t *testing.T) {
	registry := NewRegistry()
	delivered := registry.Deliver(999, object.Ack("n1", []byte("c")))
	require.False(t, delivered)
}
