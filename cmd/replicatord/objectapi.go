package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/cluster"
	"github.com/openendpoint/replicator/internal/config"
	"github.com/openendpoint/replicator/internal/object"
)

// reqIDSeq hands out monotonically increasing, process-unique request
// ids for client-submitted writes; remote nodes never originate one of
// their own, they only echo the one they received.
var reqIDSeq int64

func nextReqID() int64 {
	return atomic.AddInt64(&reqIDSeq, 1) + time.Now().Unix()<<20
}

// newObjectAPI is the small client-facing surface that actually drives
// a replication request: resolve the partition's replica set from the
// redundancy map (or a single local target in --standalone mode), then
// hand off to the facade. This is scaffolding to exercise the
// coordinator over a real network boundary, not a general object API.
func newObjectAPI(replicator *cluster.Replicator, redundancy *cluster.RedundancyMap, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	a := &objectAPI{replicator: replicator, redundancy: redundancy, cfg: cfg, logger: logger}
	r.Put("/{partition}/{key}", a.put)
	r.Delete("/{partition}/{key}", a.delete)
	return r
}

type objectAPI struct {
	replicator *cluster.Replicator
	redundancy *cluster.RedundancyMap
	cfg        *config.Config
	logger     *zap.Logger
}

func (a *objectAPI) targets(partitionID int64) []object.Target {
	if a.redundancy == nil {
		return []object.Target{{Node: a.cfg.Cluster.NodeID, Reachable: true}}
	}
	return a.redundancy.Targets(partitionID, a.cfg.Cluster.ReplicationFactor)
}

func (a *objectAPI) handle(w http.ResponseWriter, r *http.Request, method object.Method) {
	partitionID, err := strconv.ParseInt(chi.URLParam(r, "partition"), 10, 64)
	if err != nil {
		http.Error(w, "invalid partition id", http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "key")

	var data []byte
	if method == object.Put {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
	}

	obj := &object.Object{
		PartitionID: partitionID,
		Key:         []byte(key),
		ReqID:       nextReqID(),
		Data:        data,
	}
	targets := a.targets(partitionID)
	quorum := a.cfg.Cluster.WriteQuorum()

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(a.cfg.Cluster.RequestTimeoutMS+1000)*time.Millisecond)
	defer cancel()

	done := make(chan cluster.Reply, 1)
	a.replicator.Replicate(ctx, method, quorum, targets, obj, func(reply cluster.Reply) { done <- reply })
	reply := <-done

	switch {
	case reply.Timeout:
		http.Error(w, "replication timed out", http.StatusGatewayTimeout)
	case !reply.OK:
		http.Error(w, "write quorum not reached", http.StatusServiceUnavailable)
	default:
		w.Header().Set("X-Checksum", string(reply.Checksum))
		w.WriteHeader(http.StatusOK)
	}
}

func (a *objectAPI) put(w http.ResponseWriter, r *http.Request)    { a.handle(w, r, object.Put) }
func (a *objectAPI) delete(w http.ResponseWriter, r *http.Request) { a.handle(w, r, object.Delete) }
