package cluster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/audit"
	"github.com/openendpoint/replicator/internal/metrics"
	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/storage"
	"github.com/openendpoint/replicator/internal/transport"
	"github.com/openendpoint/replicator/pkg/util"
)

// Replicator is the facade from spec.md §4.1: the synchronous entry
// point a storage node calls to replicate one object write or delete
// across its replica set.
type Replicator struct {
	store      storage.ObjectStore
	transport  transport.Transport
	registry   *transport.Registry
	repair     RepairEnqueuer
	selfNode   string
	callback   string // base URL remote nodes post outcomes back to
	reqTimeout time.Duration
	logger     *zap.Logger
	trail      *audit.Trail // optional; nil disables the quorum-failure trail
}

// WithAuditTrail attaches a human-readable trail every terminal
// non-success reply (quorum-failure or timeout) also appends to,
// alongside the structured zap log line Replicate always emits.
// Returns r for chaining at construction time.
func (r *Replicator) WithAuditTrail(trail *audit.Trail) *Replicator {
	r.trail = trail
	return r
}

// NewReplicator builds a facade bound to this node's local store,
// remote transport, reply registry, and repair queue.
func NewReplicator(store storage.ObjectStore, t transport.Transport, registry *transport.Registry, repair RepairEnqueuer, selfNode, callbackBase string, reqTimeout time.Duration, logger *zap.Logger) *Replicator {
	if reqTimeout <= 0 {
		reqTimeout = 5 * time.Second
	}
	return &Replicator{
		store:      store,
		transport:  t,
		registry:   registry,
		repair:     repair,
		selfNode:   selfNode,
		callback:   callbackBase,
		reqTimeout: reqTimeout,
		logger:     logger,
	}
}

// Replicate dispatches obj to every target in parallel, applies the
// write-quorum and deadline rules, and invokes onComplete exactly once
// with the final Reply. It blocks the caller for at most reqTimeout.
func (r *Replicator) Replicate(ctx context.Context, method object.Method, w int, targets []object.Target, obj *object.Object, onComplete func(Reply)) {
	n := len(targets)

	// spec.md §7: an empty target list cannot ever reach quorum (for any
	// W > 0) and must not block the facade waiting on an empty inbox.
	if n == 0 {
		metrics.Observe(method.String(), false, false)
		reply := Reply{OK: false, Method: method, Errors: nil}
		r.recordQuorumFailure(obj, reply)
		onComplete(reply)
		return
	}

	coord := newCoordinator(method, obj.PartitionID, obj.Key, n, w, r.repair, r.logger)
	r.registry.Register(obj.ReqID, coord.inbox)

	start := time.Now()
	go func() {
		coord.run(r.reqTimeout)
		// Unregister only once the coordinator has stopped draining, so
		// remote outcomes that land after the reply still reach it and
		// still enqueue repair.
		r.registry.Unregister(obj.ReqID)
	}()

	for _, target := range targets {
		go r.dispatch(ctx, obj, method, target, coord.inbox)
	}

	// The coordinator's own deadline timer (started by run, at the same
	// moment the facade begins waiting) is the sole source of the
	// REQ_TIMEOUT bound: it guarantees exactly one Reply is sent on
	// replyCh within reqTimeout of every outcome that actually arrives.
	// A second facade-level timer would race it for no benefit.
	reply := <-coord.replyCh
	elapsed := time.Since(start)
	metrics.RequestDuration.WithLabelValues(method.String()).Observe(elapsed.Seconds())
	metrics.Observe(method.String(), reply.OK, reply.Timeout)

	r.logger.Info("replication request completed",
		zap.Int64("req_id", obj.ReqID),
		zap.String("method", method.String()),
		zap.Bool("ok", reply.OK),
		zap.Bool("timeout", reply.Timeout),
		zap.String("duration", util.FormatDuration(elapsed)))

	if !reply.OK {
		r.recordQuorumFailure(obj, reply)
	}

	onComplete(reply)
}

// recordQuorumFailure appends a quorum-failure (or timeout) reply to the
// audit trail, if one is attached. Best-effort: a trail write failure is
// logged and never affects the reply already handed to onComplete.
func (r *Replicator) recordQuorumFailure(obj *object.Object, reply Reply) {
	if r.trail == nil {
		return
	}

	causes := make([]string, len(reply.Errors))
	for i, e := range reply.Errors {
		causes[i] = fmt.Sprintf("%s: %s", e.Node, e.Cause)
	}

	if err := r.trail.RecordQuorumFailure(reply.Method, obj.PartitionID, obj.Key, reply.Timeout, causes); err != nil {
		r.logger.Warn("audit trail write failed", zap.Error(err))
	}
}

func (r *Replicator) dispatch(ctx context.Context, obj *object.Object, method object.Method, target object.Target, inbox chan<- object.Outcome) {
	if !target.Reachable {
		unreachableWrite(target, inbox)
		return
	}

	if target.Node == r.selfNode {
		localWrite(ctx, obj, method, r.store, r.selfNode, inbox, r.logger)
		return
	}

	remoteWrite(ctx, obj, method, target, obj.ReqID, r.callback, r.transport, inbox, r.logger)
}
