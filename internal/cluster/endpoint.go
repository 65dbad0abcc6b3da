package cluster

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/storage"
	"github.com/openendpoint/replicator/internal/transport"
)

// localWrite is the local endpoint from spec.md §4.2: invoked when the
// target is this node. It always posts exactly one outcome to inbox.
func localWrite(ctx context.Context, obj *object.Object, method object.Method, store storage.ObjectStore, selfNode string, inbox chan<- object.Outcome, logger *zap.Logger) {
	token := uuid.NewString()

	var (
		checksum []byte
		err      error
	)
	if method == object.Delete {
		checksum, err = store.Delete(ctx, obj, token)
	} else {
		checksum, err = store.Put(ctx, obj, token)
	}

	if err != nil {
		logger.Warn("local replica write failed",
			zap.ByteString("key", obj.Key),
			zap.String("node", selfNode),
			zap.Int64("req_id", obj.ReqID),
			zap.Error(err))
		inbox <- object.Fail(selfNode, err.Error())
		return
	}

	inbox <- object.Ack(selfNode, checksum)
}

// remoteWrite is the remote endpoint from spec.md §4.2. It casts the
// write to the target node and returns immediately; the remote node's
// outcome arrives later, out of band, through the reply registry. If
// the cast itself cannot be delivered, that failure is synthesized
// here instead — the target never saw the write, so no callback will
// ever arrive for it.
func remoteWrite(ctx context.Context, obj *object.Object, method object.Method, target object.Target, reqID int64, callbackBase string, t transport.Transport, inbox chan<- object.Outcome, logger *zap.Logger) {
	req := transport.CastRequest{
		ReqID:       reqID,
		PartitionID: obj.PartitionID,
		Key:         obj.Key,
		Data:        obj.Data,
		Metadata:    obj.Metadata,
		Method:      method.String(),
		CallbackURL: fmt.Sprintf("%s/internal/replicate/callback/%d", callbackBase, reqID),
	}

	if err := t.Cast(ctx, target.Node, req); err != nil {
		logger.Warn("remote cast failed",
			zap.ByteString("key", obj.Key),
			zap.String("node", target.Node),
			zap.Int64("req_id", reqID),
			zap.Error(err))
		inbox <- object.Fail(target.Node, err.Error())
	}
	// On success the remote node's own callback delivers the real
	// outcome through the registry; this endpoint's job is done.
}

// unreachableWrite synthesizes the failure for a target the redundancy
// map has already reported unreachable, without issuing any RPC — the
// "unreachable target" case from spec.md §4.2.
func unreachableWrite(target object.Target, inbox chan<- object.Outcome) {
	inbox <- object.Fail(target.Node, object.NodeDown)
}
