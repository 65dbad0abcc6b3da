// Package storage implements the local object store contract the
// replication coordinator's local endpoint writes through: put or
// delete an object and hand back a content checksum.
package storage

import (
	"context"

	"github.com/openendpoint/replicator/internal/object"
)

// ObjectStore is the local object store contract from spec.md §6. The
// correlation token lets a caller match a reply to a call when the
// store handles concurrent writes; it is opaque to the store itself.
type ObjectStore interface {
	Put(ctx context.Context, obj *object.Object, token string) (checksum []byte, err error)
	Delete(ctx context.Context, obj *object.Object, token string) (checksum []byte, err error)
	Close() error
}
