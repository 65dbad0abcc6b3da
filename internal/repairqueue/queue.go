// Package repairqueue implements the durable, append-only queue the
// replication coordinator publishes to on every replica failure. It is
// a best-effort sink from the coordinator's point of view: a publish
// failure is logged here and never propagated back to the coordinator.
package repairqueue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/audit"
	"github.com/openendpoint/replicator/internal/metrics"
	"github.com/openendpoint/replicator/internal/object"
)

// Entry is a single pending repair record.
type Entry struct {
	Kind        object.ErrorKind `json:"kind"`
	PartitionID int64            `json:"partition_id"`
	Key         []byte           `json:"key"`
}

// Queue is a bbolt-backed durable queue, one bucket per error kind, so
// a stuck repair of one kind never blocks publishes of the other. It
// is safe for concurrent use by multiple coordinators.
type Queue struct {
	db     *bolt.DB
	logger *zap.Logger
	trail  *audit.Trail // optional; nil disables the audit trail

	mu  sync.Mutex
	seq uint64
}

// New opens (creating if needed) a repair queue rooted at
// dataDir/repair.db.
func New(dataDir string, logger *zap.Logger) (*Queue, error) {
	path := filepath.Join(dataDir, "repair.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open repair queue: %w", err)
	}

	var seq uint64
	err = db.Update(func(tx *bolt.Tx) error {
		for _, kind := range []object.ErrorKind{object.ErrReplicate, object.ErrDelete} {
			b, err := tx.CreateBucketIfNotExists(bucketFor(kind))
			if err != nil {
				return err
			}
			// Resume after the highest key already on disk so a reopened
			// queue never overwrites an entry that is still pending.
			if k, _ := b.Cursor().Last(); k != nil && binary.BigEndian.Uint64(k) > seq {
				seq = binary.BigEndian.Uint64(k)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init repair queue: %w", err)
	}

	return &Queue{db: db, logger: logger, seq: seq}, nil
}

// WithAuditTrail attaches a human-readable repair trail every
// subsequent Publish also appends to, alongside the durable bbolt
// write. Returns q for chaining at construction time.
func (q *Queue) WithAuditTrail(trail *audit.Trail) *Queue {
	q.trail = trail
	return q
}

func bucketFor(kind object.ErrorKind) []byte {
	return []byte("repair_" + string(kind))
}

// Publish enqueues a repair record for the given error kind. Any kind
// other than ErrReplicate/ErrDelete is a silent no-op, per the repair
// enqueuer contract. Publish failures are logged and swallowed: the
// coordinator's reply to its caller must never depend on repair queue
// availability.
func (q *Queue) Publish(kind object.ErrorKind, partitionID int64, key []byte) {
	bucket := bucketFor(kind)
	if kind != object.ErrReplicate && kind != object.ErrDelete {
		return
	}

	entry := Entry{Kind: kind, PartitionID: partitionID, Key: append([]byte(nil), key...)}
	payload, err := json.Marshal(entry)
	if err != nil {
		q.logger.Warn("repair enqueue marshal failed", zap.Error(err))
		return
	}

	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	err = q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(seqKey(seq), payload)
	})
	if err != nil {
		q.logger.Warn("repair enqueue failed",
			zap.String("kind", string(kind)),
			zap.Int64("partition_id", partitionID),
			zap.Error(err))
		return
	}
	metrics.RepairEnqueues.WithLabelValues(string(kind)).Inc()

	if q.trail != nil {
		if err := q.trail.RecordRepairEnqueue(kind, partitionID, key); err != nil {
			q.logger.Warn("audit trail write failed", zap.Error(err))
		}
	}
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Drain pops up to batchSize entries of the given kind in FIFO order,
// for a background reconciliation consumer. The batch size is a
// load-aware throttle input supplied by the caller (see ThrottlePolicy
// in drain.go, built from internal/config.ThrottleConfig) — this queue
// has no opinion on pacing.
func (q *Queue) Drain(kind object.ErrorKind, batchSize int) ([]Entry, error) {
	bucket := bucketFor(kind)
	var entries []Entry
	var keys [][]byte

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(entries) < batchSize; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				q.logger.Warn("repair entry unmarshal failed", zap.Error(err))
				keys = append(keys, append([]byte(nil), k...))
				continue
			}
			entries = append(entries, e)
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain repair queue: %w", err)
	}
	return entries, nil
}

// Depth reports how many entries are pending for a given kind.
func (q *Queue) Depth(kind object.ErrorKind) (int, error) {
	bucket := bucketFor(kind)
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the underlying bbolt database.
func (q *Queue) Close() error {
	return q.db.Close()
}
