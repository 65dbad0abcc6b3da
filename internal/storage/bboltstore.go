package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/openendpoint/replicator/internal/object"
)

var objectsBucket = []byte("objects")

// BoltStore is the concrete local object store, persisted in a bbolt
// database under a partition/key name and checksummed with SHA-256. It mirrors the
// bucket-per-purpose, transaction-per-operation shape the teacher's
// metadata store uses, applied to raw object bytes instead of an S3
// metadata catalog.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt-backed object store
// rooted at dataDir/objects.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	path := filepath.Join(dataDir, "objects.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func storeKey(obj *object.Object) []byte {
	return []byte(fmt.Sprintf("%d/%s", obj.PartitionID, obj.Key))
}

// Put writes the object's bytes and returns their SHA-256 checksum.
// The correlation token is not persisted; it exists purely so a
// concurrent caller can match this call to its reply.
func (s *BoltStore) Put(ctx context.Context, obj *object.Object, token string) ([]byte, error) {
	sum := sha256.Sum256(obj.Data)
	checksum := sum[:]

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put(storeKey(obj), obj.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	return checksum, nil
}

// Delete removes the object's bytes. The checksum returned is the
// checksum of the content that existed before deletion, or nil if the
// key was already absent (delete is idempotent).
func (s *BoltStore) Delete(ctx context.Context, obj *object.Object, token string) ([]byte, error) {
	var checksum []byte

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		key := storeKey(obj)
		if existing := b.Get(key); existing != nil {
			sum := sha256.Sum256(existing)
			checksum = sum[:]
		}
		return b.Delete(key)
	})
	if err != nil {
		return nil, fmt.Errorf("delete object: %w", err)
	}
	return checksum, nil
}

// Close releases the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
