package storage

import (
	"context"
	"sync"

	"github.com/openendpoint/replicator/internal/object"
)

// PoolConfig bounds concurrent access to a store handle.
type PoolConfig struct {
	MaxConcurrent int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxConcurrent: 25}
}

// PooledStore wraps an ObjectStore with a bounded number of concurrent
// callers, the same channel-as-semaphore technique the teacher's
// PooledBackend uses for its connection pool, trimmed to the Put/Delete
// surface a replication coordinator actually calls — there is no read
// path in this spec, so Get/Head/List pooling is not carried over.
type PooledStore struct {
	store ObjectStore
	slots chan struct{}

	mu    sync.Mutex
	stats PoolStats
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	InUse     int
	WaitCount int64
}

// NewPooledStore wraps store with the given concurrency bound.
func NewPooledStore(store ObjectStore, config PoolConfig) *PooledStore {
	if config.MaxConcurrent <= 0 {
		config = DefaultPoolConfig()
	}
	return &PooledStore{
		store: store,
		slots: make(chan struct{}, config.MaxConcurrent),
	}
}

func (p *PooledStore) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		p.mu.Lock()
		p.stats.InUse++
		p.mu.Unlock()
		return nil
	default:
	}

	p.mu.Lock()
	p.stats.WaitCount++
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
		p.mu.Lock()
		p.stats.InUse++
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PooledStore) release() {
	<-p.slots
	p.mu.Lock()
	p.stats.InUse--
	p.mu.Unlock()
}

// Put acquires a slot, delegates to the wrapped store, and releases it.
func (p *PooledStore) Put(ctx context.Context, obj *object.Object, token string) ([]byte, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	return p.store.Put(ctx, obj, token)
}

// Delete acquires a slot, delegates to the wrapped store, and releases it.
func (p *PooledStore) Delete(ctx context.Context, obj *object.Object, token string) ([]byte, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	return p.store.Delete(ctx, obj, token)
}

// Close closes the wrapped store.
func (p *PooledStore) Close() error {
	return p.store.Close()
}

// Stats returns current pool occupancy.
func (p *PooledStore) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
