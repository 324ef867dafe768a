package cache

import (
	"context"
	"sync"
	"time"
)

// LockStore is a distributed mutual-exclusion primitive backed by a shared
// key-value store with TTL. At most one acquirer holds a key within the TTL
// window; the key self-expires so a crashed holder cannot block others
// forever.
type LockStore interface {
	// Acquire attempts to take the lock for key. It returns a nil lease
	// when the lock is already held by someone else, and an error only
	// for store failures.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is proof of lock ownership. Only the holder of a lease can release
// the underlying key, which makes "release a lock you never held" a
// compile-time impossibility rather than a runtime bug.
type Lease struct {
	key     string
	release func(ctx context.Context) error
	once    sync.Once
}

// NewLease wraps a backend release function. Intended for LockStore
// implementations.
func NewLease(key string, release func(ctx context.Context) error) *Lease {
	return &Lease{key: key, release: release}
}

// Key returns the locked key.
func (l *Lease) Key() string { return l.key }

// Release frees the lock. It is safe to call more than once; only the first
// call reaches the backend.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.release(ctx)
	})
	return err
}
