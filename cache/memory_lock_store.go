package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryLockStore implements LockStore with an in-process map. It honors the
// same TTL semantics as the redis implementation and exists for tests and
// single-node runs.
type MemoryLockStore struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// NewMemoryLockStoreWithClock injects the clock, for deterministic tests.
func NewMemoryLockStoreWithClock(now func() time.Time) *MemoryLockStore {
	return &MemoryLockStore{
		locks: make(map[string]time.Time),
		now:   now,
	}
}

// Acquire implements LockStore.Acquire.
func (s *MemoryLockStore) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, held := s.locks[key]; held && s.now().Before(deadline) {
		return nil, nil
	}
	s.locks[key] = s.now().Add(ttl)

	return NewLease(key, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locks, key)
		return nil
	}), nil
}

// Held reports whether key is currently locked. Test helper.
func (s *MemoryLockStore) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, held := s.locks[key]
	return held && s.now().Before(deadline)
}
