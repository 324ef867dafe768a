package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStateStore implements StateStore on ttlcache, for tests and
// single-node runs.
type MemoryStateStore struct {
	cache *ttlcache.Cache[string, string]
}

func NewMemoryStateStore() *MemoryStateStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	go cache.Start()

	return &MemoryStateStore{cache: cache}
}

// SaveState implements StateStore.SaveState.
func (s *MemoryStateStore) SaveState(_ context.Context, state, userID string, ttl time.Duration) error {
	s.cache.Set(state, userID, ttl)
	return nil
}

// ConsumeState implements StateStore.ConsumeState.
func (s *MemoryStateStore) ConsumeState(_ context.Context, state string) (string, error) {
	item := s.cache.Get(state)
	if item == nil {
		return "", ErrStateNotFound
	}
	s.cache.Delete(state)
	return item.Value(), nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStateStore) Close() error {
	s.cache.Stop()
	return nil
}
