package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sublink-app/sublink/domain"
)

type flowKey struct {
	provider domain.Provider
	purpose  FlowPurpose
}

// MemoryFlowStore implements FlowStore on ttlcache. Entries carry a TTL so
// secrets from an abandoned flow do not outlive it.
type MemoryFlowStore struct {
	cache *ttlcache.Cache[flowKey, string]
}

// NewMemoryFlowStore creates a flow store whose entries expire after ttl.
//
//nolint:ireturn
func NewMemoryFlowStore(ttl time.Duration) *MemoryFlowStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[flowKey, string](ttl),
		ttlcache.WithDisableTouchOnHit[flowKey, string](),
	)

	go cache.Start()

	return &MemoryFlowStore{cache: cache}
}

// Set implements FlowStore.Set.
func (s *MemoryFlowStore) Set(_ context.Context, p domain.Provider, purpose FlowPurpose, value string) error {
	s.cache.Set(flowKey{provider: p, purpose: purpose}, value, ttlcache.DefaultTTL)
	return nil
}

// Get implements FlowStore.Get.
func (s *MemoryFlowStore) Get(_ context.Context, p domain.Provider, purpose FlowPurpose) (string, bool) {
	item := s.cache.Get(flowKey{provider: p, purpose: purpose})
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Delete implements FlowStore.Delete.
func (s *MemoryFlowStore) Delete(_ context.Context, p domain.Provider, purpose FlowPurpose) error {
	s.cache.Delete(flowKey{provider: p, purpose: purpose})
	return nil
}

// DeleteFlow implements FlowStore.DeleteFlow.
func (s *MemoryFlowStore) DeleteFlow(_ context.Context, p domain.Provider) error {
	s.cache.Delete(flowKey{provider: p, purpose: PurposeVerifier})
	s.cache.Delete(flowKey{provider: p, purpose: PurposeState})
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryFlowStore) Close() error {
	s.cache.Stop()
	return nil
}
