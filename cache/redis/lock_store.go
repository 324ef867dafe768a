package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sublink-app/sublink/cache"
)

// LockStore implements cache.LockStore on redis SET NX PX. The TTL bounds
// the blast radius of a holder that crashes without releasing.
type LockStore struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewLockStore creates a new [LockStore] instance.
func NewLockStore(client *redis.Client, prefix string) *LockStore {
	return &LockStore{
		client: client,
		prefix: prefix,
	}
}

func (s *LockStore) redisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Acquire implements cache.LockStore.Acquire.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error) {
	redisKey := s.redisKey(key)

	ok, err := s.client.SetNX(ctx, redisKey, "1", ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, nil
	}

	return cache.NewLease(key, func(ctx context.Context) error {
		if _, err := s.client.Del(ctx, redisKey).Result(); err != nil {
			// The key self-expires, so a failed release degrades
			// concurrency for at most the TTL.
			log.Warn().Err(err).Str("key", redisKey).Msg("failed to release lock, waiting for TTL expiry")
			return fmt.Errorf("failed to release lock %s: %w", redisKey, err)
		}
		return nil
	}), nil
}
