package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sublink-app/sublink/cache"
)

// StateStore implements cache.StateStore on redis. Keys expire with the
// flow TTL; consumption uses GETDEL so a state is single-use even under
// concurrent callbacks.
type StateStore struct {
	client *redis.Client
	prefix string
}

// NewStateStore creates a new [StateStore] instance.
func NewStateStore(client *redis.Client, prefix string) *StateStore {
	return &StateStore{
		client: client,
		prefix: prefix,
	}
}

func (s *StateStore) redisKey(state string) string {
	return fmt.Sprintf("%s:oauth:state:%s", s.prefix, state)
}

// SaveState implements cache.StateStore.SaveState.
func (s *StateStore) SaveState(ctx context.Context, state, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.redisKey(state), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// ConsumeState implements cache.StateStore.ConsumeState.
func (s *StateStore) ConsumeState(ctx context.Context, state string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.redisKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return userID, nil
}
