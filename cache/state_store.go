package cache

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned by ConsumeState when the state was never
// registered, already consumed, or expired.
var ErrStateNotFound = errors.New("oauth state not found")

// StateStore is the server-side CSRF binding: registerState writes
// state -> userID with a TTL, and the exchange consumes it exactly once.
type StateStore interface {
	SaveState(ctx context.Context, state, userID string, ttl time.Duration) error
	// ConsumeState returns the bound user and deletes the entry in the
	// same operation, so a state cannot be replayed.
	ConsumeState(ctx context.Context, state string) (string, error)
}
