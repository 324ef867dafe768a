package domain

import "context"

// ConnectionRepository persists provider connections. Implementations store
// token fields as ciphertext exactly as given; encryption happens above this
// layer.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *ProviderConnection) error

	GetByID(ctx context.Context, id string) (*ProviderConnection, error)
	GetByUserAndProvider(ctx context.Context, userID string, provider Provider) (*ProviderConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*ProviderConnection, error)

	// UpdateTokens applies a successful refresh: new access token, forward
	// expiry, refresh timestamp, status back to ACTIVE. The refresh token
	// is overwritten only when upd.RefreshTokenEnc is non-empty.
	UpdateTokens(ctx context.Context, id string, upd TokenUpdate) error

	// UpdateStatus changes the lifecycle status without touching tokens.
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus) error

	Delete(ctx context.Context, id string) error
}
