package domain

import "time"

// ConnectionStatus is the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	// ConnectionActive means the stored credentials are usable (possibly
	// after a refresh).
	ConnectionActive ConnectionStatus = "ACTIVE"
	// ConnectionExpired means a refresh failed permanently; the stored
	// refresh token is dead and the user must re-authorize. The status
	// never reverts: recovery writes a fresh row.
	ConnectionExpired ConnectionStatus = "EXPIRED"
	// ConnectionRevoked means the user disconnected the provider.
	ConnectionRevoked ConnectionStatus = "REVOKED"
)

// ProviderConnection is one user's authorization against one provider.
// Token fields hold ciphertext only; plaintext tokens exist transiently in
// memory and are never persisted or logged.
type ProviderConnection struct {
	ID             string   `bson:"_id" json:"id"`
	UserID         string   `bson:"user_id" json:"userId"`
	Provider       Provider `bson:"provider" json:"provider"`
	ProviderUserID string   `bson:"provider_user_id,omitempty" json:"providerUserId,omitempty"`

	AccessTokenEnc  string `bson:"access_token_enc" json:"-"`
	RefreshTokenEnc string `bson:"refresh_token_enc" json:"-"`

	// TokenExpiresAt is the absolute access-token expiry in epoch
	// milliseconds. It only moves forward, and only after a successful
	// refresh.
	TokenExpiresAt int64 `bson:"token_expires_at" json:"tokenExpiresAt"`

	Scopes          []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	ConnectedAt     time.Time  `bson:"connected_at" json:"connectedAt"`
	LastRefreshedAt *time.Time `bson:"last_refreshed_at,omitempty" json:"lastRefreshedAt,omitempty"`

	Status ConnectionStatus `bson:"status" json:"status"`
}

// TokenUpdate carries the outcome of a successful refresh. An empty
// RefreshTokenEnc means the provider did not rotate the refresh token and
// the stored one must be kept.
type TokenUpdate struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	TokenExpiresAt  int64
	LastRefreshedAt time.Time
}
