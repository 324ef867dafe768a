package sublink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublink-app/sublink/cache"
	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
	"github.com/sublink-app/sublink/internal/crypto"
)

const (
	// RefreshBuffer is subtracted from the token expiry when deciding
	// whether a refresh is needed. It absorbs clock skew between workers
	// and the latency of requests already in flight with the old token.
	RefreshBuffer = 5 * time.Minute

	// RefreshLockTTL bounds how long a crashed holder can block other
	// refreshers of the same connection.
	RefreshLockTTL = 60 * time.Second

	refreshLockKeyPrefix = "token:refresh:"

	// tokenEndpointTimeout caps the outbound token call strictly below
	// the lock TTL, so a hung provider cannot pin the lock for its whole
	// lifetime.
	tokenEndpointTimeout = 30 * time.Second

	defaultLockWait = 2 * time.Second

	maxTokenResponseBytes = 1 << 20
)

// TokenRefreshService returns valid access tokens for stored connections,
// refreshing them through the provider when they are stale. Workers are
// stateless; the only coordination is the distributed lock and the
// connection row itself.
type TokenRefreshService struct {
	conns     domain.ConnectionRepository
	locks     cache.LockStore
	cipher    *crypto.TokenCipher
	providers *ProviderRegistry
	logger    zerolog.Logger

	httpClient  *http.Client
	now         func() time.Time
	lockWait    time.Duration
	callTimeout time.Duration
}

func NewTokenRefreshService(
	conns domain.ConnectionRepository,
	locks cache.LockStore,
	cipher *crypto.TokenCipher,
	providers *ProviderRegistry,
	logger zerolog.Logger,
) *TokenRefreshService {
	return &TokenRefreshService{
		conns:       conns,
		locks:       locks,
		cipher:      cipher,
		providers:   providers,
		logger:      logger,
		httpClient:  &http.Client{Timeout: tokenEndpointTimeout},
		now:         time.Now,
		lockWait:    defaultLockWait,
		callTimeout: tokenEndpointTimeout,
	}
}

// RefreshLockKey is the lock-store key guarding refreshes of a connection.
func RefreshLockKey(connectionID string) string {
	return refreshLockKeyPrefix + connectionID
}

// ValidAccessTokenByID loads the connection and delegates to
// ValidAccessToken.
func (s *TokenRefreshService) ValidAccessTokenByID(ctx context.Context, connectionID string) (string, error) {
	conn, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		return "", err
	}
	return s.ValidAccessToken(ctx, conn)
}

// ValidAccessToken returns a decrypted access token that is good for at
// least RefreshBuffer. A token inside the buffer is refreshed under the
// distributed lock; exactly one concurrent caller performs the network
// refresh, the rest wait once and re-read.
func (s *TokenRefreshService) ValidAccessToken(ctx context.Context, conn *domain.ProviderConnection) (string, error) {
	cfg, ok := s.providers.Config(conn.Provider)
	if !conn.Provider.Valid() || !ok {
		return "", errors.NewInvalidProvider(string(conn.Provider))
	}

	// Fast path: no lock, no network.
	if s.tokenValid(conn) {
		return s.decryptAccessToken(conn)
	}

	lease, err := s.locks.Acquire(ctx, RefreshLockKey(conn.ID), RefreshLockTTL)
	if err != nil {
		return "", errors.NewRefreshFailed("lock store unavailable", err)
	}
	if lease == nil {
		return s.awaitOtherHolder(ctx, conn.ID)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("refresh lock release failed")
		}
	}()

	return s.refresh(ctx, conn, cfg)
}

// tokenValid reports whether the access token is still good for at least
// the buffer. Expiring in exactly RefreshBuffer counts as valid.
func (s *TokenRefreshService) tokenValid(conn *domain.ProviderConnection) bool {
	remaining := conn.TokenExpiresAt - s.now().UnixMilli()
	return remaining >= RefreshBuffer.Milliseconds()
}

func (s *TokenRefreshService) decryptAccessToken(conn *domain.ProviderConnection) (string, error) {
	token, err := s.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		return "", errors.NewDecryptionFailed(err)
	}
	return token, nil
}

// refresh performs the network refresh while holding the lock.
func (s *TokenRefreshService) refresh(ctx context.Context, conn *domain.ProviderConnection, cfg ProviderConfig) (string, error) {
	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		return "", errors.NewDecryptionFailed(err)
	}

	status, body, err := s.callTokenEndpoint(ctx, cfg, refreshToken)
	if err != nil {
		return "", errors.NewRefreshFailed("token endpoint unreachable", err)
	}

	if status < 200 || status >= 300 {
		return "", s.handleRefreshFailure(ctx, conn, status, body)
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewRefreshFailed("token endpoint returned malformed body", err)
	}
	if resp.AccessToken == "" {
		return "", errors.NewRefreshFailed("token endpoint returned no access token", nil)
	}

	accessEnc, err := s.cipher.Encrypt(resp.AccessToken)
	if err != nil {
		return "", errors.NewRefreshFailed("encrypt refreshed access token", err)
	}

	now := s.now()
	upd := domain.TokenUpdate{
		AccessTokenEnc:  accessEnc,
		TokenExpiresAt:  now.UnixMilli() + resp.ExpiresIn*1000,
		LastRefreshedAt: now,
	}
	// A missing refresh_token field means "not rotated": keep the stored
	// one.
	if resp.RefreshToken != "" {
		refreshEnc, err := s.cipher.Encrypt(resp.RefreshToken)
		if err != nil {
			return "", errors.NewRefreshFailed("encrypt rotated refresh token", err)
		}
		upd.RefreshTokenEnc = refreshEnc
	}

	if err := s.conns.UpdateTokens(ctx, conn.ID, upd); err != nil {
		return "", errors.NewRefreshFailed("persist refreshed tokens", err)
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("provider", conn.Provider.String()).
		Bool("rotated", resp.RefreshToken != "").
		Msg("access token refreshed")

	return resp.AccessToken, nil
}

func (s *TokenRefreshService) callTokenEndpoint(ctx context.Context, cfg ProviderConfig, refreshToken string) (int, []byte, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cfg.ClientID)
	// PKCE-only clients have no secret to send.
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read token response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// handleRefreshFailure classifies a non-success token response. Permanent
// failures mark the connection EXPIRED so later calls fail fast instead of
// re-hitting a dead refresh token; transient failures leave the row alone.
func (s *TokenRefreshService) handleRefreshFailure(ctx context.Context, conn *domain.ProviderConnection, status int, body []byte) error {
	verdict := ClassifyRefreshFailure(status, body)
	if !verdict.Permanent {
		return errors.NewRefreshFailed(fmt.Sprintf("token endpoint returned %d", status), nil)
	}

	if err := s.conns.UpdateStatus(ctx, conn.ID, domain.ConnectionExpired); err != nil {
		s.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to mark connection expired")
	}

	s.logger.Warn().
		Str("connection_id", conn.ID).
		Str("provider", conn.Provider.String()).
		Str("provider_error", verdict.Code).
		Int("status", status).
		Msg("refresh token rejected by provider, connection expired")

	return errors.NewRefreshFailedPermanent(fmt.Sprintf("provider rejected refresh token (%s)", verdict.Code))
}

// awaitOtherHolder is the losing side of the lock race: one bounded wait,
// one re-read, then either the other holder's fresh token or a typed
// backoff signal. No unbounded polling.
func (s *TokenRefreshService) awaitOtherHolder(ctx context.Context, connectionID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.lockWait):
	}

	fresh, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		// A vanished row is a terminal signal, not a retry hint.
		return "", err
	}

	if s.tokenValid(fresh) {
		return s.decryptAccessToken(fresh)
	}
	return "", errors.NewRefreshInProgress(connectionID)
}
