package sublink

import (
	"context"
	"encoding/json"
	stderrors "errors"
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

// stateTTL bounds how long a registered CSRF state stays consumable. A flow
// that has not come back through the browser within this window is dead.
const stateTTL = 10 * time.Minute

// ExchangeService is the server half of the RPC boundary: it binds CSRF
// states to authenticated users and turns authorization codes into
// persisted, encrypted provider connections.
type ExchangeService struct {
	conns     domain.ConnectionRepository
	states    cache.StateStore
	cipher    *crypto.TokenCipher
	providers *ProviderRegistry
	logger    zerolog.Logger

	httpClient  *http.Client
	now         func() time.Time
	callTimeout time.Duration
}

func NewExchangeService(
	conns domain.ConnectionRepository,
	states cache.StateStore,
	cipher *crypto.TokenCipher,
	providers *ProviderRegistry,
	logger zerolog.Logger,
) *ExchangeService {
	return &ExchangeService{
		conns:       conns,
		states:      states,
		cipher:      cipher,
		providers:   providers,
		logger:      logger,
		httpClient:  &http.Client{Timeout: tokenEndpointTimeout},
		now:         time.Now,
		callTimeout: tokenEndpointTimeout,
	}
}

// RegisterState binds a client-generated state to the authenticated user so
// the later exchange can verify the redirect belongs to a flow this user
// started.
func (s *ExchangeService) RegisterState(ctx context.Context, userID string, provider domain.Provider, state string) error {
	stateProvider, err := domain.ProviderFromState(state)
	if err != nil || stateProvider != provider {
		return errors.NewCSRFMismatch()
	}
	if err := s.states.SaveState(ctx, state, userID, stateTTL); err != nil {
		return fmt.Errorf("register state: %w", err)
	}
	return nil
}

// ExchangeCode validates the state binding, exchanges the code (with the
// PKCE verifier) at the provider token endpoint, and persists a fresh
// connection row with encrypted tokens. An existing connection for the same
// (user, provider) is replaced by the new row, never mutated in place.
func (s *ExchangeService) ExchangeCode(ctx context.Context, userID string, req ExchangeRequest) (*domain.ProviderConnection, error) {
	cfg, ok := s.providers.Config(req.Provider)
	if !ok || cfg.ClientID == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("provider %s has no client id configured", req.Provider))
	}

	boundUser, err := s.states.ConsumeState(ctx, req.State)
	if err != nil {
		if stderrors.Is(err, cache.ErrStateNotFound) {
			return nil, errors.NewCSRFMismatch()
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if boundUser != userID {
		return nil, errors.NewCSRFMismatch()
	}

	resp, err := s.callTokenEndpoint(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	accessEnc, err := s.cipher.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.cipher.Encrypt(resp.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := s.now()
	conn := &domain.ProviderConnection{
		UserID:          userID,
		Provider:        req.Provider,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  now.UnixMilli() + resp.ExpiresIn*1000,
		Scopes:          strings.Fields(resp.Scope),
		ConnectedAt:     now,
		Status:          domain.ConnectionActive,
	}

	// Reconnecting writes a fresh row; it never resurrects an EXPIRED one.
	if existing, err := s.conns.GetByUserAndProvider(ctx, userID, req.Provider); err == nil {
		if err := s.conns.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("replace existing connection: %w", err)
		}
	}

	if err := s.conns.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("persist connection: %w", err)
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("provider", req.Provider.String()).
		Msg("provider connection established")

	return conn, nil
}

type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (s *ExchangeService) callTokenEndpoint(ctx context.Context, cfg ProviderConfig, req ExchangeRequest) (*tokenEndpointResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("code_verifier", req.CodeVerifier)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = cfg.RedirectURI
	}
	form.Set("redirect_uri", redirectURI)

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewExchangeFailed(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, errors.NewExchangeFailed(fmt.Errorf("read token response: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, errors.NewExchangeFailed(fmt.Errorf("token endpoint returned %d", httpResp.StatusCode))
	}

	var resp tokenEndpointResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewExchangeFailed(fmt.Errorf("malformed token response: %w", err))
	}
	if resp.AccessToken == "" {
		return nil, errors.NewExchangeFailed(stderrors.New("token endpoint returned no access token"))
	}
	return &resp, nil
}
