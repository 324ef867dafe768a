// Package sublink implements the provider connection lifecycle: the
// client-side PKCE authorization flow, the deep-link callback handling that
// completes it, the server-side exchange that persists encrypted tokens, and
// the lock-coordinated access-token refresh.
package sublink

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/sublink-app/sublink/cache"
	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
)

// BrowserOpener runs a browser-mediated authorization session and returns
// the redirect URL the provider sent the user back with. A dismissed or
// otherwise unsuccessful session returns an error.
type BrowserOpener interface {
	OpenAuthSession(ctx context.Context, authURL, redirectURI string) (string, error)
}

// ExchangeRequest is the code-for-token exchange sent over the RPC boundary.
type ExchangeRequest struct {
	Provider     domain.Provider `json:"provider"`
	Code         string          `json:"code"`
	State        string          `json:"state"`
	CodeVerifier string          `json:"codeVerifier"`
	RedirectURI  string          `json:"redirectUri,omitempty"`
}

// ExchangeResult is what the server returns once tokens are persisted.
// Token material never crosses back to the device.
type ExchangeResult struct {
	ConnectionID string          `json:"connectionId"`
	Provider     domain.Provider `json:"provider"`
}

// AuthAPI is the remote boundary the device-side flow talks to: CSRF state
// registration and the code-for-token exchange.
type AuthAPI interface {
	RegisterState(ctx context.Context, provider domain.Provider, state string) error
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
}

// AuthorizationService drives the end-to-end client-side connect flow. All
// collaborators are injected through the constructor.
type AuthorizationService struct {
	providers *ProviderRegistry
	flows     cache.FlowStore
	browser   BrowserOpener
	api       AuthAPI
	logger    zerolog.Logger
}

func NewAuthorizationService(
	providers *ProviderRegistry,
	flows cache.FlowStore,
	browser BrowserOpener,
	api AuthAPI,
	logger zerolog.Logger,
) *AuthorizationService {
	return &AuthorizationService{
		providers: providers,
		flows:     flows,
		browser:   browser,
		api:       api,
		logger:    logger,
	}
}

// Connect runs the full authorization flow for a provider: PKCE generation,
// state registration, browser session, redirect validation, and the code
// exchange. Ephemeral storage for the flow is deleted on every exit path.
func (s *AuthorizationService) Connect(ctx context.Context, provider domain.Provider) (*ExchangeResult, error) {
	cfg, ok := s.providers.Config(provider)
	if !ok || cfg.ClientID == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("provider %s has no client id configured", provider))
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("generate pkce: %w", err)
	}

	// Nothing secret survives the flow, whatever path it exits on.
	defer func() {
		if err := s.flows.DeleteFlow(context.WithoutCancel(ctx), provider); err != nil {
			s.logger.Warn().Err(err).Str("provider", provider.String()).Msg("failed to clear flow storage")
		}
	}()

	if err := s.flows.Set(ctx, provider, cache.PurposeVerifier, pkce.Verifier); err != nil {
		return nil, fmt.Errorf("store verifier: %w", err)
	}

	state := NewFlowState(provider)
	if err := s.api.RegisterState(ctx, provider, state); err != nil {
		return nil, fmt.Errorf("register state: %w", err)
	}
	if err := s.flows.Set(ctx, provider, cache.PurposeState, state); err != nil {
		return nil, fmt.Errorf("store state: %w", err)
	}

	authURL := cfg.AuthCodeURL(state, pkce.Challenge)

	redirectURL, err := s.browser.OpenAuthSession(ctx, authURL, cfg.RedirectURI)
	if err != nil {
		s.logger.Info().Err(err).Str("provider", provider.String()).Msg("authorization session did not complete")
		return nil, errors.NewFlowCancelled()
	}

	code, err := s.validateRedirect(ctx, provider, redirectURL)
	if err != nil {
		return nil, err
	}

	verifier, ok := s.flows.Get(ctx, provider, cache.PurposeVerifier)
	if !ok {
		return nil, errors.NewVerifierNotFound()
	}

	result, err := s.api.Exchange(ctx, ExchangeRequest{
		Provider:     provider,
		Code:         code,
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  cfg.RedirectURI,
	})
	if err != nil {
		return nil, errors.NewExchangeFailed(err)
	}

	s.logger.Info().
		Str("provider", provider.String()).
		Str("connection_id", result.ConnectionID).
		Msg("provider connected")

	return result, nil
}

// validateRedirect checks the provider redirect in the order the flow
// demands: provider error first, then CSRF state, then code presence.
func (s *AuthorizationService) validateRedirect(ctx context.Context, provider domain.Provider, redirectURL string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", errors.NewProviderError(fmt.Sprintf("unparseable redirect: %v", err))
	}
	query := parsed.Query()

	if errParam := query.Get("error"); errParam != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errParam
		}
		return "", errors.NewProviderError(description)
	}

	storedState, ok := s.flows.Get(ctx, provider, cache.PurposeState)
	if !ok || query.Get("state") != storedState {
		return "", errors.NewCSRFMismatch()
	}

	code := query.Get("code")
	if code == "" {
		return "", errors.NewMissingCode()
	}
	return code, nil
}
