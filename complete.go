package sublink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sublink-app/sublink/cache"
	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
)

// CompletionResult is the structured outcome of finishing an authorization
// flow from a deep-link callback. Callers branch on Success instead of
// wrapping the call in error handling.
type CompletionResult struct {
	Success  bool
	Provider domain.Provider
	// Err is set when Success is false.
	Err *errors.FlowError
}

// CompletionService validates a deep-link callback and performs the
// code-for-token exchange. Unlike AuthorizationService.Connect, which owns
// the whole flow, this path is entered from a cold-start redirect where the
// original Connect call no longer exists.
type CompletionService struct {
	flows  cache.FlowStore
	api    AuthAPI
	logger zerolog.Logger
}

func NewCompletionService(flows cache.FlowStore, api AuthAPI, logger zerolog.Logger) *CompletionService {
	return &CompletionService{
		flows:  flows,
		api:    api,
		logger: logger,
	}
}

// CompleteFlow finishes an in-flight flow. Every failure comes back as a
// structured result, and the provider's ephemeral storage is deleted no
// matter how the call exits.
func (s *CompletionService) CompleteFlow(ctx context.Context, code, state string, provider domain.Provider) *CompletionResult {
	defer func() {
		if err := s.flows.DeleteFlow(context.WithoutCancel(ctx), provider); err != nil {
			s.logger.Warn().Err(err).Str("provider", provider.String()).Msg("failed to clear flow storage")
		}
	}()

	storedState, ok := s.flows.Get(ctx, provider, cache.PurposeState)
	if !ok || storedState != state {
		return &CompletionResult{Provider: provider, Err: errors.NewCSRFMismatch()}
	}

	verifier, ok := s.flows.Get(ctx, provider, cache.PurposeVerifier)
	if !ok {
		// The flow's session expired between launch and callback.
		return &CompletionResult{Provider: provider, Err: errors.NewVerifierNotFound()}
	}

	if _, err := s.api.Exchange(ctx, ExchangeRequest{
		Provider:     provider,
		Code:         code,
		State:        state,
		CodeVerifier: verifier,
	}); err != nil {
		s.logger.Warn().Err(err).Str("provider", provider.String()).Msg("exchange failed during completion")
		return &CompletionResult{Provider: provider, Err: errors.NewExchangeFailed(err)}
	}

	return &CompletionResult{Success: true, Provider: provider}
}
