package sublink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sublink-app/sublink/domain"
)

// callbackPath is the path fragment every provider redirect shares.
const callbackPath = "oauth/callback"

// Navigator moves the user off the callback screen once a flow has been
// completed, successfully or not.
type Navigator interface {
	LeaveCallback(ctx context.Context)
}

// FlowCompleter is the slice of CompletionService the dispatcher needs.
type FlowCompleter interface {
	CompleteFlow(ctx context.Context, code, state string, provider domain.Provider) *CompletionResult
}

// CallbackDispatcher routes inbound deep-link URLs to flow completion. The
// same URL can arrive twice (a cold-start "initial URL" query plus a live
// listener), so delivery is deduplicated; URLs that are not OAuth callbacks
// are ignored as normal traffic.
type CallbackDispatcher struct {
	completer FlowCompleter
	navigator Navigator
	logger    zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewCallbackDispatcher(completer FlowCompleter, navigator Navigator, logger zerolog.Logger) *CallbackDispatcher {
	return &CallbackDispatcher{
		completer: completer,
		navigator: navigator,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// HandleURL inspects one inbound URL. It returns whether the URL was an
// OAuth callback (handled or duplicate), and an error only for callbacks
// that could not be routed.
func (d *CallbackDispatcher) HandleURL(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || !isCallbackURL(parsed) {
		return false, nil
	}

	if !d.markSeen(rawURL) {
		d.logger.Debug().Msg("duplicate callback delivery suppressed")
		return true, nil
	}

	query := parsed.Query()
	state := query.Get("state")
	provider, err := domain.ProviderFromState(state)
	if err != nil {
		return true, fmt.Errorf("callback with unroutable state: %w", err)
	}

	// Whatever completion decides, the user does not stay parked on the
	// callback screen.
	defer d.navigator.LeaveCallback(ctx)

	result := d.completer.CompleteFlow(ctx, query.Get("code"), state, provider)
	if !result.Success {
		d.logger.Warn().
			Str("provider", provider.String()).
			Str("code", string(result.Err.Code)).
			Msg("oauth callback completed with failure")
	}
	return true, nil
}

func (d *CallbackDispatcher) markSeen(rawURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[rawURL]; dup {
		return false
	}
	d.seen[rawURL] = struct{}{}
	return true
}

// isCallbackURL matches custom-scheme redirects in both shapes a URL parser
// can produce for them: "app://oauth/callback" (host carries the first
// segment) and "app:///oauth/callback".
func isCallbackURL(u *url.URL) bool {
	return strings.Contains(strings.Trim(u.Host+u.Path, "/"), callbackPath)
}
