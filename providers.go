package sublink

import (
	"golang.org/x/oauth2"

	"github.com/sublink-app/sublink/domain"
)

// ProviderConfig holds everything needed to drive one provider's
// authorization and refresh endpoints.
type ProviderConfig struct {
	ClientID string
	// ClientSecret is empty for PKCE-only clients; when empty it is
	// omitted from token-endpoint requests.
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectURI  string
	// ExtraAuthParams are provider-specific authorization-URL additions.
	// The video provider forces offline access and a consent prompt so a
	// refresh token is always issued; the audio provider sends none.
	ExtraAuthParams map[string]string
}

// AuthCodeURL builds the full authorization URL for this provider with the
// standard OAuth2 parameters plus PKCE and the provider's extras.
func (c ProviderConfig) AuthCodeURL(state, challenge string) string {
	conf := &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURI,
		Scopes:      c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	for k, v := range c.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return conf.AuthCodeURL(state, opts...)
}

// ProviderRegistry resolves provider configuration. It is injected into the
// services that need it; there is no package-level registry.
type ProviderRegistry struct {
	configs map[domain.Provider]ProviderConfig
}

func NewProviderRegistry(configs map[domain.Provider]ProviderConfig) *ProviderRegistry {
	copied := make(map[domain.Provider]ProviderConfig, len(configs))
	for p, c := range configs {
		copied[p] = c
	}
	return &ProviderRegistry{configs: copied}
}

// Config returns the configuration for p, and whether one exists.
func (r *ProviderRegistry) Config(p domain.Provider) (ProviderConfig, bool) {
	c, ok := r.configs[p]
	return c, ok
}

// DefaultExtraAuthParams returns the provider-specific authorization
// parameters used when none are configured. Video and mail are Google-style
// endpoints that only issue a refresh token when offline access and an
// explicit consent prompt are requested.
func DefaultExtraAuthParams(p domain.Provider) map[string]string {
	switch p {
	case domain.ProviderVideo, domain.ProviderMail:
		return map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		}
	default:
		return nil
	}
}
