package domain

import (
	"fmt"
	"strings"
)

// Provider identifies a third-party content platform a user can connect.
// The set is enumerated on purpose: every provider needs hand-verified
// endpoint and scope configuration before it is safe to ship.
type Provider string

const (
	ProviderVideo Provider = "VIDEO"
	ProviderAudio Provider = "AUDIO"
	ProviderMail  Provider = "MAIL"
)

// Providers lists every known provider.
func Providers() []Provider {
	return []Provider{ProviderVideo, ProviderAudio, ProviderMail}
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderVideo, ProviderAudio, ProviderMail:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// ParseProvider converts a raw string into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// ProviderFromState extracts the provider from an OAuth state value of the
// form "<PROVIDER>:<uuid>". The prefix doubles as the dispatcher's provider
// discriminator.
func ProviderFromState(state string) (Provider, error) {
	prefix, _, found := strings.Cut(state, ":")
	if !found {
		return "", fmt.Errorf("state %q has no provider prefix", state)
	}
	return ParseProvider(prefix)
}
