package sublink

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/sublink-app/sublink/domain"
)

// PKCEPair is a freshly generated verifier and its S256 challenge, both
// base64url encoded without padding (RFC 7636).
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a PKCE pair. The verifier encodes 32 random bytes,
// which yields 43 characters and satisfies the 43-128 character requirement.
func GeneratePKCE() (*PKCEPair, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return &PKCEPair{
		Verifier:  verifier,
		Challenge: PKCEChallenge(verifier),
	}, nil
}

// PKCEChallenge derives the S256 code challenge for a verifier.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewFlowState builds a CSRF state value of the form "<PROVIDER>:<uuid>".
// The provider prefix lets the callback dispatcher route a redirect without
// any other context.
func NewFlowState(p domain.Provider) string {
	return fmt.Sprintf("%s:%s", p, uuid.NewString())
}
