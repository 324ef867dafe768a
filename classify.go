package sublink

import (
	"encoding/json"
	"strings"
)

// RefreshFailureVerdict is the structured classification of a failed
// token-endpoint response.
type RefreshFailureVerdict struct {
	// Code is the provider's OAuth2 error code, when the body carried one.
	Code string
	// Permanent means the stored refresh credential itself is dead and no
	// retry will ever succeed without new user authorization.
	Permanent bool
}

// permanentErrorCodes are the OAuth2 error codes that condemn a refresh
// token (RFC 6749 §5.2).
var permanentErrorCodes = map[string]struct{}{
	"invalid_grant":       {},
	"unauthorized_client": {},
	"invalid_client":      {},
}

// ClassifyRefreshFailure decides whether a failed refresh response condemns
// the stored credential. Only 400/401 responses whose parsed body names a
// permanent error code (or describes the token as expired or revoked) are
// permanent; everything else, including 5xx, 429 and malformed bodies, is
// transient and leaves the connection row untouched.
func ClassifyRefreshFailure(status int, body []byte) RefreshFailureVerdict {
	if status != 400 && status != 401 {
		return RefreshFailureVerdict{}
	}

	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return RefreshFailureVerdict{}
	}

	verdict := RefreshFailureVerdict{Code: payload.Error}
	if _, ok := permanentErrorCodes[payload.Error]; ok {
		verdict.Permanent = true
		return verdict
	}
	if strings.Contains(strings.ToLower(payload.ErrorDescription), "expired or revoked") {
		verdict.Permanent = true
	}
	return verdict
}
