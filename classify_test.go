package sublink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRefreshFailure(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		code      string
	}{
		{
			name:      "invalid_grant on 400 is permanent",
			status:    400,
			body:      `{"error":"invalid_grant"}`,
			permanent: true,
			code:      "invalid_grant",
		},
		{
			name:      "invalid_client on 401 is permanent",
			status:    401,
			body:      `{"error":"invalid_client","error_description":"bad credentials"}`,
			permanent: true,
			code:      "invalid_client",
		},
		{
			name:      "unauthorized_client is permanent",
			status:    400,
			body:      `{"error":"unauthorized_client"}`,
			permanent: true,
			code:      "unauthorized_client",
		},
		{
			name:      "expired-or-revoked description condemns unknown code",
			status:    400,
			body:      `{"error":"invalid_request","error_description":"Token has been expired or revoked."}`,
			permanent: true,
			code:      "invalid_request",
		},
		{
			name:   "unknown error code on 400 is transient",
			status: 400,
			body:   `{"error":"temporarily_unavailable"}`,
		},
		{
			name:   "500 is transient even with a permanent-looking body",
			status: 500,
			body:   `{"error":"invalid_grant"}`,
		},
		{
			name:   "429 is transient",
			status: 429,
			body:   `{"error":"rate_limited"}`,
		},
		{
			name:   "503 with empty body is transient",
			status: 503,
		},
		{
			name:   "malformed body on 400 is transient",
			status: 400,
			body:   `<html>Bad Request</html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ClassifyRefreshFailure(tt.status, []byte(tt.body))
			assert.Equal(t, tt.permanent, verdict.Permanent)
			assert.Equal(t, tt.code, verdict.Code)
		})
	}
}
