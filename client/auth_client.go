// Package client implements the device-side HTTP client for the sublink
// server's RPC boundary.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	sublink "github.com/sublink-app/sublink"
	"github.com/sublink-app/sublink/domain"
)

// AuthClient implements sublink.AuthAPI against the server's HTTP API.
type AuthClient struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewAuthClient creates a client for the authenticated user. The userID is
// forwarded as the gateway identity header on every call.
func NewAuthClient(baseURL, userID string, httpClient *http.Client) *AuthClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: httpClient,
	}
}

// RegisterState implements sublink.AuthAPI.RegisterState.
func (c *AuthClient) RegisterState(ctx context.Context, provider domain.Provider, state string) error {
	payload := map[string]string{
		"provider": provider.String(),
		"state":    state,
	}
	return c.post(ctx, "/oauth/state", payload, nil)
}

// Exchange implements sublink.AuthAPI.Exchange.
func (c *AuthClient) Exchange(ctx context.Context, req sublink.ExchangeRequest) (*sublink.ExchangeResult, error) {
	var result sublink.ExchangeResult
	if err := c.post(ctx, "/oauth/callback", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AuthClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
