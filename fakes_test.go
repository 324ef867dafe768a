package sublink

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
	"github.com/sublink-app/sublink/internal/crypto"
)

func testLogger() zerolog.Logger {
	return zerolog.New(&bytes.Buffer{})
}

func testCipher() *crypto.TokenCipher {
	key := bytes.Repeat([]byte{0x42}, 32)
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		panic(err)
	}
	return cipher
}

func mustEncrypt(c *crypto.TokenCipher, plaintext string) string {
	enc, err := c.Encrypt(plaintext)
	if err != nil {
		panic(err)
	}
	return enc
}

// fakeConnRepo is an in-memory ConnectionRepository with the same update
// semantics as the mongo implementation.
type fakeConnRepo struct {
	mu    sync.Mutex
	conns map[string]*domain.ProviderConnection

	createErr error
	getErr    error
	updateErr error
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{conns: make(map[string]*domain.ProviderConnection)}
}

func (r *fakeConnRepo) put(conn *domain.ProviderConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conn
	r.conns[conn.ID] = &copied
}

func (r *fakeConnRepo) Create(_ context.Context, conn *domain.ProviderConnection) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	copied := *conn
	r.conns[conn.ID] = &copied
	return nil
}

func (r *fakeConnRepo) GetByID(_ context.Context, id string) (*domain.ProviderConnection, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, errors.NewConnectionNotFound(id)
	}
	copied := *conn
	return &copied, nil
}

func (r *fakeConnRepo) GetByUserAndProvider(_ context.Context, userID string, provider domain.Provider) (*domain.ProviderConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.UserID == userID && conn.Provider == provider {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, errors.NewConnectionNotFound(userID + "/" + provider.String())
}

func (r *fakeConnRepo) ListByUser(_ context.Context, userID string) ([]*domain.ProviderConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ProviderConnection
	for _, conn := range r.conns {
		if conn.UserID == userID {
			copied := *conn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeConnRepo) UpdateTokens(_ context.Context, id string, upd domain.TokenUpdate) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return errors.NewConnectionNotFound(id)
	}
	conn.AccessTokenEnc = upd.AccessTokenEnc
	if upd.RefreshTokenEnc != "" {
		conn.RefreshTokenEnc = upd.RefreshTokenEnc
	}
	conn.TokenExpiresAt = upd.TokenExpiresAt
	refreshedAt := upd.LastRefreshedAt
	conn.LastRefreshedAt = &refreshedAt
	conn.Status = domain.ConnectionActive
	return nil
}

func (r *fakeConnRepo) UpdateStatus(_ context.Context, id string, status domain.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return errors.NewConnectionNotFound(id)
	}
	conn.Status = status
	return nil
}

func (r *fakeConnRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return errors.NewConnectionNotFound(id)
	}
	delete(r.conns, id)
	return nil
}

func (r *fakeConnRepo) stored(id string) *domain.ProviderConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	copied := *conn
	return &copied
}

// fakeAuthAPI records the calls the device-side flow makes over the RPC
// boundary.
type fakeAuthAPI struct {
	mu sync.Mutex

	registeredStates []string
	exchanges        []ExchangeRequest

	registerErr error
	exchangeErr error
	result      *ExchangeResult
}

func (a *fakeAuthAPI) RegisterState(_ context.Context, _ domain.Provider, state string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registerErr != nil {
		return a.registerErr
	}
	a.registeredStates = append(a.registeredStates, state)
	return nil
}

func (a *fakeAuthAPI) Exchange(_ context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges = append(a.exchanges, req)
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	if a.result != nil {
		return a.result, nil
	}
	return &ExchangeResult{ConnectionID: "conn-1", Provider: req.Provider}, nil
}

// fakeBrowser returns a canned redirect, optionally derived from the auth URL
// it was launched with.
type fakeBrowser struct {
	redirect func(authURL string) string
	err      error

	lastAuthURL string
}

func (b *fakeBrowser) OpenAuthSession(_ context.Context, authURL, _ string) (string, error) {
	b.lastAuthURL = authURL
	if b.err != nil {
		return "", b.err
	}
	return b.redirect(authURL), nil
}

type fakeNavigator struct {
	left int
}

func (n *fakeNavigator) LeaveCallback(context.Context) {
	n.left++
}

type fakeCompleter struct {
	calls  []ExchangeRequest
	result *CompletionResult
}

func (c *fakeCompleter) CompleteFlow(_ context.Context, code, state string, provider domain.Provider) *CompletionResult {
	c.calls = append(c.calls, ExchangeRequest{Provider: provider, Code: code, State: state})
	if c.result != nil {
		return c.result
	}
	return &CompletionResult{Success: true, Provider: provider}
}

func testRegistry() *ProviderRegistry {
	return NewProviderRegistry(map[domain.Provider]ProviderConfig{
		domain.ProviderVideo: {
			ClientID:        "video-client",
			AuthURL:         "https://video.example.com/authorize",
			TokenURL:        "https://video.example.com/token",
			Scopes:          []string{"video.readonly"},
			RedirectURI:     "app://oauth/callback",
			ExtraAuthParams: DefaultExtraAuthParams(domain.ProviderVideo),
		},
		domain.ProviderAudio: {
			ClientID:    "audio-client",
			AuthURL:     "https://audio.example.com/authorize",
			TokenURL:    "https://audio.example.com/token",
			Scopes:      []string{"user-library-read"},
			RedirectURI: "app://oauth/callback",
		},
	})
}
