package sublink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublink-app/sublink/cache"
	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type refreshFixture struct {
	svc   *TokenRefreshService
	repo  *fakeConnRepo
	locks *cache.MemoryLockStore

	mu         sync.Mutex
	tokenCalls int
	lastForm   url.Values
}

func (f *refreshFixture) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *refreshFixture) form() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm
}

// newRefreshFixture wires a refresh service against an in-memory repo, a
// deterministic clock, and an httptest token endpoint driven by handler.
func newRefreshFixture(t *testing.T, handler func(w http.ResponseWriter)) *refreshFixture {
	t.Helper()

	f := &refreshFixture{
		repo:  newFakeConnRepo(),
		locks: cache.NewMemoryLockStoreWithClock(func() time.Time { return testNow }),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.tokenCalls++
		f.lastForm = r.PostForm
		f.mu.Unlock()
		if handler != nil {
			handler(w)
		}
	}))
	t.Cleanup(server.Close)

	registry := NewProviderRegistry(map[domain.Provider]ProviderConfig{
		domain.ProviderVideo: {
			ClientID: "video-client",
			TokenURL: server.URL,
		},
	})

	f.svc = NewTokenRefreshService(f.repo, f.locks, testCipher(), registry, testLogger())
	f.svc.now = func() time.Time { return testNow }
	f.svc.lockWait = time.Millisecond
	return f
}

func (f *refreshFixture) seedConnection(expiresIn time.Duration) *domain.ProviderConnection {
	cipher := testCipher()
	conn := &domain.ProviderConnection{
		ID:              "conn-1",
		UserID:          "user-1",
		Provider:        domain.ProviderVideo,
		AccessTokenEnc:  mustEncrypt(cipher, "stored-access"),
		RefreshTokenEnc: mustEncrypt(cipher, "stored-refresh"),
		TokenExpiresAt:  testNow.Add(expiresIn).UnixMilli(),
		ConnectedAt:     testNow.Add(-time.Hour),
		Status:          domain.ConnectionActive,
	}
	f.repo.put(conn)
	return conn
}

func freshTokenResponse(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestValidAccessTokenFastPath(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(time.Hour)

	token, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)

	// No lock, no network.
	assert.Zero(t, f.calls())
	assert.False(t, f.locks.Held(RefreshLockKey(conn.ID)))
}

func TestValidAccessTokenBufferBoundary(t *testing.T) {
	t.Run("expiring in exactly the buffer is still valid", func(t *testing.T) {
		f := newRefreshFixture(t, nil)
		conn := f.seedConnection(RefreshBuffer)

		token, err := f.svc.ValidAccessToken(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, "stored-access", token)
		assert.Zero(t, f.calls())
	})

	t.Run("one millisecond outside the buffer is still valid", func(t *testing.T) {
		f := newRefreshFixture(t, nil)
		conn := f.seedConnection(RefreshBuffer + time.Millisecond)

		token, err := f.svc.ValidAccessToken(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, "stored-access", token)
		assert.Zero(t, f.calls())
	})

	t.Run("one millisecond inside the buffer triggers a refresh", func(t *testing.T) {
		f := newRefreshFixture(t, freshTokenResponse(`{"access_token":"new-access","expires_in":3600}`))
		conn := f.seedConnection(RefreshBuffer - time.Millisecond)

		token, err := f.svc.ValidAccessToken(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, "new-access", token)
		assert.Equal(t, 1, f.calls())
	})
}

func TestValidAccessTokenInvalidProvider(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(-time.Hour)
	conn.Provider = "GAMES"

	_, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrInvalidProvider)
	assert.Zero(t, f.calls())
}

func TestRefreshSuccessWithRotation(t *testing.T) {
	f := newRefreshFixture(t, freshTokenResponse(
		`{"access_token":"new-access","expires_in":3600,"refresh_token":"rotated-refresh"}`))
	conn := f.seedConnection(time.Minute)

	token, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	// The refresh request carries the decrypted refresh token and, for a
	// PKCE-only client, no client_secret.
	assert.Equal(t, "refresh_token", f.form().Get("grant_type"))
	assert.Equal(t, "stored-refresh", f.form().Get("refresh_token"))
	assert.Equal(t, "video-client", f.form().Get("client_id"))
	assert.False(t, f.form().Has("client_secret"))

	stored := f.repo.stored(conn.ID)
	require.NotNil(t, stored)
	assert.Equal(t, testNow.UnixMilli()+3_600_000, stored.TokenExpiresAt)
	assert.Equal(t, domain.ConnectionActive, stored.Status)
	require.NotNil(t, stored.LastRefreshedAt)
	assert.Equal(t, testNow, stored.LastRefreshedAt.UTC())

	cipher := testCipher()
	access, err := cipher.Decrypt(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	refresh, err := cipher.Decrypt(stored.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", refresh)

	assert.False(t, f.locks.Held(RefreshLockKey(conn.ID)), "lock not released")
}

func TestRefreshKeepsUnrotatedRefreshToken(t *testing.T) {
	f := newRefreshFixture(t, freshTokenResponse(`{"access_token":"new-access","expires_in":3600}`))
	conn := f.seedConnection(time.Minute)
	originalRefreshEnc := conn.RefreshTokenEnc

	_, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.NoError(t, err)

	stored := f.repo.stored(conn.ID)
	assert.Equal(t, originalRefreshEnc, stored.RefreshTokenEnc, "stored refresh token must survive a non-rotating response")
}

func TestRefreshPermanentFailureExpiresConnection(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})
	conn := f.seedConnection(time.Minute)
	originalAccessEnc := conn.AccessTokenEnc

	_, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrRefreshPermanent)

	stored := f.repo.stored(conn.ID)
	assert.Equal(t, domain.ConnectionExpired, stored.Status)
	assert.Equal(t, originalAccessEnc, stored.AccessTokenEnc, "tokens must not change on failure")
	assert.False(t, f.locks.Held(RefreshLockKey(conn.ID)))
}

func TestRefreshTransientFailureLeavesConnectionAlone(t *testing.T) {
	f := newRefreshFixture(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	conn := f.seedConnection(time.Minute)

	_, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrRefreshFailed)
	assert.NotErrorIs(t, err, errors.ErrRefreshPermanent)

	stored := f.repo.stored(conn.ID)
	assert.Equal(t, domain.ConnectionActive, stored.Status)
	assert.Equal(t, conn.TokenExpiresAt, stored.TokenExpiresAt)
	assert.False(t, f.locks.Held(RefreshLockKey(conn.ID)))
}

func TestRefreshDecryptionFailure(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(time.Minute)
	conn.RefreshTokenEnc = "not-ciphertext"
	f.repo.put(conn)

	_, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrDecryptionFailed)
	assert.Zero(t, f.calls())
	assert.False(t, f.locks.Held(RefreshLockKey(conn.ID)))
}

func TestLockLoserReadsWinnersToken(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(time.Minute)

	// Another worker holds the lock and has already persisted its refresh.
	_, err := f.locks.Acquire(context.Background(), RefreshLockKey(conn.ID), RefreshLockTTL)
	require.NoError(t, err)

	fresh := *conn
	fresh.AccessTokenEnc = mustEncrypt(testCipher(), "winners-access")
	fresh.TokenExpiresAt = testNow.Add(time.Hour).UnixMilli()
	f.repo.put(&fresh)

	token, err := f.svc.ValidAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "winners-access", token)
	assert.Zero(t, f.calls(), "loser must not call the provider")
}

func TestLockLoserStillStaleAfterWait(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(time.Minute)

	_, err := f.locks.Acquire(context.Background(), RefreshLockKey(conn.ID), RefreshLockTTL)
	require.NoError(t, err)

	_, err = f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrRefreshInProgress)
	assert.Zero(t, f.calls())
}

func TestLockLoserConnectionVanished(t *testing.T) {
	f := newRefreshFixture(t, nil)
	conn := f.seedConnection(time.Minute)

	_, err := f.locks.Acquire(context.Background(), RefreshLockKey(conn.ID), RefreshLockTTL)
	require.NoError(t, err)
	require.NoError(t, f.repo.Delete(context.Background(), conn.ID))

	_, err = f.svc.ValidAccessToken(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrConnectionNotFound)
}

func TestValidAccessTokenByID(t *testing.T) {
	f := newRefreshFixture(t, nil)
	f.seedConnection(time.Hour)

	token, err := f.svc.ValidAccessTokenByID(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)

	_, err = f.svc.ValidAccessTokenByID(context.Background(), "missing")
	require.ErrorIs(t, err, errors.ErrConnectionNotFound)
}
