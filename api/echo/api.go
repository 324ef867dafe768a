package echo

import (
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	sublink "github.com/sublink-app/sublink"
	"github.com/sublink-app/sublink/domain"
	"github.com/sublink-app/sublink/errors"
	"github.com/sublink-app/sublink/mongodb"
)

// userIDHeader carries the authenticated user identity, injected by the
// gateway in front of this service.
const userIDHeader = "X-User-ID"

// ConnectAPI exposes the connection lifecycle over HTTP: state
// registration, code exchange, connection listing/disconnect, and
// lock-coordinated access-token retrieval.
type ConnectAPI struct {
	exchange *sublink.ExchangeService
	refresh  *sublink.TokenRefreshService
	conns    domain.ConnectionRepository
}

// NewConnectAPI initializes the connect API.
func NewConnectAPI(
	exchange *sublink.ExchangeService,
	refresh *sublink.TokenRefreshService,
	conns domain.ConnectionRepository,
) *ConnectAPI {
	return &ConnectAPI{
		exchange: exchange,
		refresh:  refresh,
		conns:    conns,
	}
}

// RegisterRoutes registers the connect routes.
func (a *ConnectAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth/state", a.RegisterStateHandler)
	e.POST("/oauth/callback", a.CallbackHandler)

	e.GET("/connections", a.ListConnectionsHandler)
	e.DELETE("/connections/:id", a.DisconnectHandler)
	e.GET("/connections/:id/token", a.AccessTokenHandler)

	e.GET("/healthz", a.HealthHandler)
}

type registerStateRequest struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

// RegisterStateHandler binds a client-generated CSRF state to the calling
// user.
func (a *ConnectAPI) RegisterStateHandler(c echo.Context) error {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing user identity"})
	}

	var req registerStateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	if err := a.exchange.RegisterState(c.Request().Context(), userID, provider, req.State); err != nil {
		return a.writeFlowError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CallbackHandler performs the code-for-token exchange and persists the
// encrypted connection.
func (a *ConnectAPI) CallbackHandler(c echo.Context) error {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing user identity"})
	}

	var req sublink.ExchangeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
	}

	conn, err := a.exchange.ExchangeCode(c.Request().Context(), userID, req)
	if err != nil {
		return a.writeFlowError(c, err)
	}

	return c.JSON(http.StatusOK, sublink.ExchangeResult{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
	})
}

// ListConnectionsHandler lists the caller's provider connections. Token
// ciphertext never serializes.
func (a *ConnectAPI) ListConnectionsHandler(c echo.Context) error {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing user identity"})
	}

	conns, err := a.conns.ListByUser(c.Request().Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list connections")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list connections"})
	}
	return c.JSON(http.StatusOK, conns)
}

// DisconnectHandler marks a connection REVOKED. The row is kept; a future
// reconnect writes a fresh one.
func (a *ConnectAPI) DisconnectHandler(c echo.Context) error {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing user identity"})
	}

	ctx := c.Request().Context()
	conn, err := a.conns.GetByID(ctx, c.Param("id"))
	if err != nil {
		return a.writeRefreshError(c, err)
	}
	if conn.UserID != userID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "connection not found"})
	}

	if err := a.conns.UpdateStatus(ctx, conn.ID, domain.ConnectionRevoked); err != nil {
		return a.writeRefreshError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AccessTokenHandler returns a valid (possibly just refreshed) access token
// for a connection, for internal services that call providers on the user's
// behalf.
func (a *ConnectAPI) AccessTokenHandler(c echo.Context) error {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing user identity"})
	}

	ctx := c.Request().Context()
	conn, err := a.conns.GetByID(ctx, c.Param("id"))
	if err != nil {
		return a.writeRefreshError(c, err)
	}
	if conn.UserID != userID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "connection not found"})
	}

	token, err := a.refresh.ValidAccessToken(ctx, conn)
	if err != nil {
		return a.writeRefreshError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"accessToken": token})
}

// HealthHandler reports storage reachability.
func (a *ConnectAPI) HealthHandler(c echo.Context) error {
	if err := mongodb.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (a *ConnectAPI) writeFlowError(c echo.Context, err error) error {
	var flowErr *errors.FlowError
	if !stderrors.As(err, &flowErr) {
		log.Error().Err(err).Msg("exchange failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	status := http.StatusBadRequest
	switch flowErr.Code {
	case errors.FlowConfigError:
		status = http.StatusInternalServerError
	case errors.FlowExchangeFailed:
		status = http.StatusBadGateway
	}
	return c.JSON(status, flowErr)
}

func (a *ConnectAPI) writeRefreshError(c echo.Context, err error) error {
	var refreshErr *errors.RefreshError
	if !stderrors.As(err, &refreshErr) {
		log.Error().Err(err).Msg("refresh failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	status := http.StatusInternalServerError
	switch refreshErr.Code {
	case errors.ConnectionNotFound:
		status = http.StatusNotFound
	case errors.RefreshInProgress:
		c.Response().Header().Set("Retry-After", "2")
		status = http.StatusServiceUnavailable
	case errors.RefreshFailed:
		status = http.StatusBadGateway
	case errors.RefreshFailedPermanent:
		// The credential is dead; the client must restart authorization.
		status = http.StatusUnauthorized
	}
	return c.JSON(status, refreshErr)
}
