// Package echo exposes the gateway's HTTP surface: the interactive OAuth
// consent flow, the provider callback, the token endpoint, health and the
// protected MCP endpoint.
package echo

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	gateway "github.com/agile6/mcp-auth-gateway"
	"github.com/agile6/mcp-auth-gateway/config"
	"github.com/agile6/mcp-auth-gateway/tools"
)

// AuthAPI holds the HTTP layer's dependencies.
type AuthAPI struct {
	states    *gateway.StateManager
	approvals *gateway.ApprovalManager
	callback  *gateway.CallbackHandler
	tokens    *gateway.TokenService
	admin     *gateway.TokenAdmin
	validator *gateway.Validator
	sessions  *gateway.SessionIssuer
	idp       gateway.IdentityProvider
	tools     tools.Handler
	cfg       *config.GatewayConfig
}

// NewAuthAPI initializes the HTTP API.
func NewAuthAPI(
	states *gateway.StateManager,
	approvals *gateway.ApprovalManager,
	callback *gateway.CallbackHandler,
	tokenService *gateway.TokenService,
	admin *gateway.TokenAdmin,
	validator *gateway.Validator,
	sessions *gateway.SessionIssuer,
	idp gateway.IdentityProvider,
	toolHandler tools.Handler,
	cfg *config.GatewayConfig,
) *AuthAPI {
	return &AuthAPI{
		states:    states,
		approvals: approvals,
		callback:  callback,
		tokens:    tokenService,
		admin:     admin,
		validator: validator,
		sessions:  sessions,
		idp:       idp,
		tools:     toolHandler,
		cfg:       cfg,
	}
}

// RegisterRoutes registers every gateway route.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.Use(SecurityHeadersMiddleware())

	e.GET("/authorize", a.AuthorizeHandler)
	e.POST("/authorize", a.ConsentHandler)
	e.GET("/callback", a.CallbackHandler)
	e.POST("/token", a.TokenHandler)
	e.GET("/health", a.HealthHandler)

	e.POST("/mcp", a.MCPHandler, a.RouteAuth)

	admin := e.Group("/admin", a.RequireAdminKey)
	admin.GET("/users/:userId/tokens", a.ListUserTokensHandler)
	admin.POST("/users/:userId/tokens", a.GenerateTokenHandler)
	admin.GET("/users/:userId/tokens/stats", a.UserTokenStatsHandler)
	admin.POST("/users/:userId/tokens/revoke", a.BulkRevokeHandler)
	admin.GET("/tokens/:tokenId", a.TokenMetadataHandler)
	admin.POST("/tokens/:tokenId/revoke", a.RevokeTokenHandler)
	admin.POST("/tokens/:tokenId/unrevoke", a.UnrevokeTokenHandler)
	admin.PATCH("/tokens/:tokenId", a.UpdateDescriptionHandler)
	admin.DELETE("/tokens/:tokenId", a.DeleteTokenHandler)
}

// AuthorizeHandler begins or resumes the consent flow. A previously
// approved client skips the consent screen but still goes through a fresh
// createState round trip before the provider redirect.
func (a *AuthAPI) AuthorizeHandler(c echo.Context) error {
	req := gateway.AuthorizeRequest{
		ClientID:     c.QueryParam("client_id"),
		RedirectURI:  c.QueryParam("redirect_uri"),
		Scope:        c.QueryParam("scope"),
		State:        c.QueryParam("state"),
		ResponseType: c.QueryParam("response_type"),
	}
	if req.ClientID == "" || req.RedirectURI == "" {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("client_id and redirect_uri are required"))
	}
	if req.ResponseType != "" && req.ResponseType != "code" {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("unsupported response_type"))
	}
	if !a.cfg.OAuthConfigured() {
		return c.JSON(http.StatusServiceUnavailable, gateway.NewServerError("oauth is not configured"))
	}

	if cookie, err := c.Cookie(gateway.ApprovalCookieName); err == nil &&
		a.approvals.IsApproved(cookie.Value, req.ClientID) {
		return a.redirectToProvider(c, req)
	}

	return a.renderConsent(c, req)
}

// ConsentHandler accepts the consent form. The embedded CSRF token is a
// state token bound to the browser's cookie, so a cross-site form post
// cannot approve a client on the user's behalf.
func (a *AuthAPI) ConsentHandler(c echo.Context) error {
	csrf := c.FormValue("csrf_token")
	authReq, err := a.states.ValidateState(c.Request().Context(), csrf, bindingCookieValue(c))
	if err != nil {
		c.SetCookie(a.states.ClearBindingCookie())
		return c.JSON(http.StatusBadRequest, gateway.AuthErrorFrom(err))
	}

	if c.FormValue("action") != "approve" {
		c.SetCookie(a.states.ClearBindingCookie())
		redirect, rerr := gateway.DeniedRedirect(authReq)
		if rerr != nil {
			return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("invalid redirect_uri"))
		}
		return c.Redirect(http.StatusFound, redirect)
	}

	var approvalCookieValue string
	if cookie, err := c.Cookie(gateway.ApprovalCookieName); err == nil {
		approvalCookieValue = cookie.Value
	}
	c.SetCookie(a.approvals.Approve(approvalCookieValue, authReq.ClientID))

	return a.redirectToProvider(c, *authReq)
}

// redirectToProvider runs createState and sends the browser upstream with
// a fresh binding cookie.
func (a *AuthAPI) redirectToProvider(c echo.Context, req gateway.AuthorizeRequest) error {
	state, cookie, err := a.states.CreateState(c.Request().Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("failed to create oauth state")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("failed to start authorization"))
	}
	c.SetCookie(cookie)
	return c.Redirect(http.StatusFound, a.idp.AuthCodeURL(state))
}

// renderConsent shows the minimal consent form. The form's CSRF token is
// itself a state token, consumed by ConsentHandler.
func (a *AuthAPI) renderConsent(c echo.Context, req gateway.AuthorizeRequest) error {
	csrf, cookie, err := a.states.CreateState(c.Request().Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("failed to create consent state")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("failed to render consent"))
	}
	c.SetCookie(cookie)

	page := fmt.Sprintf(consentPage,
		html.EscapeString(req.ClientID),
		html.EscapeString(csrf),
	)
	return c.HTML(http.StatusOK, page)
}

const consentPage = `<!doctype html>
<html>
<head><title>Authorize access</title></head>
<body>
<h1>Authorize access</h1>
<p>Client <strong>%s</strong> is requesting access to your account.</p>
<form method="post" action="/authorize">
<input type="hidden" name="csrf_token" value="%s">
<button type="submit" name="action" value="approve">Approve</button>
<button type="submit" name="action" value="deny">Deny</button>
</form>
</body>
</html>`

// CallbackHandler is the identity provider's redirect target. The binding
// cookie is single-use and cleared on this response whether the callback
// succeeds or fails.
func (a *AuthAPI) CallbackHandler(c echo.Context) error {
	c.SetCookie(a.states.ClearBindingCookie())

	if provErr := c.QueryParam("error"); provErr != "" {
		return c.JSON(http.StatusBadRequest, &gateway.AuthError{
			Code:        provErr,
			Description: c.QueryParam("error_description"),
		})
	}

	result, err := a.callback.Handle(
		c.Request().Context(),
		c.QueryParam("state"),
		c.QueryParam("code"),
		bindingCookieValue(c),
	)
	if err != nil {
		log.Warn().Err(err).Msg("oauth callback failed")
		return c.JSON(callbackStatus(err), gateway.AuthErrorFrom(err))
	}

	return c.Redirect(http.StatusFound, result.RedirectURI)
}

func callbackStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrStateNotFound), errors.Is(err, gateway.ErrCSRFMismatch):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrDomainRejected), errors.Is(err, gateway.ErrMissingEmail):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// TokenHandler exchanges a one-time authorization grant for the session
// bearer credential.
func (a *AuthAPI) TokenHandler(c echo.Context) error {
	if c.FormValue("grant_type") != "authorization_code" {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("unsupported grant_type"))
	}
	code := c.FormValue("code")
	clientID := c.FormValue("client_id")
	if code == "" || clientID == "" {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("code and client_id are required"))
	}

	accessToken, expiresIn, err := a.callback.ExchangeGrant(c.Request().Context(), code, clientID)
	if err != nil {
		if errors.Is(err, gateway.ErrGrantNotFound) {
			return c.JSON(http.StatusBadRequest, gateway.AuthErrorFrom(err))
		}
		log.Error().Err(err).Msg("grant exchange failed")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("grant exchange failed"))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(expiresIn.Seconds()),
	})
}

// HealthHandler reports configuration booleans; unauthenticated.
func (a *AuthAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"oauth_configured":        a.cfg.OAuthConfigured(),
		"upstream_key_configured": a.cfg.UpstreamAPIKey != "",
		"token_system_enabled":    a.cfg.TokenSystemEnabled,
		"require_authentication":  a.cfg.RequireAuth,
	})
}

func bindingCookieValue(c echo.Context) string {
	cookie, err := c.Cookie(gateway.BindingCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
