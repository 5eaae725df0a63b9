package echo

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	gateway "github.com/agile6/mcp-auth-gateway"
	"github.com/agile6/mcp-auth-gateway/tools"
)

// MCPTokenHeader is the bearer header for the non-interactive path on
// protected endpoints.
const MCPTokenHeader = "x-mcp-access-token"

const authPropsContextKey = "gateway.authProps"

// RouteAuth is the request router for protected endpoints. A non-empty
// MCP token header short-circuits directly to the token path, bypassing
// the OAuth layer entirely; otherwise an OAuth session bearer, if any, is
// resolved into identity props. The middleware only injects props into
// the request context, it never rejects — the validator decides.
func (a *AuthAPI) RouteAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var props gateway.AuthProps

		if token := c.Request().Header.Get(MCPTokenHeader); token != "" {
			props.MCPAccessToken = token
		} else if bearer := bearerToken(c); bearer != "" {
			email, name, err := a.sessions.Verify(bearer)
			if err == nil {
				props.OAuth = true
				props.UserEmail = email
				props.UserName = name
			}
		}

		c.Set(authPropsContextKey, props)
		return next(c)
	}
}

// AuthPropsFromContext returns the identity props the router injected.
func AuthPropsFromContext(c echo.Context) gateway.AuthProps {
	props, _ := c.Get(authPropsContextKey).(gateway.AuthProps)
	return props
}

// MCPHandler is the protected endpoint. It resolves an AuthResult through
// the unified validator and dispatches the invocation to the registered
// tool handler.
func (a *AuthAPI) MCPHandler(c echo.Context) error {
	props := AuthPropsFromContext(c)

	auth, err := a.validator.Validate(c.Request().Context(), props, c.RealIP())
	if err != nil {
		return a.unauthorized(c, err)
	}

	var req tools.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("malformed tool request"))
	}
	if req.Tool == "" {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("tool name is required"))
	}

	resp, err := a.tools.Handle(c.Request().Context(), auth, &req)
	if err != nil {
		log.Error().Err(err).Str("tool", req.Tool).Msg("tool invocation failed")
		return c.JSON(http.StatusBadGateway, gateway.NewServerError("tool invocation failed"))
	}
	return c.JSON(http.StatusOK, resp)
}

// unauthorized maps validation failures to responses. Storage failures
// must surface as server errors, never masquerade as bad credentials.
func (a *AuthAPI) unauthorized(c echo.Context, err error) error {
	authErr := gateway.AuthErrorFrom(err)
	switch {
	case authErr.Code == gateway.CodeServerError:
		log.Error().Err(err).Msg("authentication check failed")
		return c.JSON(http.StatusInternalServerError, authErr)
	case errors.Is(err, gateway.ErrDomainRejected), errors.Is(err, gateway.ErrMissingEmail):
		return c.JSON(http.StatusForbidden, authErr)
	default:
		return c.JSON(http.StatusUnauthorized, authErr)
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
