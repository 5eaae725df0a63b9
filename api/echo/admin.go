package echo

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	gateway "github.com/agile6/mcp-auth-gateway"
)

// AdminKeyHeader authenticates operator calls to the /admin surface.
const AdminKeyHeader = "x-admin-key"

// RequireAdminKey guards the admin group with a constant-time key check.
// An unset ADMIN_API_KEY disables the surface entirely.
func (a *AuthAPI) RequireAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.cfg.AdminAPIKey == "" {
			return c.JSON(http.StatusForbidden, gateway.NewAccessDenied("admin api is disabled"))
		}
		key := c.Request().Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.AdminAPIKey)) != 1 {
			return c.JSON(http.StatusForbidden, gateway.NewAccessDenied("invalid admin key"))
		}
		return next(c)
	}
}

// GenerateTokenHandler issues a new MCP token for a user. The raw secret
// appears in this response and nowhere else, ever.
func (a *AuthAPI) GenerateTokenHandler(c echo.Context) error {
	var body struct {
		Description string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("malformed request body"))
	}

	token, data, err := a.tokens.Generate(
		c.Request().Context(),
		c.Param("userId"),
		body.Description,
		c.RealIP(),
		c.Request().UserAgent(),
	)
	if err != nil {
		log.Error().Err(err).Msg("token generation failed")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("token generation failed"))
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"token":   token,
		"tokenId": data.TokenID,
	})
}

// ListUserTokensHandler returns every token record for a user, revoked
// ones included.
func (a *AuthAPI) ListUserTokensHandler(c echo.Context) error {
	records, err := a.admin.ListUserTokens(c.Request().Context(), c.Param("userId"))
	if err != nil {
		log.Error().Err(err).Msg("token listing failed")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("token listing failed"))
	}
	return c.JSON(http.StatusOK, records)
}

// UserTokenStatsHandler returns per-user aggregate statistics.
func (a *AuthAPI) UserTokenStatsHandler(c echo.Context) error {
	stats, err := a.admin.Stats(c.Request().Context(), c.Param("userId"))
	if err != nil {
		log.Error().Err(err).Msg("token stats failed")
		return c.JSON(http.StatusInternalServerError, gateway.NewServerError("token stats failed"))
	}
	return c.JSON(http.StatusOK, stats)
}

// BulkRevokeHandler revokes every token belonging to a user, for
// off-boarding. Partial failures are reported, not aborted on.
func (a *AuthAPI) BulkRevokeHandler(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("malformed request body"))
	}

	revoked, err := a.admin.RevokeAllUserTokens(c.Request().Context(), c.Param("userId"), body.Reason)
	resp := map[string]any{"revoked": revoked}
	if err != nil {
		resp["errors"] = err.Error()
		return c.JSON(http.StatusMultiStatus, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// TokenMetadataHandler returns one token record by id.
func (a *AuthAPI) TokenMetadataHandler(c echo.Context) error {
	data, err := a.tokens.GetTokenMetadata(c.Request().Context(), c.Param("tokenId"))
	if err != nil {
		return a.adminTokenError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

// RevokeTokenHandler soft-revokes one token; idempotent.
func (a *AuthAPI) RevokeTokenHandler(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("malformed request body"))
	}
	if err := a.tokens.Revoke(c.Request().Context(), c.Param("tokenId"), body.Reason); err != nil {
		return a.adminTokenError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UnrevokeTokenHandler restores a revoked token.
func (a *AuthAPI) UnrevokeTokenHandler(c echo.Context) error {
	if err := a.tokens.Unrevoke(c.Request().Context(), c.Param("tokenId")); err != nil {
		return a.adminTokenError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateDescriptionHandler replaces a token's human label.
func (a *AuthAPI) UpdateDescriptionHandler(c echo.Context) error {
	var body struct {
		Description string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, gateway.NewInvalidRequest("malformed request body"))
	}
	if err := a.admin.UpdateDescription(c.Request().Context(), c.Param("tokenId"), body.Description); err != nil {
		return a.adminTokenError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteTokenHandler hard-deletes a token and all its index entries.
// Irreversible.
func (a *AuthAPI) DeleteTokenHandler(c echo.Context) error {
	if err := a.tokens.Delete(c.Request().Context(), c.Param("tokenId")); err != nil {
		return a.adminTokenError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *AuthAPI) adminTokenError(c echo.Context, err error) error {
	if errors.Is(err, gateway.ErrTokenNotFound) {
		return c.JSON(http.StatusNotFound, gateway.NewInvalidRequest("unknown token id"))
	}
	log.Error().Err(err).Msg("admin token operation failed")
	return c.JSON(http.StatusInternalServerError, gateway.NewServerError("token operation failed"))
}
