package gateway

import (
	"context"
)

// Validator collapses both authentication paths into one AuthResult and
// enforces the deployment's authentication policy.
type Validator struct {
	tokens             *TokenService
	allowedDomains     []string
	tokenSystemEnabled bool
	requireAuth        bool
}

// NewValidator creates the unified validator. tokenSystemEnabled gates
// the x-mcp-access-token path; requireAuth, when false, lets requests
// with no credentials through as anonymous.
func NewValidator(tokens *TokenService, allowedDomains []string, tokenSystemEnabled, requireAuth bool) *Validator {
	return &Validator{
		tokens:             tokens,
		allowedDomains:     allowedDomains,
		tokenSystemEnabled: tokenSystemEnabled,
		requireAuth:        requireAuth,
	}
}

// Validate returns exactly one AuthResult variant or an error from the
// sentinel taxonomy in errors.go.
//
// OAuth identity takes precedence over an MCP token when both are present,
// so a client sending stale headers alongside a valid browser session is
// never confused into the token path. An OAuth identity that is present
// but unusable (no email, or a domain outside the allow-list) fails
// immediately rather than falling through to token checking. Presented
// credentials are always validated, even when requireAuth is off; the
// anonymous result exists only for requests carrying none.
func (v *Validator) Validate(ctx context.Context, props AuthProps, requestIP string) (*AuthResult, error) {
	if props.OAuth {
		if props.UserEmail == "" {
			return nil, ErrMissingEmail
		}
		if !EmailDomainAllowed(props.UserEmail, v.allowedDomains) {
			return nil, ErrDomainRejected
		}
		return &AuthResult{
			Method: AuthMethodOAuth,
			Email:  props.UserEmail,
			Name:   props.UserName,
		}, nil
	}

	if props.MCPAccessToken != "" {
		if !v.tokenSystemEnabled {
			return nil, ErrTokenSystemDisabled
		}
		return v.tokens.Verify(ctx, props.MCPAccessToken, requestIP)
	}

	if !v.requireAuth {
		return &AuthResult{Method: AuthMethodAnonymous}, nil
	}
	return nil, ErrUnauthenticated
}
