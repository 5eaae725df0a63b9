package gateway

import (
	"errors"
	"fmt"
)

// Authentication failure kinds. Callers, including automated agents, are
// expected to branch on these with errors.Is, so every condition gets its
// own sentinel rather than a generic failure.
var (
	ErrMalformedToken  = errors.New("malformed token")
	ErrTokenNotFound   = errors.New("token not found")
	ErrTokenRevoked    = errors.New("token revoked")
	ErrTokenExpired    = errors.New("token expired")
	ErrCSRFMismatch    = errors.New("state cookie binding mismatch")
	ErrStateNotFound   = errors.New("oauth state not found or expired")
	ErrDomainRejected  = errors.New("email domain not allowed")
	ErrMissingEmail    = errors.New("oauth identity has no email")
	ErrGrantNotFound       = errors.New("authorization grant not found or expired")
	ErrTokenSystemDisabled = errors.New("mcp token authentication is disabled")
	ErrUnauthenticated     = errors.New("Unauthorized: Authentication required (OAuth login or x-mcp-access-token header)")
)

// AuthError is the JSON shape returned on HTTP auth surfaces.
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

const (
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidGrant    = "invalid_grant"
	CodeAccessDenied    = "access_denied"
	CodeServerError     = "server_error"
	CodeUnauthenticated = "unauthorized"
)

func NewInvalidRequest(description string) *AuthError {
	return &AuthError{Code: CodeInvalidRequest, Description: description}
}

func NewInvalidGrant(description string) *AuthError {
	return &AuthError{Code: CodeInvalidGrant, Description: description}
}

func NewAccessDenied(description string) *AuthError {
	return &AuthError{Code: CodeAccessDenied, Description: description}
}

func NewServerError(description string) *AuthError {
	return &AuthError{Code: CodeServerError, Description: description}
}

// AuthErrorFrom maps the sentinel taxonomy onto the wire shape. Unknown
// errors become server_error without leaking internals.
func AuthErrorFrom(err error) *AuthError {
	switch {
	case errors.Is(err, ErrStateNotFound):
		return NewInvalidRequest("state not found or expired")
	case errors.Is(err, ErrCSRFMismatch):
		return NewInvalidRequest("state cookie binding mismatch")
	case errors.Is(err, ErrDomainRejected):
		return NewAccessDenied("email domain not allowed")
	case errors.Is(err, ErrMissingEmail):
		return NewAccessDenied("identity provider returned no email")
	case errors.Is(err, ErrGrantNotFound):
		return NewInvalidGrant("authorization grant not found or expired")
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenSystemDisabled), errors.Is(err, ErrUnauthenticated):
		return &AuthError{Code: CodeUnauthenticated, Description: err.Error()}
	default:
		return NewServerError("internal error")
	}
}
