package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) (*Validator, *TokenService) {
	t.Helper()
	svc := newTestTokenService(t)
	return NewValidator(svc, []string{"agile6.com"}, true, true), svc
}

func TestValidateOAuthIdentity(t *testing.T) {
	v, _ := newTestValidator(t)

	res, err := v.Validate(context.Background(), AuthProps{
		OAuth:     true,
		UserEmail: "dev@agile6.com",
		UserName:  "Dev",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodOAuth, res.Method)
	assert.Equal(t, "dev@agile6.com", res.Email)
	assert.Equal(t, "Dev", res.Name)
	assert.Empty(t, res.TokenID, "exactly one variant is populated")
}

func TestValidateMCPToken(t *testing.T) {
	v, svc := newTestValidator(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	res, err := v.Validate(ctx, AuthProps{MCPAccessToken: token}, "")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodMCPToken, res.Method)
	assert.Equal(t, data.TokenID, res.TokenID)
	assert.Empty(t, res.Email)
}

// OAuth wins over a simultaneously present MCP token, valid or not.
func TestValidatePrecedence(t *testing.T) {
	v, svc := newTestValidator(t)
	ctx := context.Background()

	token, _, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	res, err := v.Validate(ctx, AuthProps{
		OAuth:          true,
		UserEmail:      "dev@agile6.com",
		MCPAccessToken: token,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodOAuth, res.Method)
}

// A broken OAuth identity fails outright instead of falling through to
// the token the same request carried.
func TestValidateOAuthFailureDoesNotFallThrough(t *testing.T) {
	v, svc := newTestValidator(t)
	ctx := context.Background()

	token, _, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	_, err = v.Validate(ctx, AuthProps{
		OAuth:          true,
		MCPAccessToken: token,
	}, "")
	assert.ErrorIs(t, err, ErrMissingEmail)

	_, err = v.Validate(ctx, AuthProps{
		OAuth:          true,
		UserEmail:      "dev@evil.com",
		MCPAccessToken: token,
	}, "")
	assert.ErrorIs(t, err, ErrDomainRejected)
}

func TestValidateNoCredentials(t *testing.T) {
	v, _ := newTestValidator(t)

	_, err := v.Validate(context.Background(), AuthProps{}, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

// A disabled token system rejects the header path outright; a valid
// token is not an exception.
func TestValidateTokenSystemDisabled(t *testing.T) {
	svc := newTestTokenService(t)
	v := NewValidator(svc, []string{"agile6.com"}, false, true)
	ctx := context.Background()

	token, _, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	_, err = v.Validate(ctx, AuthProps{MCPAccessToken: token}, "")
	assert.ErrorIs(t, err, ErrTokenSystemDisabled)

	// OAuth is unaffected by the token system switch.
	res, err := v.Validate(ctx, AuthProps{OAuth: true, UserEmail: "dev@agile6.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodOAuth, res.Method)
}

// With requireAuth off, only credential-less requests become anonymous;
// presented credentials are still validated.
func TestValidateOptionalAuth(t *testing.T) {
	svc := newTestTokenService(t)
	v := NewValidator(svc, []string{"agile6.com"}, true, false)
	ctx := context.Background()

	res, err := v.Validate(ctx, AuthProps{}, "")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodAnonymous, res.Method)
	assert.Empty(t, res.Email)
	assert.Empty(t, res.TokenID)

	_, err = v.Validate(ctx, AuthProps{MCPAccessToken: "bogus"}, "")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = v.Validate(ctx, AuthProps{OAuth: true, UserEmail: "dev@evil.com"}, "")
	assert.ErrorIs(t, err, ErrDomainRejected)
}

func TestValidateTokenFailuresPropagate(t *testing.T) {
	v, svc := newTestValidator(t)
	ctx := context.Background()

	_, err := v.Validate(ctx, AuthProps{MCPAccessToken: "bogus"}, "")
	assert.ErrorIs(t, err, ErrMalformedToken)

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, data.TokenID, "gone"))

	_, err = v.Validate(ctx, AuthProps{MCPAccessToken: token}, "")
	assert.ErrorIs(t, err, ErrTokenRevoked)
}
