package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agile6/mcp-auth-gateway/kv"
)

// failingStore rejects writes to one key namespace so error branches can
// be exercised.
type failingStore struct {
	kv.Store
	failPrefix string
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.HasPrefix(key, f.failPrefix) {
		return errors.New("store write failed")
	}
	return f.Store.Put(ctx, key, value, ttl)
}

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(store.Stop)
	return NewTokenService(store, 0)
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "ci token", "203.0.113.7", "curl/8.0")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.NotEmpty(t, data.TokenID)
	assert.Equal(t, "dev@agile6.com", data.UserID)
	assert.Nil(t, data.ExpiresAt, "default policy: tokens never expire")
	assert.NotContains(t, data.TokenHash, token[len(TokenPrefix):], "record must not contain the secret")

	res, err := svc.Verify(ctx, token, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, AuthMethodMCPToken, res.Method)
	assert.Equal(t, data.TokenID, res.TokenID)
	assert.Empty(t, res.Email)
}

func TestVerifyMalformed(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	for _, token := range []string{
		"",
		"not-a-token",
		"mcp_v1_",
		"mcp_v1_tooshort",
		"mcp_v2_" + strings.Repeat("A", 43),
		TokenPrefix + strings.Repeat("!", 43),
	} {
		_, err := svc.Verify(ctx, token, "")
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}
}

func TestVerifyNotFound(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Verify(context.Background(), TokenPrefix+strings.Repeat("A", 43), "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRevocationIsTerminal(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)
	otherToken, otherData, err := svc.Generate(ctx, "other@agile6.com", "", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, data.TokenID, "compromised"))

	_, err = svc.Verify(ctx, token, "")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Unrevoking an unrelated token changes nothing for the revoked one.
	require.NoError(t, svc.Unrevoke(ctx, otherData.TokenID))
	_, err = svc.Verify(ctx, token, "")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = svc.Verify(ctx, otherToken, "")
	assert.NoError(t, err)
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	_, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, data.TokenID, "first"))
	require.NoError(t, svc.Revoke(ctx, data.TokenID, "second"))

	rec, err := svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "first", rec.RevocationReason, "second revoke must not overwrite the original mark")

	revoked, err := svc.RevokedTokenIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{data.TokenID}, revoked)
}

func TestUnrevokeRestoresToken(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, data.TokenID, "mistake"))
	require.NoError(t, svc.Unrevoke(ctx, data.TokenID))

	res, err := svc.Verify(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, data.TokenID, res.TokenID)

	rec, err := svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Nil(t, rec.RevokedAt)
	assert.Empty(t, rec.RevocationReason)

	revoked, err := svc.RevokedTokenIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, revoked)
}

func TestHardDeleteRemovesAllIndexes(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, data.TokenID, "offboarded"))

	require.NoError(t, svc.Delete(ctx, data.TokenID))

	_, err = svc.Verify(ctx, token, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.GetTokenMetadata(ctx, data.TokenID)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	ids, err := svc.UserTokenIDs(ctx, "dev@agile6.com")
	require.NoError(t, err)
	assert.Empty(t, ids, "hard delete removes user list membership")

	revoked, err := svc.RevokedTokenIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, revoked)
}

// A failed issuance must not leave a verifiable record behind.
func TestGenerateDiscardsPartialStateOnFailure(t *testing.T) {
	ctx := context.Background()

	for _, failPrefix := range []string{tokenIDKeyPrefix, userTokensPrefix} {
		store := kv.NewMemoryStore()
		t.Cleanup(store.Stop)
		svc := NewTokenService(&failingStore{Store: store, failPrefix: failPrefix}, 0)

		_, _, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
		require.Error(t, err, "fail prefix %q", failPrefix)

		records, err := store.ListByPrefix(ctx, tokenHashKeyPrefix)
		require.NoError(t, err)
		assert.Empty(t, records, "fail prefix %q leaves a token record", failPrefix)

		ids, err := store.ListByPrefix(ctx, tokenIDKeyPrefix)
		require.NoError(t, err)
		assert.Empty(t, ids, "fail prefix %q leaves an id index entry", failPrefix)
	}
}

func TestUsageMetadataUpdates(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "198.51.100.1", "agent/1.0")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, token, "203.0.113.9")
	require.NoError(t, err)
	svc.waitUsageUpdates()

	rec, err := svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Metadata.UsageCount)
	assert.Equal(t, "203.0.113.9", rec.Metadata.LastUsedFromIP)
	assert.NotNil(t, rec.LastUsedAt)

	_, err = svc.Verify(ctx, token, "203.0.113.9")
	require.NoError(t, err)
	svc.waitUsageUpdates()

	rec, err = svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Metadata.UsageCount)
}

func TestConcurrentVerify(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, _, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			_, err := svc.Verify(ctx, token, "203.0.113.1")
			done <- err
		}()
	}
	for i := 0; i < 16; i++ {
		assert.NoError(t, <-done)
	}
	svc.waitUsageUpdates()
}

// Offboarding scenario: generate, use, revoke, audit.
func TestOffboardingScenario(t *testing.T) {
	svc := newTestTokenService(t)
	ctx := context.Background()

	token, data, err := svc.Generate(ctx, "dev@agile6.com", "laptop agent", "", "")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, token, "")
	require.NoError(t, err)
	svc.waitUsageUpdates()

	rec, err := svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Metadata.UsageCount)

	require.NoError(t, svc.Revoke(ctx, data.TokenID, "offboarded"))

	_, err = svc.Verify(ctx, token, "")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Soft delete: the record survives revocation for audit.
	rec, err = svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.NotNil(t, rec.RevokedAt)
	assert.Equal(t, "offboarded", rec.RevocationReason)

	ids, err := svc.UserTokenIDs(ctx, "dev@agile6.com")
	require.NoError(t, err)
	assert.Contains(t, ids, data.TokenID, "revocation keeps user list membership")
}
