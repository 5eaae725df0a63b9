package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUserTokens(t *testing.T) {
	svc := newTestTokenService(t)
	admin := NewTokenAdmin(svc)
	ctx := context.Background()

	_, first, err := svc.Generate(ctx, "dev@agile6.com", "first", "", "")
	require.NoError(t, err)
	_, second, err := svc.Generate(ctx, "dev@agile6.com", "second", "", "")
	require.NoError(t, err)
	_, _, err = svc.Generate(ctx, "other@agile6.com", "not hers", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, second.TokenID, "rotated"))

	records, err := admin.ListUserTokens(ctx, "dev@agile6.com")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.TokenID, records[0].TokenID)
	assert.Equal(t, second.TokenID, records[1].TokenID)
	assert.True(t, records[1].Revoked(), "revoked tokens stay listed")
}

func TestListUserTokensSkipsDanglingEntries(t *testing.T) {
	svc := newTestTokenService(t)
	admin := NewTokenAdmin(svc)
	ctx := context.Background()

	_, keep, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)
	_, gone, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	// Simulate a dangling list entry: the record vanished but the list
	// write has not caught up.
	require.NoError(t, svc.store.Delete(ctx, tokenIDKey(gone.TokenID)))

	records, err := admin.ListUserTokens(ctx, "dev@agile6.com")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, keep.TokenID, records[0].TokenID)
}

func TestUserTokenStats(t *testing.T) {
	svc := newTestTokenService(t)
	admin := NewTokenAdmin(svc)
	ctx := context.Background()

	tokenA, a, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)
	_, b, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, tokenA, "")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, tokenA, "")
	require.NoError(t, err)
	svc.waitUsageUpdates()

	require.NoError(t, svc.Revoke(ctx, b.TokenID, "unused"))

	stats, err := admin.Stats(ctx, "dev@agile6.com")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Revoked)
	assert.Equal(t, 2, stats.TotalUsage)
	require.NotNil(t, stats.LastUsedAt)

	rec, err := svc.GetTokenMetadata(ctx, a.TokenID)
	require.NoError(t, err)
	assert.Equal(t, *rec.LastUsedAt, *stats.LastUsedAt)
}

func TestRevokeAllUserTokens(t *testing.T) {
	svc := newTestTokenService(t)
	admin := NewTokenAdmin(svc)
	ctx := context.Background()

	tokens := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		token, data, err := svc.Generate(ctx, "dev@agile6.com", "", "", "")
		require.NoError(t, err)
		tokens = append(tokens, token)
		if i == 1 {
			// Pre-revoked tokens count as success, not failure.
			require.NoError(t, svc.Revoke(ctx, data.TokenID, "earlier"))
		}
	}

	revoked, err := admin.RevokeAllUserTokens(ctx, "dev@agile6.com", "offboarded")
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	for _, token := range tokens {
		_, err := svc.Verify(ctx, token, "")
		assert.ErrorIs(t, err, ErrTokenRevoked)
	}
}

func TestUpdateDescription(t *testing.T) {
	svc := newTestTokenService(t)
	admin := NewTokenAdmin(svc)
	ctx := context.Background()

	_, data, err := svc.Generate(ctx, "dev@agile6.com", "old", "", "")
	require.NoError(t, err)

	require.NoError(t, admin.UpdateDescription(ctx, data.TokenID, "new label"))

	rec, err := svc.GetTokenMetadata(ctx, data.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "new label", rec.Description)

	assert.ErrorIs(t, admin.UpdateDescription(ctx, "no-such-id", "x"), ErrTokenNotFound)
}
