package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenAdmin is the read/administer layer over TokenService: listing,
// statistics, bulk revocation and description edits. It never touches the
// store directly except through the service's index chain.
type TokenAdmin struct {
	tokens *TokenService
}

// NewTokenAdmin creates a new TokenAdmin.
func NewTokenAdmin(tokens *TokenService) *TokenAdmin {
	return &TokenAdmin{tokens: tokens}
}

// UserTokenStats aggregates one user's tokens.
type UserTokenStats struct {
	Total      int        `json:"total"`
	Active     int        `json:"active"`
	Revoked    int        `json:"revoked"`
	TotalUsage int        `json:"totalUsage"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
}

// ListUserTokens hydrates every token ever issued to userID via the
// id -> hash -> record chain. Dangling index entries (for example a
// hard-deleted record whose list removal has not propagated yet) are
// skipped with a warning instead of failing the listing.
func (a *TokenAdmin) ListUserTokens(ctx context.Context, userID string) ([]*MCPTokenData, error) {
	ids, err := a.tokens.UserTokenIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*MCPTokenData, 0, len(ids))
	for _, id := range ids {
		data, err := a.tokens.GetTokenMetadata(ctx, id)
		if errors.Is(err, ErrTokenNotFound) {
			log.Warn().
				Str("token_id", id).
				Str("user_id", userID).
				Msg("user token list references missing record")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Stats computes per-user token statistics.
func (a *TokenAdmin) Stats(ctx context.Context, userID string) (*UserTokenStats, error) {
	records, err := a.ListUserTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserTokenStats{Total: len(records)}
	for _, data := range records {
		if data.Revoked() {
			stats.Revoked++
		} else {
			stats.Active++
		}
		stats.TotalUsage += data.Metadata.UsageCount
		if data.LastUsedAt != nil {
			if stats.LastUsedAt == nil || data.LastUsedAt.After(*stats.LastUsedAt) {
				stats.LastUsedAt = data.LastUsedAt
			}
		}
	}
	return stats, nil
}

// RevokeAllUserTokens revokes every token belonging to userID, for
// off-boarding. Already-revoked tokens count as success; other failures
// are collected and the batch continues. Returns how many tokens are now
// revoked and the joined failures, if any.
func (a *TokenAdmin) RevokeAllUserTokens(ctx context.Context, userID, reason string) (int, error) {
	ids, err := a.tokens.UserTokenIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	var errs []error
	for _, id := range ids {
		if err := a.tokens.Revoke(ctx, id, reason); err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", id, err))
			continue
		}
		revoked++
	}

	log.Info().
		Str("user_id", userID).
		Int("revoked", revoked).
		Int("failed", len(errs)).
		Msg("bulk token revocation")

	return revoked, errors.Join(errs...)
}

// UpdateDescription replaces a token's human label.
func (a *TokenAdmin) UpdateDescription(ctx context.Context, tokenID, description string) error {
	data, err := a.tokens.GetTokenMetadata(ctx, tokenID)
	if err != nil {
		return err
	}
	data.Description = description
	return a.tokens.putRecord(ctx, data)
}
