package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agile6/mcp-auth-gateway/kv"
)

// secretLen is the entropy of the opaque part of a token, in bytes.
const secretLen = 32

// TokenService issues, verifies, revokes and deletes long-lived MCP
// tokens. All durable state lives in the injected kv.Store; the service
// itself holds no per-token memory and is safe for concurrent use.
//
// The store is eventually consistent, so a freshly revoked token can still
// verify on a node that has not observed the revocation write. This is an
// accepted residual risk, not something the service works around.
type TokenService struct {
	store kv.Store

	// tokenTTL bounds new tokens' lifetime. Zero means tokens never
	// expire and stay valid until explicitly revoked, which is the
	// default policy.
	tokenTTL time.Duration

	// usage tracks in-flight background metadata writes so tests can
	// wait for them.
	usage sync.WaitGroup
}

// NewTokenService creates a new TokenService instance.
func NewTokenService(store kv.Store, tokenTTL time.Duration) *TokenService {
	return &TokenService{store: store, tokenTTL: tokenTTL}
}

// Generate creates a new token for userID and returns the raw secret. The
// secret is never persisted or retrievable again; only its hash is stored.
func (s *TokenService) Generate(ctx context.Context, userID, description, requestIP, userAgent string) (string, *MCPTokenData, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString(b)

	now := time.Now().UTC()
	data := &MCPTokenData{
		TokenID:     uuid.NewString(),
		UserID:      userID,
		TokenHash:   HashToken(token),
		Description: description,
		CreatedAt:   now,
		Metadata: TokenMetadata{
			LastUsedFromIP: requestIP,
			UserAgent:      userAgent,
		},
	}
	if s.tokenTTL > 0 {
		exp := now.Add(s.tokenTTL)
		data.ExpiresAt = &exp
	}

	if err := s.putRecord(ctx, data); err != nil {
		return "", nil, err
	}
	if err := s.store.Put(ctx, tokenIDKey(data.TokenID), []byte(data.TokenHash), 0); err != nil {
		s.discardPartial(ctx, data)
		return "", nil, fmt.Errorf("failed to write token id index: %w", err)
	}
	if err := s.appendToList(ctx, userTokensKey(userID), data.TokenID); err != nil {
		s.discardPartial(ctx, data)
		return "", nil, fmt.Errorf("failed to update user token list: %w", err)
	}

	log.Info().
		Str("token_id", data.TokenID).
		Str("user_id", userID).
		Msg("issued mcp token")

	return token, data, nil
}

// Verify checks a raw token and returns the mcp-token AuthResult variant.
// Failures map onto ErrMalformedToken, ErrTokenNotFound, ErrTokenRevoked
// and ErrTokenExpired. On success, usage metadata is updated in the
// background so verification latency is not coupled to store writes.
func (s *TokenService) Verify(ctx context.Context, token, requestIP string) (*AuthResult, error) {
	if err := checkTokenFormat(token); err != nil {
		return nil, err
	}

	data, err := s.getRecordByHash(ctx, HashToken(token))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	if data.Revoked() {
		return nil, ErrTokenRevoked
	}
	if data.ExpiresAt != nil && time.Now().After(*data.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	s.touchUsageAsync(ctx, data.TokenHash, requestIP)

	return &AuthResult{Method: AuthMethodMCPToken, TokenID: data.TokenID}, nil
}

// Revoke soft-deletes a token: the record stays for audit, verification
// starts failing. Revoking an already-revoked token succeeds.
func (s *TokenService) Revoke(ctx context.Context, tokenID, reason string) error {
	data, err := s.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if !data.Revoked() {
		now := time.Now().UTC()
		data.RevokedAt = &now
		data.RevocationReason = reason
		if err := s.putRecord(ctx, data); err != nil {
			return err
		}
	}
	if err := s.appendToList(ctx, revokedTokensKey, tokenID); err != nil {
		return fmt.Errorf("failed to update revoked list: %w", err)
	}

	log.Info().
		Str("token_id", tokenID).
		Str("reason", reason).
		Msg("revoked mcp token")

	return nil
}

// Unrevoke clears a token's revocation mark. Admin-only and deliberately
// dangerous: the credential becomes valid again immediately.
func (s *TokenService) Unrevoke(ctx context.Context, tokenID string) error {
	data, err := s.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if data.Revoked() {
		data.RevokedAt = nil
		data.RevocationReason = ""
		if err := s.putRecord(ctx, data); err != nil {
			return err
		}
	}
	if err := s.removeFromList(ctx, revokedTokensKey, tokenID); err != nil {
		return fmt.Errorf("failed to update revoked list: %w", err)
	}

	log.Warn().Str("token_id", tokenID).Msg("unrevoked mcp token")

	return nil
}

// Delete irreversibly removes the record and every index entry, including
// the user's token-list membership that revocation preserves.
func (s *TokenService) Delete(ctx context.Context, tokenID string) error {
	data, err := s.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, tokenHashKey(data.TokenHash)); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	if err := s.store.Delete(ctx, tokenIDKey(tokenID)); err != nil {
		return fmt.Errorf("failed to delete token id index: %w", err)
	}
	if err := s.removeFromList(ctx, userTokensKey(data.UserID), tokenID); err != nil {
		return fmt.Errorf("failed to update user token list: %w", err)
	}
	if err := s.removeFromList(ctx, revokedTokensKey, tokenID); err != nil {
		return fmt.Errorf("failed to update revoked list: %w", err)
	}

	log.Info().Str("token_id", tokenID).Msg("hard-deleted mcp token")

	return nil
}

// GetTokenMetadata returns the stored record for a token id.
func (s *TokenService) GetTokenMetadata(ctx context.Context, tokenID string) (*MCPTokenData, error) {
	return s.getRecordByID(ctx, tokenID)
}

// RevokedTokenIDs returns the global revocation list.
func (s *TokenService) RevokedTokenIDs(ctx context.Context) ([]string, error) {
	return s.getList(ctx, revokedTokensKey)
}

// UserTokenIDs returns every token id ever issued to userID, including
// revoked ones; membership is removed only by hard delete.
func (s *TokenService) UserTokenIDs(ctx context.Context, userID string) ([]string, error) {
	return s.getList(ctx, userTokensKey(userID))
}

// discardPartial removes the keys an aborted Generate already wrote, so
// a failed issuance cannot leave a verifiable token invisible to the
// admin surface. Best effort: a failed delete leaves a dangling record,
// which the admin listing already tolerates.
func (s *TokenService) discardPartial(ctx context.Context, data *MCPTokenData) {
	if err := s.store.Delete(ctx, tokenHashKey(data.TokenHash)); err != nil {
		log.Warn().Err(err).Str("token_id", data.TokenID).Msg("failed to discard partial token record")
	}
	if err := s.store.Delete(ctx, tokenIDKey(data.TokenID)); err != nil {
		log.Warn().Err(err).Str("token_id", data.TokenID).Msg("failed to discard partial token id index")
	}
}

func checkTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ErrMalformedToken
	}
	opaque := token[len(TokenPrefix):]
	if len(opaque) != base64.RawURLEncoding.EncodedLen(secretLen) {
		return ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(opaque); err != nil {
		return ErrMalformedToken
	}
	return nil
}

// touchUsageAsync issues the usage-metadata write without blocking the
// caller. The write runs on a detached context so a finished request does
// not cancel it, and races between concurrent verifications are accepted:
// the counter is an approximation, not an audit log.
func (s *TokenService) touchUsageAsync(ctx context.Context, tokenHash, requestIP string) {
	s.usage.Add(1)
	go func() {
		defer s.usage.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		data, err := s.getRecordByHash(ctx, tokenHash)
		if err != nil {
			log.Warn().Err(err).Msg("usage update: failed to reload token record")
			return
		}
		now := time.Now().UTC()
		data.LastUsedAt = &now
		data.Metadata.UsageCount++
		if requestIP != "" {
			data.Metadata.LastUsedFromIP = requestIP
		}
		if err := s.putRecord(ctx, data); err != nil {
			log.Warn().Err(err).Msg("usage update: failed to write token record")
		}
	}()
}

// waitUsageUpdates blocks until in-flight background writes finish. Tests
// only.
func (s *TokenService) waitUsageUpdates() {
	s.usage.Wait()
}

func (s *TokenService) putRecord(ctx context.Context, data *MCPTokenData) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := s.store.Put(ctx, tokenHashKey(data.TokenHash), buf, 0); err != nil {
		return fmt.Errorf("failed to write token record: %w", err)
	}
	return nil
}

func (s *TokenService) getRecordByHash(ctx context.Context, hash string) (*MCPTokenData, error) {
	buf, err := s.store.Get(ctx, tokenHashKey(hash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read token record: %w", err)
	}
	var data MCPTokenData
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &data, nil
}

func (s *TokenService) getRecordByID(ctx context.Context, tokenID string) (*MCPTokenData, error) {
	hash, err := s.store.Get(ctx, tokenIDKey(tokenID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to read token id index: %w", err)
	}
	data, err := s.getRecordByHash(ctx, string(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	return data, err
}

// Token id lists are stored as JSON string arrays. Read-modify-write is
// not atomic across nodes; the lists tolerate duplicates being avoided
// only best-effort, matching the store's consistency model.
func (s *TokenService) getList(ctx context.Context, key string) ([]string, error) {
	buf, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read list %q: %w", key, err)
	}
	var ids []string
	if err := json.Unmarshal(buf, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list %q: %w", key, err)
	}
	return ids, nil
}

func (s *TokenService) putList(ctx context.Context, key string, ids []string) error {
	buf, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal list %q: %w", key, err)
	}
	if err := s.store.Put(ctx, key, buf, 0); err != nil {
		return fmt.Errorf("failed to write list %q: %w", key, err)
	}
	return nil
}

func (s *TokenService) appendToList(ctx context.Context, key, id string) error {
	ids, err := s.getList(ctx, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.putList(ctx, key, append(ids, id))
}

func (s *TokenService) removeFromList(ctx context.Context, key, id string) error {
	ids, err := s.getList(ctx, key)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	return s.putList(ctx, key, kept)
}
