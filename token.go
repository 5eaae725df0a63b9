package gateway

import "time"

// TokenPrefix is the version prefix carried by every issued MCP token.
// The opaque secret after the prefix is 32 random bytes, base64url.
const TokenPrefix = "mcp_v1_"

// Key-value namespaces. The store is indexed by token hash, never by the
// raw secret.
const (
	tokenHashKeyPrefix = "token:hash:"
	tokenIDKeyPrefix   = "token:id:"
	userTokensPrefix   = "user:tokens:"
	revokedTokensKey   = "revoked:tokens"
	oauthStatePrefix   = "oauth:state:"
	oauthGrantPrefix   = "oauth:grant:"
)

func tokenHashKey(hash string) string  { return tokenHashKeyPrefix + hash }
func tokenIDKey(tokenID string) string { return tokenIDKeyPrefix + tokenID }
func userTokensKey(userID string) string {
	return userTokensPrefix + userID
}
func oauthStateKey(state string) string { return oauthStatePrefix + state }
func oauthGrantKey(code string) string  { return oauthGrantPrefix + code }

// TokenMetadata carries best-effort usage bookkeeping. Updates race under
// concurrent verification and the counter is monotonic only in expectation.
type TokenMetadata struct {
	UsageCount     int    `json:"usageCount"`
	LastUsedFromIP string `json:"lastUsedFromIp,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
}

// MCPTokenData is the persisted record for one issued long-lived credential.
// The raw secret is returned exactly once at generation time; only its
// sha256 hash is stored.
type MCPTokenData struct {
	TokenID          string        `json:"tokenId"`
	UserID           string        `json:"userId"`
	TokenHash        string        `json:"tokenHash"`
	Description      string        `json:"description,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	ExpiresAt        *time.Time    `json:"expiresAt"` // nil means the token never expires
	LastUsedAt       *time.Time    `json:"lastUsedAt"`
	RevokedAt        *time.Time    `json:"revokedAt"`
	RevocationReason string        `json:"revocationReason,omitempty"`
	Metadata         TokenMetadata `json:"metadata"`
}

// Revoked reports whether the record carries a revocation mark.
func (t *MCPTokenData) Revoked() bool { return t.RevokedAt != nil }

// AuthMethod tags which authentication path produced an AuthResult.
type AuthMethod string

const (
	AuthMethodOAuth    AuthMethod = "oauth"
	AuthMethodMCPToken AuthMethod = "mcp-token"

	// AuthMethodAnonymous is issued only when REQUIRE_AUTH is off and the
	// request carried no credentials at all.
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// AuthResult is the single identity shape consumed by downstream tool
// handlers. Exactly one variant's fields are populated per result.
type AuthResult struct {
	Method AuthMethod `json:"method"`

	// OAuth variant.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// MCP token variant.
	TokenID string `json:"tokenId,omitempty"`
}

// AuthProps is the raw identity material the request router injects into
// the execution context before validation. OAuth and MCPAccessToken may
// both be set on the same request; the validator's precedence rule decides.
type AuthProps struct {
	// OAuth is true when the request carried a verified OAuth session,
	// even if the session is missing claims.
	OAuth     bool
	UserEmail string
	UserName  string

	// MCPAccessToken is the raw value of the x-mcp-access-token header.
	MCPAccessToken string
}
