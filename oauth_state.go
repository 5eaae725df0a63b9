package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/agile6/mcp-auth-gateway/kv"
)

// BindingCookieName is the single-use session-binding cookie set when a
// state token is created and required again on the callback.
const BindingCookieName = "mcp_oauth_bind"

// DefaultStateTTL bounds how long a pending authorization may sit between
// redirect and callback.
const DefaultStateTTL = 10 * time.Minute

// AuthorizeRequest captures the original authorization parameters so the
// flow can resume after the identity provider redirects back.
type AuthorizeRequest struct {
	ClientID     string `json:"clientId"`
	RedirectURI  string `json:"redirectUri"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"` // the downstream client's own state
	ResponseType string `json:"responseType,omitempty"`
}

type stateRecord struct {
	Request   AuthorizeRequest `json:"authRequest"`
	CreatedAt time.Time        `json:"createdAt"`
}

// StateManager implements the CSRF protocol around OAuth state tokens. A
// state is valid only if it exists in storage AND the request carries the
// binding cookie minted when that exact state was created; possessing one
// of the two is insufficient.
type StateManager struct {
	store         kv.Store
	cookieKey     []byte
	ttl           time.Duration
	secureCookies bool
}

// NewStateManager derives the cookie-signing key from the gateway master
// secret and returns a manager writing states with the given TTL.
func NewStateManager(store kv.Store, secret []byte, ttl time.Duration, secureCookies bool) (*StateManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("state manager requires a non-empty secret")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	key, err := deriveKey(secret, "mcp-auth-gateway/oauth-state-binding/v1")
	if err != nil {
		return nil, err
	}
	return &StateManager{
		store:         store,
		cookieKey:     key,
		ttl:           ttl,
		secureCookies: secureCookies,
	}, nil
}

// CreateState persists the authorization request under a fresh random
// state token and returns the token together with the binding cookie that
// must be set on the response.
func (m *StateManager) CreateState(ctx context.Context, req AuthorizeRequest) (string, *http.Cookie, error) {
	state, err := randomToken()
	if err != nil {
		return "", nil, err
	}

	buf, err := json.Marshal(stateRecord{Request: req, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal state record: %w", err)
	}
	if err := m.store.Put(ctx, oauthStateKey(state), buf, m.ttl); err != nil {
		return "", nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	cookie := &http.Cookie{
		Name:     BindingCookieName,
		Value:    m.sign(state),
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	return state, cookie, nil
}

// ValidateState consumes a state token. The lookup failing yields
// ErrStateNotFound; a missing or non-matching binding cookie yields
// ErrCSRFMismatch. The state is deleted on any consumption attempt that
// found it, so a replay after a CSRF failure also fails.
//
// Callers must clear the binding cookie on the response regardless of the
// outcome; ClearBindingCookie builds the clearing instruction.
func (m *StateManager) ValidateState(ctx context.Context, state, bindingCookie string) (*AuthorizeRequest, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}

	buf, err := m.store.Get(ctx, oauthStateKey(state))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth state: %w", err)
	}

	// Single use: consumed whether or not the cookie check passes.
	if err := m.store.Delete(ctx, oauthStateKey(state)); err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	if !m.verify(state, bindingCookie) {
		return nil, ErrCSRFMismatch
	}

	var rec stateRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state record: %w", err)
	}
	return &rec.Request, nil
}

// ClearBindingCookie returns the cookie-clearing instruction for the
// response that consumes a state.
func (m *StateManager) ClearBindingCookie() *http.Cookie {
	return &http.Cookie{
		Name:     BindingCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *StateManager) sign(state string) string {
	mac := hmac.New(sha256.New, m.cookieKey)
	mac.Write([]byte(state))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *StateManager) verify(state, cookieValue string) bool {
	if cookieValue == "" {
		return false
	}
	got, err := base64.RawURLEncoding.DecodeString(cookieValue)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, m.cookieKey)
	mac.Write([]byte(state))
	return hmac.Equal(got, mac.Sum(nil))
}

// randomToken returns 32 bytes of entropy, base64url without padding.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// deriveKey expands the master secret into a purpose-bound 32-byte key so
// cookie MACs, approval MACs and session signatures never share key
// material.
func deriveKey(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
