package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/agile6/mcp-auth-gateway/kv"
	"github.com/agile6/mcp-auth-gateway/provider"
)

// grantTTL bounds how long a downstream client has to exchange its
// one-time authorization grant at the token endpoint.
const grantTTL = 5 * time.Minute

// IdentityProvider is the upstream dependency of the callback handler,
// satisfied by provider.Client and by fakes in tests.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Userinfo(ctx context.Context, tok *oauth2.Token) (*provider.Claims, error)
}

type grantRecord struct {
	ClientID  string    `json:"clientId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CallbackHandler drives the identity provider's redirect back into a
// completed authorization: state validation, code exchange, identity
// fetch, domain enforcement and the grant handed to the downstream
// client. Any failure before completion leaves no usable session behind.
type CallbackHandler struct {
	states         *StateManager
	idp            IdentityProvider
	store          kv.Store
	sessions       *SessionIssuer
	allowedDomains []string
}

// NewCallbackHandler wires the callback pipeline.
func NewCallbackHandler(states *StateManager, idp IdentityProvider, store kv.Store, sessions *SessionIssuer, allowedDomains []string) *CallbackHandler {
	return &CallbackHandler{
		states:         states,
		idp:            idp,
		store:          store,
		sessions:       sessions,
		allowedDomains: allowedDomains,
	}
}

// CallbackResult is the successful outcome: where to send the browser.
type CallbackResult struct {
	// RedirectURI is the downstream client's redirect target with the
	// one-time grant code and the client's own state attached.
	RedirectURI string
	Email       string
	Name        string
}

// Handle processes the provider redirect. The state and binding cookie
// come from the inbound request; the HTTP layer must clear the binding
// cookie on the response whether Handle succeeds or fails.
func (h *CallbackHandler) Handle(ctx context.Context, state, code, bindingCookie string) (*CallbackResult, error) {
	authReq, err := h.states.ValidateState(ctx, state, bindingCookie)
	if err != nil {
		return nil, err
	}

	tok, err := h.idp.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	claims, err := h.idp.Userinfo(ctx, tok)
	if err != nil {
		return nil, err
	}

	if claims.Email == "" {
		return nil, ErrMissingEmail
	}
	if !EmailDomainAllowed(claims.Email, h.allowedDomains) {
		log.Warn().
			Str("email", claims.Email).
			Str("client_id", authReq.ClientID).
			Msg("oauth callback rejected: email domain not allowed")
		return nil, ErrDomainRejected
	}

	grant, err := h.issueGrant(ctx, authReq.ClientID, authReq.Scope, claims)
	if err != nil {
		return nil, err
	}

	redirect, err := buildClientRedirect(authReq.RedirectURI, grant, authReq.State)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("email", claims.Email).
		Str("client_id", authReq.ClientID).
		Msg("oauth authorization completed")

	return &CallbackResult{RedirectURI: redirect, Email: claims.Email, Name: claims.Name}, nil
}

// issueGrant stores a one-time authorization grant the client redeems at
// the token endpoint.
func (h *CallbackHandler) issueGrant(ctx context.Context, clientID, scope string, claims *provider.Claims) (string, error) {
	code, err := randomToken()
	if err != nil {
		return "", err
	}
	buf, err := json.Marshal(grantRecord{
		ClientID:  clientID,
		Email:     claims.Email,
		Name:      claims.Name,
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal grant: %w", err)
	}
	if err := h.store.Put(ctx, oauthGrantKey(code), buf, grantTTL); err != nil {
		return "", fmt.Errorf("failed to store grant: %w", err)
	}
	return code, nil
}

// ExchangeGrant redeems a one-time grant for the session bearer
// credential. The grant is consumed on lookup, before the client check:
// a code presented by the wrong client is burned, never left for the
// right one to redeem afterwards. Any failed exchange, like a second
// one, gets ErrGrantNotFound.
func (h *CallbackHandler) ExchangeGrant(ctx context.Context, code, clientID string) (accessToken string, expiresIn time.Duration, err error) {
	buf, err := h.store.Get(ctx, oauthGrantKey(code))
	if errors.Is(err, kv.ErrNotFound) {
		return "", 0, ErrGrantNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to read grant: %w", err)
	}
	// Consume now, while the client is still unverified.
	if err := h.store.Delete(ctx, oauthGrantKey(code)); err != nil {
		return "", 0, fmt.Errorf("failed to consume grant: %w", err)
	}

	var rec grantRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return "", 0, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	if rec.ClientID != clientID {
		return "", 0, ErrGrantNotFound
	}

	session, err := h.sessions.Issue(rec.Email, rec.Name)
	if err != nil {
		return "", 0, err
	}
	return session, h.sessions.TTL(), nil
}

// DeniedRedirect builds the client redirect for a declined consent.
func DeniedRedirect(req *AuthorizeRequest) (string, error) {
	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("error", CodeAccessDenied)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func buildClientRedirect(redirectURI, code, clientState string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if clientState != "" {
		q.Set("state", clientState)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
