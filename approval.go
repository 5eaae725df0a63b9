package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// ApprovalCookieName lists client ids the user has already approved, so a
// returning client skips the consent screen. Approval only skips the UI;
// the createState/validateState round trip still runs on every flow.
const ApprovalCookieName = "mcp_approved_clients"

const approvalCookieTTL = 30 * 24 * time.Hour

// ApprovalManager signs and checks the approved-clients cookie. The value
// is base64url(JSON client id list) + "." + base64url(HMAC).
type ApprovalManager struct {
	key           []byte
	secureCookies bool
}

// NewApprovalManager derives the approval MAC key from the gateway master
// secret.
func NewApprovalManager(secret []byte, secureCookies bool) (*ApprovalManager, error) {
	key, err := deriveKey(secret, "mcp-auth-gateway/client-approval/v1")
	if err != nil {
		return nil, err
	}
	return &ApprovalManager{key: key, secureCookies: secureCookies}, nil
}

// IsApproved reports whether the cookie value is authentic and lists
// clientID. A tampered or malformed cookie is simply not an approval.
func (m *ApprovalManager) IsApproved(cookieValue, clientID string) bool {
	ids, ok := m.decode(cookieValue)
	return ok && slices.Contains(ids, clientID)
}

// Approve returns a refreshed cookie whose list includes clientID,
// preserving previously approved clients from the existing cookie value.
func (m *ApprovalManager) Approve(cookieValue, clientID string) *http.Cookie {
	ids, _ := m.decode(cookieValue)
	if !slices.Contains(ids, clientID) {
		ids = append(ids, clientID)
	}
	return &http.Cookie{
		Name:     ApprovalCookieName,
		Value:    m.encode(ids),
		Path:     "/",
		MaxAge:   int(approvalCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *ApprovalManager) encode(ids []string) string {
	payload, _ := json.Marshal(ids)
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(payload) +
		"." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *ApprovalManager) decode(value string) ([]string, bool) {
	dot := -1
	for i, c := range value {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot <= 0 {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(value[:dot])
	if err != nil {
		return nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(value[dot+1:])
	if err != nil {
		return nil, false
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		return nil, false
	}
	return ids, true
}
