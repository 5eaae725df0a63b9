package gateway

import "strings"

// EmailDomainAllowed reports whether email's domain is one of the allowed
// domains. Matching is case-insensitive and suffix-exact on the part after
// the last "@": user@evil-agile6.com and user@agile6.co must both fail
// against an agile6.com allow-list, so no substring or loose-suffix
// matching.
func EmailDomainAllowed(email string, allowed []string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range allowed {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}
