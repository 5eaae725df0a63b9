package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailDomainAllowed(t *testing.T) {
	allowed := []string{"agile6.com"}

	tests := []struct {
		email string
		want  bool
	}{
		{"user@agile6.com", true},
		{"USER@AGILE6.COM", true},
		{"user@Agile6.Com", true},
		{"user@evil-agile6.com", false}, // suffix-exact, not substring
		{"user@agile6.co", false},
		{"user@agile6.com.evil.com", false},
		{"user@sub.agile6.com", false},
		{"agile6.com", false}, // no @
		{"user@", false},
		{"", false},
		{"a@b@agile6.com", true}, // domain is everything after the last @
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, EmailDomainAllowed(tc.email, allowed), "email %q", tc.email)
	}
}

func TestEmailDomainAllowedMultipleDomains(t *testing.T) {
	allowed := []string{"agile6.com", "Example.ORG"}

	assert.True(t, EmailDomainAllowed("a@example.org", allowed))
	assert.True(t, EmailDomainAllowed("a@agile6.com", allowed))
	assert.False(t, EmailDomainAllowed("a@example.com", allowed))
}

func TestEmailDomainAllowedEmptyList(t *testing.T) {
	assert.False(t, EmailDomainAllowed("a@agile6.com", nil))
}
