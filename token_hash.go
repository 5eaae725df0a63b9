package gateway

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex-encoded sha256 digest of a raw token. Records
// are indexed by this value so a store dump never exposes usable secrets.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
