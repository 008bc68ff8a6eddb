package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns the SHA-256 hex digest of key. Raw bearer tokens are
// never used as cache keys directly so they cannot leak through the
// backend or its logs.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
