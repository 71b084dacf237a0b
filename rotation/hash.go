package rotation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashCredential returns the SHA-256 hex digest of a raw renewal credential.
// The digest is a lookup key only; possession is proven by the credential's
// signature, not by knowledge of the digest.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashEqual performs a constant-time comparison of two credential digests.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPrefix returns a truncated digest safe for logs and audit events.
// Full digests are lookup material and must never be logged.
func HashPrefix(hash string) string {
	const n = 8
	if len(hash) <= n {
		return hash
	}
	return hash[:n] + "..."
}
