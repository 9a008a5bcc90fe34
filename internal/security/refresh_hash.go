package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// OpaqueSecretBytes is the entropy of a refresh token before encoding.
const OpaqueSecretBytes = 64

// NewOpaqueSecret returns 64 random bytes encoded as unpadded base64url.
// Uniqueness is enforced by the ledger's token_hash constraint.
func NewOpaqueSecret() (string, error) {
	b := make([]byte, OpaqueSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken returns the hex-encoded SHA-256 of a refresh token.
// Only this digest is persisted; the raw token is handed to the client once.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual reports in constant time whether token hashes to storedHash.
func RefreshTokenHashEqual(token, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(token)), []byte(storedHash)) == 1
}
