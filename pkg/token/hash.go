package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hash computes the hex SHA-256 of a token. The gateway keys stored data by
// this hash so raw session tokens never reach disk.
func Hash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Verify compares token against an expected hash in constant time.
func Verify(token, expectedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(token)), []byte(expectedHash)) == 1
}
