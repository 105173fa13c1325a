// Package token provides caller session token generation and hashing.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	// SessionPrefix marks a caller session token.
	SessionPrefix = "qdst_"

	// ServerKeyPrefix marks a gateway master key in config files.
	ServerKeyPrefix = "qdsk_"

	// bodyBytes of entropy encode to 43 RawURL characters.
	bodyBytes = 32
	bodyLen   = 43
)

// NewSession returns a fresh caller session token: qdst_ + 43 characters.
func NewSession() (string, error) {
	body, err := random(bodyBytes)
	if err != nil {
		return "", err
	}
	return SessionPrefix + base64.RawURLEncoding.EncodeToString(body), nil
}

// NewServerKey returns a new gateway master key: qdsk_ + 43 characters.
func NewServerKey() (string, error) {
	body, err := random(bodyBytes)
	if err != nil {
		return "", err
	}
	return ServerKeyPrefix + base64.RawURLEncoding.EncodeToString(body), nil
}

// DecodeServerKey returns the raw key bytes of a qdsk_ key.
func DecodeServerKey(key string) ([]byte, bool) {
	if !strings.HasPrefix(key, ServerKeyPrefix) {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(key[len(ServerKeyPrefix):])
	if err != nil || len(raw) != bodyBytes {
		return nil, false
	}
	return raw, true
}

// IsSessionToken reports whether s has the session token shape.
func IsSessionToken(s string) bool {
	if !strings.HasPrefix(s, SessionPrefix) || len(s) != len(SessionPrefix)+bodyLen {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s[len(SessionPrefix):])
	return err == nil
}

// NewRequestID returns a short random hex id for request correlation.
func NewRequestID() string {
	b, err := random(8)
	if err != nil {
		return "req-unknown"
	}
	return "req-" + hex.EncodeToString(b)
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
