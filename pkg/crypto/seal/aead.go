package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies the AEAD construction.
type Algorithm string

const (
	AESGCM   Algorithm = "aes-256-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the key length every supported algorithm takes.
const KeySize = 32

var (
	// ErrOpenFailed is returned for any decryption failure.
	ErrOpenFailed = errors.New("seal: open failed")

	// ErrUnknownAlgorithm is returned for an unsupported Algorithm name.
	ErrUnknownAlgorithm = errors.New("seal: unknown algorithm")
)

// Preferred returns the algorithm best suited to the running platform.
// Go's crypto/aes uses hardware instructions on amd64 and arm64.
func Preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return AESGCM
	default:
		return ChaCha20
	}
}

// NewAEAD builds the AEAD for algo. key must be KeySize bytes.
func NewAEAD(algo Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", KeySize, len(key))
	}
	switch algo {
	case AESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// SealWithKey encrypts plaintext and prepends a random nonce.
func SealWithKey(algo Algorithm, key, plaintext, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(algo, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenWithKey reverses SealWithKey.
func OpenWithKey(algo Algorithm, key, sealed, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(algo, key)
	if err != nil {
		return nil, ErrOpenFailed
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpenFailed
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
