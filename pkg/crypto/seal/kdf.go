package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// SaltSize is the salt length used for every derivation.
const SaltSize = 16

// MinMasterKeySize is the shortest master key DeriveSubkey accepts.
const MinMasterKeySize = 16

// ErrKeyTooShort is returned when a master key is below MinMasterKeySize.
var ErrKeyTooShort = errors.New("seal: master key too short")

// KDFParams are the Argon2id cost parameters. They are persisted next to
// everything derived with them, so changing the defaults never orphans data.
type KDFParams struct {
	Time      uint32 `json:"t" koanf:"time" yaml:"time"`
	MemoryKiB uint32 `json:"m" koanf:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `json:"p" koanf:"threads" yaml:"threads"`
}

// DefaultKDFParams returns the interactive-login cost profile.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects zero parameters, which argon2 would panic on.
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return fmt.Errorf("seal: invalid kdf params %+v", p)
	}
	return nil
}

// DeriveKey stretches passphrase with salt into a KeySize key.
func (p KDFParams) DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal: salt: %w", err)
	}
	return salt, nil
}

// Verify reports whether passphrase re-derives to want under salt.
// The comparison is constant time.
func (p KDFParams) Verify(passphrase, salt, want []byte) bool {
	got := p.DeriveKey(passphrase, salt)
	defer Zero(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// DeriveSubkey derives a purpose-bound key from master using HKDF-SHA256.
func DeriveSubkey(master []byte, info string) ([]byte, error) {
	if len(master) < MinMasterKeySize {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("seal: derive subkey: %w", err)
	}
	return key, nil
}

// Zero overwrites b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
