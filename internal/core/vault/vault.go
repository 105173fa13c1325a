package vault

import (
	"context"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

// Vault is the backend-agnostic credential store.
type Vault interface {
	// SetMasterPassphrase creates the master record.
	// Returns ErrPassphraseAlreadySet if one exists.
	SetMasterPassphrase(ctx context.Context, passphrase string) error

	// HasMasterPassphrase reports whether a master record exists.
	HasMasterPassphrase(ctx context.Context) (bool, error)

	// VerifyPassphrase reports whether passphrase matches the master record.
	VerifyPassphrase(ctx context.Context, passphrase string) bool

	// Store encrypts secret for profile id and flags the profile.
	Store(ctx context.Context, id string, secret domain.Secret, passphrase string) error

	// Retrieve decrypts the secret for id.
	// Returns ErrSecretNotFound or ErrDecryptionFailed.
	Retrieve(ctx context.Context, id, passphrase string) (domain.Secret, error)

	// Remove deletes the entry for id. Removing a missing entry succeeds.
	Remove(ctx context.Context, id string) error

	// Reset destroys the master record and every entry.
	Reset(ctx context.Context) error

	// Has reports whether an entry exists for id.
	Has(ctx context.Context, id string) (bool, error)

	// Backend names the implementation ("local", "remote").
	Backend() string
}

// SecretFlagger keeps profile HasStoredSecret flags in sync with the vault.
type SecretFlagger interface {
	SetHasStoredSecret(ctx context.Context, id string, has bool) error
	ClearStoredSecrets(ctx context.Context) error
}

type noopFlagger struct{}

func (noopFlagger) SetHasStoredSecret(context.Context, string, bool) error { return nil }
func (noopFlagger) ClearStoredSecrets(context.Context) error               { return nil }
