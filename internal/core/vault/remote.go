package vault

import (
	"context"
	"errors"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

// CredentialStore is the gateway-side credential API. The caller identity
// (session token) is carried by the implementation.
type CredentialStore interface {
	PutCredential(ctx context.Context, id string, secret domain.Secret) error
	// GetCredential returns ErrSecretNotFound when nothing is stored.
	GetCredential(ctx context.Context, id string) (domain.Secret, error)
	DeleteCredential(ctx context.Context, id string) error
	ResetCredentials(ctx context.Context) error
	HasCredential(ctx context.Context, id string) (bool, error)
}

// RemoteVault is the gateway-backed Vault.
type RemoteVault struct {
	store   CredentialStore
	flagger SecretFlagger
	logger  logger.Logger
	metrics *metric.Registry
}

// NewRemote builds a RemoteVault over store.
func NewRemote(store CredentialStore, opts ...Option) *RemoteVault {
	o := buildOptions(opts)
	return &RemoteVault{
		store:   store,
		flagger: o.flagger,
		logger:  o.logger.With("component", "vault", "backend", "remote"),
		metrics: o.metrics,
	}
}

// Backend implements Vault.
func (v *RemoteVault) Backend() string { return "remote" }

// SetFlagger replaces the flagger after construction.
func (v *RemoteVault) SetFlagger(f SecretFlagger) {
	if f == nil {
		f = noopFlagger{}
	}
	v.flagger = f
}

// audit records metrics and logs. Remote operations are persisted by the
// gateway's own trail.
func (v *RemoteVault) audit(_ context.Context, op, id string, err error) {
	v.metrics.ObserveVault("remote", op, err)
	if err != nil {
		v.logger.Warn("vault operation failed", "op", op, "profile_id", id, "error", err)
		return
	}
	v.logger.Debug("vault operation", "op", op, "profile_id", id)
}

// SetMasterPassphrase is accepted and ignored; the gateway owns encryption.
func (v *RemoteVault) SetMasterPassphrase(context.Context, string) error { return nil }

// HasMasterPassphrase always reports true so callers never prompt for one.
func (v *RemoteVault) HasMasterPassphrase(context.Context) (bool, error) { return true, nil }

// VerifyPassphrase always succeeds.
func (v *RemoteVault) VerifyPassphrase(context.Context, string) bool { return true }

// Store implements Vault.
func (v *RemoteVault) Store(ctx context.Context, id string, secret domain.Secret, _ string) (err error) {
	defer func() { v.audit(ctx, "store", id, err) }()

	if err := v.store.PutCredential(ctx, id, secret); err != nil {
		return err
	}
	if err := v.flagger.SetHasStoredSecret(ctx, id, true); err != nil {
		_ = v.store.DeleteCredential(ctx, id)
		return err
	}
	return nil
}

// Retrieve implements Vault.
func (v *RemoteVault) Retrieve(ctx context.Context, id, _ string) (_ domain.Secret, err error) {
	defer func() { v.audit(ctx, "retrieve", id, err) }()
	return v.store.GetCredential(ctx, id)
}

// Remove implements Vault.
func (v *RemoteVault) Remove(ctx context.Context, id string) (err error) {
	defer func() { v.audit(ctx, "remove", id, err) }()

	if err := v.store.DeleteCredential(ctx, id); err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
		return err
	}
	if err := v.flagger.SetHasStoredSecret(ctx, id, false); err != nil && !errors.Is(err, domain.ErrUnknownConnection) {
		return err
	}
	return nil
}

// Reset implements Vault.
func (v *RemoteVault) Reset(ctx context.Context) (err error) {
	defer func() { v.audit(ctx, "reset", "", err) }()

	if err := v.store.ResetCredentials(ctx); err != nil {
		return err
	}
	return v.flagger.ClearStoredSecrets(ctx)
}

// Has implements Vault.
func (v *RemoteVault) Has(ctx context.Context, id string) (bool, error) {
	return v.store.HasCredential(ctx, id)
}
