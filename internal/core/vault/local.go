package vault

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/crypto/seal"
)

const (
	masterKey   = "vault/master"
	entryPrefix = "vault/entry/"
)

// Config tunes the local vault.
type Config struct {
	// KDF is used for new records. Existing records keep the params they
	// were written with.
	KDF seal.KDFParams `koanf:"kdf"`

	// UnlockInterval and UnlockBurst throttle passphrase verification.
	UnlockInterval time.Duration `koanf:"unlock_interval"`
	UnlockBurst    int           `koanf:"unlock_burst"`
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		KDF:            seal.DefaultKDFParams(),
		UnlockInterval: 200 * time.Millisecond,
		UnlockBurst:    5,
	}
}

// masterRecord is the persisted passphrase verifier.
type masterRecord struct {
	Version   int            `json:"version"`
	KDF       seal.KDFParams `json:"kdf"`
	Salt      []byte         `json:"salt"`
	Hash      []byte         `json:"hash"`
	CreatedAt time.Time      `json:"created_at"`
}

// LocalVault is the KV-backed Vault.
type LocalVault struct {
	kv      storage.KV
	cfg     Config
	flagger SecretFlagger
	logger  logger.Logger
	metrics *metric.Registry
	trail   audit.Recorder
	limiter *rate.Limiter

	mu sync.Mutex
}

// Option configures a vault backend.
type Option func(*options)

type options struct {
	flagger SecretFlagger
	logger  logger.Logger
	metrics *metric.Registry
	audit   audit.Recorder
}

// WithFlagger wires the registry's flag updates.
func WithFlagger(f SecretFlagger) Option {
	return func(o *options) { o.flagger = f }
}

// WithLogger sets the audit logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAudit persists an entry per operation to r.
func WithAudit(r audit.Recorder) Option {
	return func(o *options) { o.audit = r }
}

// WithMetrics records operations on m.
func WithMetrics(m *metric.Registry) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{flagger: noopFlagger{}, logger: logger.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.flagger == nil {
		o.flagger = noopFlagger{}
	}
	return o
}

// NewLocal builds a LocalVault over kv.
func NewLocal(kv storage.KV, cfg Config, opts ...Option) *LocalVault {
	o := buildOptions(opts)
	if cfg.KDF.Validate() != nil {
		cfg.KDF = seal.DefaultKDFParams()
	}
	limit := rate.Inf
	if cfg.UnlockInterval > 0 {
		limit = rate.Every(cfg.UnlockInterval)
	}
	if cfg.UnlockBurst <= 0 {
		cfg.UnlockBurst = 1
	}
	return &LocalVault{
		kv:      kv,
		cfg:     cfg,
		flagger: o.flagger,
		logger:  o.logger.With("component", "vault", "backend", "local"),
		metrics: o.metrics,
		trail:   o.audit,
		limiter: rate.NewLimiter(limit, cfg.UnlockBurst),
	}
}

// Backend implements Vault.
func (v *LocalVault) Backend() string { return "local" }

// SetFlagger replaces the flagger after construction. The registry and the
// vault refer to each other, so one side is wired late.
func (v *LocalVault) SetFlagger(f SecretFlagger) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f == nil {
		f = noopFlagger{}
	}
	v.flagger = f
}

func (v *LocalVault) audit(ctx context.Context, op, id string, err error) {
	v.metrics.ObserveVault("local", op, err)
	if v.trail != nil {
		if aerr := v.trail.Record(ctx, audit.LocalScope, audit.NewEntry(ctx, "local", op, id, err)); aerr != nil {
			v.logger.Warn("audit entry not recorded", "op", op, "error", aerr)
		}
	}
	if err != nil {
		v.logger.Warn("vault operation failed", "op", op, "profile_id", id, "error", err)
		return
	}
	v.logger.Info("vault operation", "op", op, "profile_id", id)
}

// SetMasterPassphrase implements Vault.
func (v *LocalVault) SetMasterPassphrase(ctx context.Context, passphrase string) (err error) {
	defer func() { v.audit(ctx, "set_master", "", err) }()

	if passphrase == "" {
		return domain.ErrPassphraseRequired.WithDetails("passphrase must not be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.loadMaster(ctx); err == nil {
		return domain.ErrPassphraseAlreadySet
	} else if !errors.Is(err, domain.ErrPassphraseRequired) {
		return err
	}

	salt, err := seal.NewSalt()
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	rec := masterRecord{
		Version:   1,
		KDF:       v.cfg.KDF,
		Salt:      salt,
		Hash:      v.cfg.KDF.DeriveKey([]byte(passphrase), salt),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	if err := v.kv.Set(ctx, []byte(masterKey), data); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// HasMasterPassphrase implements Vault.
func (v *LocalVault) HasMasterPassphrase(ctx context.Context) (bool, error) {
	_, err := v.loadMaster(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrPassphraseRequired):
		return false, nil
	default:
		return false, err
	}
}

// VerifyPassphrase implements Vault. Calls are rate limited.
func (v *LocalVault) VerifyPassphrase(ctx context.Context, passphrase string) bool {
	rec, err := v.loadMaster(ctx)
	if err != nil {
		return false
	}
	return v.verify(ctx, rec, passphrase)
}

func (v *LocalVault) verify(ctx context.Context, rec *masterRecord, passphrase string) bool {
	if err := v.limiter.Wait(ctx); err != nil {
		return false
	}
	if rec.KDF.Validate() != nil {
		return false
	}
	return rec.KDF.Verify([]byte(passphrase), rec.Salt, rec.Hash)
}

// Store implements Vault.
func (v *LocalVault) Store(ctx context.Context, id string, secret domain.Secret, passphrase string) (err error) {
	defer func() { v.audit(ctx, "store", id, err) }()

	rec, err := v.loadMaster(ctx)
	if err != nil {
		return err
	}
	if !v.verify(ctx, rec, passphrase) {
		return domain.ErrDecryptionFailed.WithDetails("passphrase does not match")
	}

	plain, err := json.Marshal(secret)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	defer seal.Zero(plain)

	box, err := seal.SealPassphrase(v.cfg.KDF, []byte(passphrase), plain, []byte(id))
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	data, err := json.Marshal(box)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}

	v.mu.Lock()
	flagger := v.flagger
	if err := v.kv.Set(ctx, entryKey(id), data); err != nil {
		v.mu.Unlock()
		return domain.ErrStorageError.WithCause(err)
	}
	v.mu.Unlock()

	// An entry must never outlive its profile.
	if err := flagger.SetHasStoredSecret(ctx, id, true); err != nil {
		_ = v.kv.Delete(ctx, entryKey(id))
		return err
	}
	return nil
}

// Retrieve implements Vault.
func (v *LocalVault) Retrieve(ctx context.Context, id, passphrase string) (_ domain.Secret, err error) {
	defer func() { v.audit(ctx, "retrieve", id, err) }()

	data, err := v.kv.Get(ctx, entryKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return domain.Secret{}, domain.ErrSecretNotFound
	}
	if err != nil {
		return domain.Secret{}, domain.ErrStorageError.WithCause(err)
	}

	rec, err := v.loadMaster(ctx)
	if err != nil {
		// Entry without a master record means the store was tampered with.
		return domain.Secret{}, domain.ErrDecryptionFailed.WithCause(err)
	}
	if !v.verify(ctx, rec, passphrase) {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithDetails("passphrase does not match")
	}

	var box seal.Box
	if err := json.Unmarshal(data, &box); err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithDetails("corrupted entry")
	}
	plain, err := box.Open([]byte(passphrase), []byte(id))
	if err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithDetails("entry failed authentication")
	}
	defer seal.Zero(plain)

	var secret domain.Secret
	if err := json.Unmarshal(plain, &secret); err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithDetails("corrupted entry")
	}
	return secret, nil
}

// Remove implements Vault.
func (v *LocalVault) Remove(ctx context.Context, id string) (err error) {
	defer func() { v.audit(ctx, "remove", id, err) }()

	v.mu.Lock()
	flagger := v.flagger
	err = v.kv.Delete(ctx, entryKey(id))
	v.mu.Unlock()
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}

	// The profile may already be gone when called from a registry delete.
	if err := flagger.SetHasStoredSecret(ctx, id, false); err != nil && !errors.Is(err, domain.ErrUnknownConnection) {
		return err
	}
	return nil
}

// Reset implements Vault.
func (v *LocalVault) Reset(ctx context.Context) (err error) {
	defer func() { v.audit(ctx, "reset", "", err) }()

	v.mu.Lock()
	flagger := v.flagger
	var keys [][]byte
	err = v.kv.Scan(ctx, []byte(entryPrefix), func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err == nil {
		for _, k := range keys {
			if err = v.kv.Delete(ctx, k); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = v.kv.Delete(ctx, []byte(masterKey))
	}
	v.mu.Unlock()
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}

	return flagger.ClearStoredSecrets(ctx)
}

// Has implements Vault.
func (v *LocalVault) Has(ctx context.Context, id string) (bool, error) {
	_, err := v.kv.Get(ctx, entryKey(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrKeyNotFound):
		return false, nil
	default:
		return false, domain.ErrStorageError.WithCause(err)
	}
}

func (v *LocalVault) loadMaster(ctx context.Context) (*masterRecord, error) {
	data, err := v.kv.Get(ctx, []byte(masterKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, domain.ErrPassphraseRequired
	}
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	var rec masterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, domain.ErrDecryptionFailed.WithDetails("corrupted master record")
	}
	return &rec, nil
}

func entryKey(id string) []byte {
	return []byte(entryPrefix + id)
}
