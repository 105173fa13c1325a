package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/crypto/seal"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// credentialKeyInfo binds the derived key to this use.
const credentialKeyInfo = "querydeck/gateway/credentials/v1"

// Key layout: cred/{sha256(session)}/{secret|profile}/{profile id}.
const credPrefix = "cred/"

// CredentialService stores profile metadata and sealed secrets per caller
// session. Callers are identified by the hash of their session token, so
// the raw token is never persisted.
type CredentialService struct {
	kv      storage.KV
	key     []byte
	algo    seal.Algorithm
	logger  logger.Logger
	metrics *metric.Registry
	trail   *audit.Trail
}

type sealedRecord struct {
	Algo      seal.Algorithm `json:"algo"`
	Data      []byte         `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCredentialService derives the sealing key from serverKey.
func NewCredentialService(kv storage.KV, serverKey []byte, opts ...ServiceOption) (*CredentialService, error) {
	key, err := seal.DeriveSubkey(serverKey, credentialKeyInfo)
	if err != nil {
		return nil, err
	}
	o := buildServiceOptions(opts)
	return &CredentialService{
		kv:      kv,
		key:     key,
		algo:    seal.Preferred(),
		logger:  o.logger.With("component", "credentials"),
		metrics: o.metrics,
		trail:   o.trail,
	}, nil
}

func callerPrefix(session string) string {
	return credPrefix + token.Hash(session) + "/"
}

func secretKey(session, id string) []byte {
	return []byte(callerPrefix(session) + "secret/" + id)
}

func profileKey(session, id string) []byte {
	return []byte(callerPrefix(session) + "profile/" + id)
}

func secretAAD(session, id string) []byte {
	return []byte(token.Hash(session) + "/" + id)
}

func checkID(id string) error {
	if !domain.IsValidProfileID(id) {
		return domain.ErrBadRequest.WithDetails("malformed connection id " + id)
	}
	return nil
}

func (s *CredentialService) audit(ctx context.Context, session, op, id string, err error) {
	s.metrics.ObserveVault("gateway", op, err)
	if s.trail != nil {
		if aerr := s.trail.Record(ctx, token.Hash(session), audit.NewEntry(ctx, "gateway", op, id, err)); aerr != nil {
			s.logger.Warn("audit entry not recorded", "op", op, "error", aerr)
		}
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("credential operation failed", "op", op, "profile_id", id, "error", err)
		return
	}
	s.logger.Debug("credential operation", "op", op, "profile_id", id)
}

// PutSecret seals and stores secret for id.
func (s *CredentialService) PutSecret(ctx context.Context, session, id string, secret domain.Secret) (err error) {
	defer func() { s.audit(ctx, session, "store", id, err) }()

	if err := checkID(id); err != nil {
		return err
	}
	if secret.IsZero() {
		return domain.ErrBadRequest.WithDetails("secret is empty")
	}

	plain, err := json.Marshal(secret)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	defer seal.Zero(plain)

	sealed, err := seal.SealWithKey(s.algo, s.key, plain, secretAAD(session, id))
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	rec, err := json.Marshal(sealedRecord{Algo: s.algo, Data: sealed, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	if err := s.kv.Set(ctx, secretKey(session, id), rec); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// GetSecret opens the secret for id.
func (s *CredentialService) GetSecret(ctx context.Context, session, id string) (_ domain.Secret, err error) {
	defer func() { s.audit(ctx, session, "retrieve", id, err) }()

	raw, err := s.kv.Get(ctx, secretKey(session, id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return domain.Secret{}, domain.ErrNotFound.WithDetails("no stored credential for " + id)
		}
		return domain.Secret{}, domain.ErrStorageError.WithCause(err)
	}

	var rec sealedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithCause(err)
	}
	plain, err := seal.OpenWithKey(rec.Algo, s.key, rec.Data, secretAAD(session, id))
	if err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithCause(err)
	}
	defer seal.Zero(plain)

	var secret domain.Secret
	if err := json.Unmarshal(plain, &secret); err != nil {
		return domain.Secret{}, domain.ErrDecryptionFailed.WithCause(err)
	}
	return secret, nil
}

// HasSecret reports whether a secret is stored for id.
func (s *CredentialService) HasSecret(ctx context.Context, session, id string) (bool, error) {
	_, err := s.kv.Get(ctx, secretKey(session, id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrKeyNotFound):
		return false, nil
	default:
		return false, domain.ErrStorageError.WithCause(err)
	}
}

// DeleteSecret removes the secret for id.
func (s *CredentialService) DeleteSecret(ctx context.Context, session, id string) (err error) {
	defer func() { s.audit(ctx, session, "remove", id, err) }()

	ok, err := s.HasSecret(ctx, session, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound.WithDetails("no stored credential for " + id)
	}
	if err := s.kv.Delete(ctx, secretKey(session, id)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// Reset removes every secret held for session and returns how many.
func (s *CredentialService) Reset(ctx context.Context, session string) (n int, err error) {
	defer func() { s.audit(ctx, session, "reset", "", err) }()

	keys, err := s.scanKeys(ctx, callerPrefix(session)+"secret/")
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return n, domain.ErrStorageError.WithCause(err)
		}
		n++
	}
	return n, nil
}

// Audit returns the operations recorded for session, newest first.
func (s *CredentialService) Audit(ctx context.Context, session string, q audit.Query) ([]audit.Entry, error) {
	if s.trail == nil {
		return []audit.Entry{}, nil
	}
	if q.ProfileID != "" {
		if err := checkID(q.ProfileID); err != nil {
			return nil, err
		}
	}
	return s.trail.List(ctx, token.Hash(session), q)
}

// ListProfiles returns the profiles stored for session in id order, with
// HasStoredSecret reflecting the secrets actually held.
func (s *CredentialService) ListProfiles(ctx context.Context, session string) ([]domain.Profile, error) {
	var (
		profiles  []domain.Profile
		decodeErr error
	)
	err := s.kv.Scan(ctx, []byte(callerPrefix(session)+"profile/"), func(_, value []byte) bool {
		var p domain.Profile
		if err := json.Unmarshal(value, &p); err != nil {
			decodeErr = err
			return false
		}
		profiles = append(profiles, p)
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	if decodeErr != nil {
		return nil, domain.ErrStorageError.WithCause(decodeErr)
	}

	for i := range profiles {
		has, err := s.HasSecret(ctx, session, profiles[i].ID)
		if err != nil {
			return nil, err
		}
		profiles[i].HasStoredSecret = has
	}
	return profiles, nil
}

// GetProfile returns the profile stored under id.
func (s *CredentialService) GetProfile(ctx context.Context, session, id string) (*domain.Profile, error) {
	raw, err := s.kv.Get(ctx, profileKey(session, id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, domain.ErrNotFound.WithDetails("unknown connection " + id)
		}
		return nil, domain.ErrStorageError.WithCause(err)
	}
	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	has, err := s.HasSecret(ctx, session, id)
	if err != nil {
		return nil, err
	}
	p.HasStoredSecret = has
	return &p, nil
}

// PutProfile creates or replaces the profile stored under id.
func (s *CredentialService) PutProfile(ctx context.Context, session, id string, p domain.Profile) error {
	if err := checkID(id); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.ID != id {
		return domain.ErrBadRequest.WithDetails("connection id does not match path")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.ErrInvalidProfile.WithDetails("name is required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = domain.StatusDisconnected
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	if err := s.kv.Set(ctx, profileKey(session, id), data); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	s.logger.Debug("profile stored", "profile_id", id)
	return nil
}

// DeleteProfile removes the profile and any secret stored for it.
func (s *CredentialService) DeleteProfile(ctx context.Context, session, id string) error {
	if _, err := s.kv.Get(ctx, profileKey(session, id)); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return domain.ErrNotFound.WithDetails("unknown connection " + id)
		}
		return domain.ErrStorageError.WithCause(err)
	}
	for _, k := range [][]byte{profileKey(session, id), secretKey(session, id)} {
		if err := s.kv.Delete(ctx, k); err != nil {
			return domain.ErrStorageError.WithCause(err)
		}
	}
	s.logger.Debug("profile deleted", "profile_id", id)
	return nil
}

func (s *CredentialService) scanKeys(ctx context.Context, prefix string) ([][]byte, error) {
	var keys [][]byte
	err := s.kv.Scan(ctx, []byte(prefix), func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return keys, nil
}
