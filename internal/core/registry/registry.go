package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

const profilePrefix = "profile/"

// RemoteSource is the gateway's view of the caller's profiles.
type RemoteSource interface {
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	PutProfile(ctx context.Context, p domain.Profile) error
	DeleteProfile(ctx context.Context, id string) error
}

// SecretRemover is the part of the vault a delete needs.
type SecretRemover interface {
	Remove(ctx context.Context, id string) error
}

// DeleteHook runs after a profile is deleted.
type DeleteHook func(ctx context.Context, id string)

// Registry is the connection profile store.
type Registry struct {
	kv            storage.KV
	remote        RemoteSource
	remoteSecrets bool
	logger        logger.Logger

	mu       sync.RWMutex
	profiles map[string]*domain.Profile
	remover  SecretRemover
	hooks    []DeleteHook
}

// Option configures a Registry.
type Option func(*Registry)

// WithRemote enables reconciliation against a gateway.
func WithRemote(r RemoteSource) Option {
	return func(reg *Registry) { reg.remote = r }
}

// WithRemoteSecrets makes the remote authoritative for HasStoredSecret.
// Use it only when secrets live on the gateway; otherwise the local flag
// is kept on reconcile.
func WithRemoteSecrets() Option {
	return func(reg *Registry) { reg.remoteSecrets = true }
}

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(reg *Registry) {
		if l != nil {
			reg.logger = l
		}
	}
}

// New loads every persisted profile from kv.
func New(ctx context.Context, kv storage.KV, opts ...Option) (*Registry, error) {
	r := &Registry{
		kv:       kv,
		logger:   logger.Default(),
		profiles: make(map[string]*domain.Profile),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")

	var loadErr error
	err := kv.Scan(ctx, []byte(profilePrefix), func(key, value []byte) bool {
		var p domain.Profile
		if err := json.Unmarshal(value, &p); err != nil {
			r.logger.Warn("skipping unreadable profile", "key", string(key), "error", err)
			return true
		}
		// Nothing is connected in a fresh process.
		if p.Status == domain.StatusConnecting || p.Status == domain.StatusConnected {
			p.Status = domain.StatusDisconnected
		}
		r.profiles[p.ID] = &p
		return true
	})
	if err != nil {
		loadErr = domain.ErrStorageError.WithCause(err)
	}
	return r, loadErr
}

// SetSecretRemover wires the vault. The vault also holds the registry as its
// flagger, so this is set after both exist.
func (r *Registry) SetSecretRemover(s SecretRemover) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remover = s
}

// OnDelete registers a hook that runs after each delete.
func (r *Registry) OnDelete(h DeleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// List returns the reconciled view, sorted by name then id.
//
// A failing remote is logged and the local view returned.
func (r *Registry) List(ctx context.Context) ([]domain.Profile, error) {
	if r.remote != nil {
		remote, err := r.remote.ListProfiles(ctx)
		if err != nil {
			r.logger.Warn("remote profile list unavailable, using local view", "error", err)
		} else if err := r.absorb(ctx, remote); err != nil {
			return nil, err
		}
	}
	return r.snapshot(), nil
}

// absorb merges remote profiles into the local store.
func (r *Registry) absorb(ctx context.Context, remote []domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	local := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		local = append(local, *p)
	}
	merged := Reconcile(local, remote)

	for id, p := range merged {
		prev, existed := r.profiles[id]
		// The gateway does not see this process's lifecycle; keep an
		// in-flight or live status rather than regress it.
		if existed && (prev.Status == domain.StatusConnecting || prev.Status == domain.StatusConnected) {
			p.Status = prev.Status
			p.LastConnectedAt = prev.LastConnectedAt
		}
		if !r.remoteSecrets {
			// The gateway only knows about secrets it holds.
			p.HasStoredSecret = existed && prev.HasStoredSecret
		}
		if existed && equalProfile(prev, &p) {
			continue
		}
		if err := r.persistLocked(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile merges local and remote lists. Entries are inserted local first,
// then remote, so a remote entry replaces a local one with the same id.
func Reconcile(local, remote []domain.Profile) map[string]domain.Profile {
	out := make(map[string]domain.Profile, len(local)+len(remote))
	for _, p := range local {
		out[p.ID] = p
	}
	for _, p := range remote {
		if p.ID == "" {
			continue
		}
		out[p.ID] = p
	}
	return out
}

// Get returns a copy of the profile.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, domain.ErrUnknownConnection.WithDetails(id)
	}
	return p.Clone(), nil
}

// Create validates p and stores it as a new disconnected profile.
// Returns the assigned id.
func (r *Registry) Create(ctx context.Context, p domain.Profile) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = defaultName(&p)
	}
	switch {
	case p.ID == "":
		id, err := domain.GenerateProfileID()
		if err != nil {
			return "", err
		}
		p.ID = id
	case !domain.IsValidProfileID(p.ID):
		return "", domain.ErrInvalidProfile.WithDetails("malformed id " + p.ID)
	}
	p.Status = domain.StatusDisconnected
	p.LastConnectedAt = nil
	p.HasStoredSecret = false
	p.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	if _, exists := r.profiles[p.ID]; exists {
		r.mu.Unlock()
		return "", domain.ErrInvalidProfile.WithDetails("id already exists")
	}
	if err := r.persistLocked(ctx, &p); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	r.logger.Info("profile created", "profile_id", p.ID, "kind", p.Kind, "host", p.Endpoint.Host)
	r.pushRemote(ctx, p)
	return p.ID, nil
}

// Rename changes the display name.
func (r *Registry) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ErrInvalidProfile.WithDetails("name must not be empty")
	}

	r.mu.Lock()
	p, ok := r.profiles[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrUnknownConnection.WithDetails(id)
	}
	next := p.Clone()
	next.Name = name
	if err := r.persistLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.pushRemote(ctx, *next)
	return nil
}

// Delete removes the profile and its vault entry, then runs delete hooks.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.profiles[id]; !ok {
		r.mu.Unlock()
		return domain.ErrUnknownConnection.WithDetails(id)
	}
	if err := r.kv.Delete(ctx, profileKey(id)); err != nil {
		r.mu.Unlock()
		return domain.ErrStorageError.WithCause(err)
	}
	delete(r.profiles, id)
	remover := r.remover
	hooks := append([]DeleteHook(nil), r.hooks...)
	r.mu.Unlock()

	// Vault and hooks call back into the registry; run them unlocked.
	if remover != nil {
		if err := remover.Remove(ctx, id); err != nil {
			r.logger.Error("vault entry not removed for deleted profile", "profile_id", id, "error", err)
		}
	}
	if r.remote != nil {
		if err := r.remote.DeleteProfile(ctx, id); err != nil {
			r.logger.Warn("remote profile delete failed", "profile_id", id, "error", err)
		}
	}
	for _, h := range hooks {
		h(ctx, id)
	}

	r.logger.Info("profile deleted", "profile_id", id)
	return nil
}

// UpdateStatus records a lifecycle transition. connectedAt is applied only
// when non-nil.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status domain.Status, connectedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return domain.ErrUnknownConnection.WithDetails(id)
	}
	next := p.Clone()
	next.Status = status
	if connectedAt != nil {
		t := connectedAt.UTC()
		next.LastConnectedAt = &t
	}
	return r.persistLocked(ctx, next)
}

// SetHasStoredSecret implements vault.SecretFlagger.
func (r *Registry) SetHasStoredSecret(ctx context.Context, id string, has bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return domain.ErrUnknownConnection.WithDetails(id)
	}
	if p.HasStoredSecret == has {
		return nil
	}
	next := p.Clone()
	next.HasStoredSecret = has
	return r.persistLocked(ctx, next)
}

// ClearStoredSecrets implements vault.SecretFlagger.
func (r *Registry) ClearStoredSecrets(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.profiles {
		if !p.HasStoredSecret {
			continue
		}
		next := p.Clone()
		next.HasStoredSecret = false
		if err := r.persistLocked(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// FindDuplicate returns an existing profile pointing at the same database
// as p, or nil.
func (r *Registry) FindDuplicate(p domain.Profile) *domain.Profile {
	fp := p.Fingerprint()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.profiles {
		if existing.ID != p.ID && existing.Fingerprint() == fp {
			return existing.Clone()
		}
	}
	return nil
}

func (r *Registry) snapshot() []domain.Profile {
	r.mu.RLock()
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// persistLocked writes p and swaps it into the map. Caller holds r.mu.
func (r *Registry) persistLocked(ctx context.Context, p *domain.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	if err := r.kv.Set(ctx, profileKey(p.ID), data); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	r.profiles[p.ID] = p
	return nil
}

func (r *Registry) pushRemote(ctx context.Context, p domain.Profile) {
	if r.remote == nil {
		return
	}
	// Unsynced profiles stay local-only and are preserved by Reconcile.
	if err := r.remote.PutProfile(ctx, p); err != nil {
		r.logger.Warn("remote profile sync failed", "profile_id", p.ID, "error", err)
	}
}

func profileKey(id string) []byte {
	return []byte(profilePrefix + id)
}

func defaultName(p *domain.Profile) string {
	if p.Kind == domain.KindSQLite {
		return p.Endpoint.Database
	}
	return p.Endpoint.Database + "@" + p.Endpoint.Address()
}

func equalProfile(a, b *domain.Profile) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Kind != b.Kind || a.Endpoint != b.Endpoint ||
		a.Status != b.Status || a.HasStoredSecret != b.HasStoredSecret || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	switch {
	case a.LastConnectedAt == nil && b.LastConnectedAt == nil:
		return true
	case a.LastConnectedAt == nil || b.LastConnectedAt == nil:
		return false
	default:
		return a.LastConnectedAt.Equal(*b.LastConnectedAt)
	}
}
