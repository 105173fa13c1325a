// Package audit keeps a persisted trail of credential operations.
//
// Entries are stored in the KV under audit/{scope}/{ulid}, so a prefix
// scan returns one scope's entries in time order. The local vault uses a
// single scope; the gateway scopes entries by caller session hash.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

const (
	keyPrefix = "audit/"

	// LocalScope is the scope of a single-user store.
	LocalScope = "local"

	// DefaultLimit is the List size when the query sets none.
	DefaultLimit = 100

	// DefaultRetention is the number of entries kept per scope.
	DefaultRetention = 1000
)

// Entry is one recorded operation.
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	Time       time.Time `json:"time" yaml:"time"`
	Op         string    `json:"op" yaml:"op"`
	Backend    string    `json:"backend" yaml:"backend"`
	ProfileID  string    `json:"profile_id,omitempty" yaml:"profile_id,omitempty"`
	Success    bool      `json:"success" yaml:"success"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// Query filters List. Zero values select everything up to DefaultLimit.
type Query struct {
	ProfileID string
	Limit     int
}

// Recorder is what the vaults and the credential service write to.
type Recorder interface {
	Record(ctx context.Context, scope string, e Entry) error
}

// Trail is the KV-backed audit store. Safe for concurrent use.
type Trail struct {
	kv        storage.KV
	retention int
	now       func() time.Time
	logger    logger.Logger

	// mu serializes append and prune per trail.
	mu sync.Mutex
}

// Option configures a Trail.
type Option func(*Trail)

// WithRetention sets how many entries are kept per scope. n <= 0 keeps all.
func WithRetention(n int) Option {
	return func(t *Trail) { t.retention = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithLogger sets the trail logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

// New builds a Trail over kv.
func New(kv storage.KV, opts ...Option) *Trail {
	t := &Trail{
		kv:        kv,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logger.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "audit")
	return t
}

func scopePrefix(scope string) string {
	if scope == "" {
		scope = LocalScope
	}
	return keyPrefix + scope + "/"
}

// Record appends e to scope, assigning its id and time, and prunes the
// scope down to the retention limit.
func (t *Trail) Record(ctx context.Context, scope string, e Entry) error {
	at := t.now().UTC()
	id, err := ulid.New(ulid.Timestamp(at), ulid.DefaultEntropy())
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	e.ID = id.String()
	e.Time = at

	data, err := json.Marshal(e)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.kv.Set(ctx, []byte(scopePrefix(scope)+e.ID), data); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return t.pruneLocked(ctx, scope)
}

func (t *Trail) pruneLocked(ctx context.Context, scope string) error {
	if t.retention <= 0 {
		return nil
	}
	var keys [][]byte
	err := t.kv.Scan(ctx, []byte(scopePrefix(scope)), func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	for _, k := range keys[:max(0, len(keys)-t.retention)] {
		if err := t.kv.Delete(ctx, k); err != nil {
			return domain.ErrStorageError.WithCause(err)
		}
	}
	return nil
}

// List returns matching entries of scope, newest first.
func (t *Trail) List(ctx context.Context, scope string, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		all       []Entry
		decodeErr error
	)
	err := t.kv.Scan(ctx, []byte(scopePrefix(scope)), func(_, value []byte) bool {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			decodeErr = errors.Join(decodeErr, err)
			return true
		}
		if q.ProfileID == "" || e.ProfileID == q.ProfileID {
			all = append(all, e)
		}
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	if decodeErr != nil {
		t.logger.Warn("skipped unreadable audit entries", "scope", scope, "error", decodeErr)
	}

	out := make([]Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Clear removes every entry of scope.
func (t *Trail) Clear(ctx context.Context, scope string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys [][]byte
	err := t.kv.Scan(ctx, []byte(scopePrefix(scope)), func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	for _, k := range keys {
		if err := t.kv.Delete(ctx, k); err != nil {
			return domain.ErrStorageError.WithCause(err)
		}
	}
	return nil
}

type clientKey struct{}

// Client identifies the remote caller of a gateway operation.
type Client struct {
	Addr      string
	UserAgent string
}

// WithClient attaches c to ctx for entries recorded under it.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client attached by WithClient.
func ClientFrom(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}

// NewEntry builds an entry for op on profileID with err as its outcome and
// the client from ctx.
func NewEntry(ctx context.Context, backend, op, profileID string, err error) Entry {
	c := ClientFrom(ctx)
	e := Entry{
		Op:         op,
		Backend:    backend,
		ProfileID:  profileID,
		Success:    err == nil,
		RemoteAddr: c.Addr,
		UserAgent:  c.UserAgent,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
