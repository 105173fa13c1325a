// Package storage provides the key-value persistence substrate for QueryDeck.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv store closed")
)

// KV is the persistence substrate shared by the registry and the vault.
//
// Implementations must be safe for concurrent use. Values returned by Get and
// passed to Scan callbacks are owned by the caller.
type KV interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair, replacing any previous value.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan iterates over keys with a given prefix in key order.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// Close releases the store.
	Close() error
}

// Config selects and tunes the KV backend.
type Config struct {
	// Engine is "badger" or "memory".
	Engine string `koanf:"engine"`

	// Dir is the badger data directory.
	Dir string `koanf:"dir"`

	// GCInterval is the interval between value log GC runs.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCThreshold is the discard ratio passed to RunValueLogGC.
	GCThreshold float64 `koanf:"gc_threshold"`

	// SyncWrites fsyncs after each write.
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultConfig returns a badger config rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Engine:      "badger",
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		SyncWrites:  true,
	}
}

// Open builds the backend named by cfg.Engine.
func Open(cfg Config, opts ...BadgerOption) (KV, error) {
	switch cfg.Engine {
	case "memory":
		return NewMemoryKV(), nil
	case "", "badger":
		return NewBadgerKV(cfg, opts...)
	default:
		return nil, errors.New("storage: unknown engine " + cfg.Engine)
	}
}
