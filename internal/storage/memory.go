package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryKV is a map-backed KV for tests and ephemeral sessions.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, string(key))
	return nil
}

// Scan visits matching keys in sorted order, matching badger's iteration.
// The callback runs on a snapshot, so it may call back into the store.
func (m *MemoryKV) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	type pair struct {
		k string
		v []byte
	}
	var matched []pair
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			matched = append(matched, pair{k, bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].k < matched[j].k })
	for _, p := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn([]byte(p.k), p.v) {
			break
		}
	}
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
