// Package localstore provides durable per-origin key/value storage, the
// process-side counterpart of browser local storage.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage is a small JSON document store keyed by string.
type Storage interface {
	// Get decodes the value stored under key into out. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, val any) error
	Delete(ctx context.Context, key string) error
}

type prefixedStorage struct {
	underlying Storage
	prefix     string
}

func (p *prefixedStorage) Get(ctx context.Context, key string, out any) error {
	return p.underlying.Get(ctx, p.prefix+key, out)
}

func (p *prefixedStorage) Set(ctx context.Context, key string, val any) error {
	return p.underlying.Set(ctx, p.prefix+key, val)
}

func (p *prefixedStorage) Delete(ctx context.Context, key string) error {
	return p.underlying.Delete(ctx, p.prefix+key)
}

func WithPrefix(storage Storage, prefix string) Storage {
	return &prefixedStorage{
		underlying: storage,
		prefix:     prefix,
	}
}

// Memory keeps values in process memory. Values are stored encoded so that
// callers never share mutable state with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) Set(ctx context.Context, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
