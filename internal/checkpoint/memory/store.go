// Package memory keeps checkpoints in a map for tests and dry runs.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
)

// Backend stores checkpoint bytes in memory.
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

// Put stores a copy of data.
func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored bytes.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[key]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Remove deletes key.
func (b *Backend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// Keys lists keys with the prefix.
func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

// NewStore returns a JSON checkpoint store over a fresh in-memory backend.
func NewStore() *checkpoint.JSONStore {
	return checkpoint.NewStore(New(), nil)
}
