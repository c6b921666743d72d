// Package pebble stores checkpoints in an embedded Pebble key-value store.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
)

// Config captures the parameters for the Pebble backend.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// Backend wraps a Pebble database. Every write is synced.
type Backend struct {
	db *pebble.DB
}

// Open opens or creates the database under cfg.Dir.
func Open(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("pebble directory is required")
	}
	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Backend{db: db}, nil
}

// Put stores data under key.
func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	if err := b.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Get returns a copy of the value; Pebble's buffer is only valid until the
// closer runs.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := b.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// Remove deletes key.
func (b *Backend) Remove(_ context.Context, key string) error {
	if err := b.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// Keys scans the keys starting with prefix.
func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = upperBound([]byte(prefix))
	}
	iter, err := b.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble scan: %w", err)
	}
	return out, nil
}

// Close flushes and closes the database.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	return nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
