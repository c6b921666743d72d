// Package local stores checkpoints as one file per key in a cache directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
)

const tempPrefix = ".tmp-"

// Config captures the parameters for the file backend.
type Config struct {
	// Dir is the cache directory holding one file per checkpoint.
	Dir string `mapstructure:"dir"`
}

// Backend writes checkpoint files under a directory.
type Backend struct {
	dir string
}

// New creates the directory if needed and verifies it is writable.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat checkpoint directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("checkpoint path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.Dir, tempPrefix+"probe-")
	if err != nil {
		return nil, fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &Backend{dir: cfg.Dir}, nil
}

// Put writes data to a temp file and renames it over the key's file.
func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// Get reads the key's file.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to the checkpoint directory.
	if errors.Is(err, os.ErrNotExist) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return data, nil
}

// Remove deletes the key's file.
func (b *Backend) Remove(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

// Keys lists the files whose names start with prefix.
func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Close is a no-op; files are written synchronously.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) path(key string) (string, error) {
	if err := checkpoint.ValidateKey(key); err != nil {
		return "", err
	}
	if strings.HasPrefix(key, tempPrefix) {
		return "", fmt.Errorf("%w: reserved prefix", checkpoint.ErrInvalidKey)
	}
	full := filepath.Clean(filepath.Join(b.dir, key))
	if !strings.HasPrefix(full, filepath.Clean(b.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", checkpoint.ErrInvalidKey)
	}
	return full, nil
}
