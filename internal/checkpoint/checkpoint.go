// Package checkpoint persists cursor positions and in-flight work items so a
// restarted process resumes where the previous one stopped.
//
// Three key families share one namespace:
//
//	{source}_{schema}_{table}_{fp}.id          cursor of an ordered scan
//	{source}_num_{file}_{fp}.txt               line/row mark of a local file
//	{cfgFP}_{itemFP}                           snapshot of an in-flight message
//
// Item keys never contain a dot, which is how recovery tells them apart.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/icrawler/internal/metrics"
)

// ErrNotFound is returned by backends for absent keys.
var ErrNotFound = errors.New("checkpoint not found")

// ErrInvalidKey rejects keys that cannot be stored safely.
var ErrInvalidKey = errors.New("invalid checkpoint key")

// MarkConsumed is the mark stored once a local file has been read to the end.
const MarkConsumed = -1

// Store is the value-level checkpoint contract used by the pipeline.
type Store interface {
	Write(ctx context.Context, key string, value any) error
	// Read decodes the entry into dst. Corrupt entries are deleted and
	// reported as absent.
	Read(ctx context.Context, key string, dst any) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend stores raw bytes. Implementations live in the subpackages.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound for absent keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Remove ignores absent keys.
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// JSONStore implements Store over a Backend with JSON values.
type JSONStore struct {
	backend   Backend
	onCorrupt func(key string, err error)
}

// NewStore wraps backend. onCorrupt, if set, is told about discarded entries.
func NewStore(backend Backend, onCorrupt func(key string, err error)) *JSONStore {
	return &JSONStore{backend: backend, onCorrupt: onCorrupt}
}

// Write stores value under key, replacing any previous entry.
func (s *JSONStore) Write(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", key, err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	metrics.ObserveCheckpoint("write")
	return nil
}

// Read loads key into dst.
func (s *JSONStore) Read(ctx context.Context, key string, dst any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	if decodeErr := json.Unmarshal(data, dst); decodeErr != nil {
		if s.onCorrupt != nil {
			s.onCorrupt(key, decodeErr)
		}
		metrics.ObserveCheckpoint("corrupt")
		if err := s.backend.Remove(ctx, key); err != nil {
			return false, fmt.Errorf("discard corrupt checkpoint %s: %w", key, err)
		}
		return false, nil
	}
	return true, nil
}

// Delete removes key. Absent keys are not an error.
func (s *JSONStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", key, err)
	}
	metrics.ObserveCheckpoint("delete")
	return nil
}

// List returns the sorted keys starting with prefix.
func (s *JSONStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the backend.
func (s *JSONStore) Close() error {
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close checkpoint backend: %w", err)
	}
	return nil
}

// ValidateKey rejects empty keys and keys that could escape a directory.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}
	return nil
}

// CursorKey names the cursor of an ordered database or queue scan.
func CursorKey(source, schema, table, fp string) string {
	return fmt.Sprintf("%s_%s_%s_%s.id", source, schema, table, fp)
}

// ItemKey names the snapshot of one in-flight message.
func ItemKey(cfgFP, itemFP string) string {
	return cfgFP + "_" + itemFP
}

// MarkKey names the consumed-lines mark of a local file.
func MarkKey(source, filename, fp string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_num_%s_%s.txt", source, base, fp)
}

// ItemKeys lists the in-flight snapshots of a config.
func ItemKeys(ctx context.Context, s Store, cfgFP string) ([]string, error) {
	keys, err := s.List(ctx, cfgFP+"_")
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if !strings.Contains(k, ".") {
			out = append(out, k)
		}
	}
	return out, nil
}
