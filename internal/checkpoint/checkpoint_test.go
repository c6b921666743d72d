package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/checkpoint/local"
	"github.com/JakeFAU/icrawler/internal/checkpoint/memory"
	"github.com/JakeFAU/icrawler/internal/checkpoint/pebble"
	"github.com/JakeFAU/icrawler/internal/ingest"
)

type backendCase struct {
	name string
	open func(t *testing.T) checkpoint.Backend
}

func backends() []backendCase {
	return []backendCase{
		{name: "memory", open: func(*testing.T) checkpoint.Backend { return memory.New() }},
		{name: "local", open: func(t *testing.T) checkpoint.Backend {
			b, err := local.New(local.Config{Dir: t.TempDir()})
			require.NoError(t, err)
			return b
		}},
		{name: "pebble", open: func(t *testing.T) checkpoint.Backend {
			b, err := pebble.Open(pebble.Config{Dir: filepath.Join(t.TempDir(), "db")})
			require.NoError(t, err)
			return b
		}},
	}
}

// TestStoreContract runs the shared store contract against every backend.
func TestStoreContract(t *testing.T) {
	t.Parallel()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			var corrupted []string
			store := checkpoint.NewStore(bc.open(t), func(key string, _ error) {
				corrupted = append(corrupted, key)
			})
			t.Cleanup(func() { _ = store.Close() })

			cursor := checkpoint.CursorKey("mysql", "crm", "leads", "fp")
			require.NoError(t, store.Write(ctx, cursor, int64(41)))
			require.NoError(t, store.Write(ctx, cursor, int64(42)))

			var got int64
			found, err := store.Read(ctx, cursor, &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, int64(42), got)

			found, err = store.Read(ctx, "missing", &got)
			require.NoError(t, err)
			assert.False(t, found)

			msg := ingest.RecordOf("company", "Acme", "page", 1)
			key, err := checkpoint.Snapshot(ctx, store, "cfg", msg)
			require.NoError(t, err)
			assert.Equal(t, key, msg.CheckpointRef())

			back := ingest.NewRecord()
			found, err = store.Read(ctx, key, back)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []string{"company", "page"}, back.Keys())

			require.NoError(t, store.Write(ctx, checkpoint.MarkKey("csv", "/data/leads.csv", "cfg"), 1000))
			keys, err := checkpoint.ItemKeys(ctx, store, "cfg")
			require.NoError(t, err)
			assert.Equal(t, []string{key}, keys)

			require.NoError(t, checkpoint.Release(ctx, store, msg))
			require.NoError(t, checkpoint.Release(ctx, store, msg))
			require.NoError(t, store.Delete(ctx, key))
			keys, err = checkpoint.ItemKeys(ctx, store, "cfg")
			require.NoError(t, err)
			assert.Empty(t, keys)
			assert.Empty(t, corrupted)
		})
	}
}

// TestStoreDiscardsCorruptEntries ensures undecodable entries read as absent and vanish.
func TestStoreDiscardsCorruptEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	backend, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)
	var corrupted []string
	store := checkpoint.NewStore(backend, func(key string, _ error) { corrupted = append(corrupted, key) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg_item"), []byte("{truncated"), 0o600))

	msg := ingest.NewRecord()
	found, err := store.Read(ctx, "cfg_item", msg)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"cfg_item"}, corrupted)

	_, statErr := os.Stat(filepath.Join(dir, "cfg_item"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestStoreRejectsUnsafeKeys ensures keys cannot escape the cache directory.
func TestStoreRejectsUnsafeKeys(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for _, key := range []string{"", "..", "../etc/passwd", `a\b`} {
		err := store.Write(context.Background(), key, 1)
		assert.ErrorIs(t, err, checkpoint.ErrInvalidKey, key)
	}
}

// TestKeyBuilders pins the on-disk key layout.
func TestKeyBuilders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mongodb_crm_leads_abc.id", checkpoint.CursorKey("mongodb", "crm", "leads", "abc"))
	assert.Equal(t, "cfg_item", checkpoint.ItemKey("cfg", "item"))
	assert.Equal(t, "csv_num_leads_abc.txt", checkpoint.MarkKey("csv", "/srv/in/leads.csv", "abc"))
}
