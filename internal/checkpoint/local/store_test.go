package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/checkpoint/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		b, err := local.New(local.Config{Dir: filepath.Join(t.TempDir(), "cache")})
		require.NoError(t, err)
		assert.NotNil(t, b)
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})
}

// TestBackendIgnoresTempFiles ensures interrupted writes are not listed as keys.
func TestBackendIgnoresTempFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	b, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "cfg_one", []byte(`{}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o600))

	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg_one"}, keys)

	_, err = b.Get(ctx, "cfg_two")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.NoError(t, b.Remove(ctx, "cfg_two"))
	assert.ErrorIs(t, b.Put(ctx, ".tmp-x", nil), checkpoint.ErrInvalidKey)
}
