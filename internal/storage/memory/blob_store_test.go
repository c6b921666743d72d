package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBlobStorePutObjectCopiesData ensures stored objects are independent of the caller's buffer.
func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "qy_job/1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://qy_job/1.json", uri)

	payload[0] = 'C'
	got, ok := store.Object("qy_job/1.json")
	require.True(t, ok)
	assert.Equal(t, "content", string(got))
	assert.Equal(t, []string{"qy_job/1.json"}, store.Paths())
}
