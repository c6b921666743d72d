package uuid

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewIDIsV4 ensures data ids are random UUIDs.
func TestNewIDIsV4(t *testing.T) {
	t.Parallel()

	g := NewUUIDGenerator()
	id, err := g.NewID()
	require.NoError(t, err)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	other, err := g.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

// TestNewTraceID ensures trace ids are 18 alphanumerics.
func TestNewTraceID(t *testing.T) {
	t.Parallel()

	id, err := NewUUIDGenerator().NewTraceID()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{18}$`), id)
}
