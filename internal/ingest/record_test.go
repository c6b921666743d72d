package ingest

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordKeepsInsertionOrder ensures JSON round-trips preserve key order.
func TestRecordKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	r := RecordOf("zeta", 1, "alpha", "a", "mid", nil)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":"a","mid":null}`, string(raw))
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":null}`, string(raw))

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, back.Keys())
	assert.Equal(t, "1", back.String("zeta"))
}

// TestRecordSetKeepsPosition ensures overwriting a key does not move it.
func TestRecordSetKeepsPosition(t *testing.T) {
	t.Parallel()

	r := RecordOf("a", 1, "b", 2)
	r.Set("a", 3)
	assert.Equal(t, []string{"a", "b"}, r.Keys())
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = r.Delete("a")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, r.Keys())
	_, ok = r.Delete("missing")
	assert.False(t, ok)
}

// TestRecordCheckpointRefExcludedFromFingerprint ensures re-checkpointing keeps identity.
func TestRecordCheckpointRefExcludedFromFingerprint(t *testing.T) {
	t.Parallel()

	r := RecordOf("company", "Acme")
	before := r.Fingerprint()
	r.SetCheckpointRef("cfg_item")
	assert.Equal(t, "cfg_item", r.CheckpointRef())
	assert.Equal(t, before, r.Fingerprint())
	assert.Equal(t, "cfg_item", r.ClearCheckpointRef())
	assert.Empty(t, r.CheckpointRef())
	assert.Empty(t, r.ClearCheckpointRef())
}

// TestRecordCloneIsDeep ensures nested containers are not shared.
func TestRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	inner := RecordOf("x", 1)
	r := RecordOf("inner", inner, "list", []any{"a"}, "map", map[string]any{"k": "v"})
	c := r.Clone()
	inner.Set("x", 2)
	r.values["list"].([]any)[0] = "b"

	got, _ := c.Get("inner")
	assert.Equal(t, "1", got.(*Record).String("x"))
	list, _ := c.Get("list")
	assert.Equal(t, []any{"a"}, list)
}

// TestRecordNormalizeNulls ensures nil values become empty strings.
func TestRecordNormalizeNulls(t *testing.T) {
	t.Parallel()

	r := RecordOf("a", nil, "b", "keep")
	r.NormalizeNulls()
	assert.Equal(t, map[string]any{"a": "", "b": "keep"}, r.Map())
}

// TestRecordUnmarshalRejectsNonObject ensures arrays are not accepted as records.
func TestRecordUnmarshalRejectsNonObject(t *testing.T) {
	t.Parallel()

	var r Record
	assert.Error(t, r.UnmarshalJSON([]byte(`[1,2]`)))
}
