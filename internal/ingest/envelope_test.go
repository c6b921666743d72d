package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acmeConfig() PluginConfig {
	return PluginConfig{
		Class:    "builtin.echo",
		Pipeline: "builtin.log",
		Priority: 10,
		Source:   SourceStatic,
		Messages: []any{map[string]any{"company": "Acme"}},
		Loop:     false,
	}
}

// TestEnvelopeRoundTrip ensures envelopes survive the queue codec.
func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	env := Envelope{
		Priority: 10,
		Config:   acmeConfig(),
		Message:  RecordOf("company", "Acme"),
		Result:   RecordOf("name", "Acme", "city", "Paris"),
	}
	prio, body, err := env.Encode()
	require.NoError(t, err)
	assert.Equal(t, 10, prio)

	got, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env.Config.Fingerprint(), got.Config.Fingerprint())
	assert.Equal(t, []string{"name", "city"}, got.Result.Keys())
	assert.Equal(t, "Acme", got.Message.String("company"))
}

// TestDecodeEnvelopeRejectsGarbage ensures malformed bodies surface an error.
func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeEnvelope("not json")
	assert.Error(t, err)
}

// TestPluginConfigFingerprint ensures equal configs share an identity.
func TestPluginConfigFingerprint(t *testing.T) {
	t.Parallel()

	a := acmeConfig()
	b := acmeConfig()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	b.Priority = 11
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, a.ClassFingerprint(), b.ClassFingerprint())
}

// TestPluginConfigValidate covers the required fields per source kind.
func TestPluginConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*PluginConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*PluginConfig) {}},
		{name: "missing class", mutate: func(c *PluginConfig) { c.Class = "" }, wantErr: true},
		{name: "missing pipeline", mutate: func(c *PluginConfig) { c.Pipeline = "" }, wantErr: true},
		{name: "unknown source", mutate: func(c *PluginConfig) { c.Source = "ftp" }, wantErr: true},
		{name: "kafka without topic", mutate: func(c *PluginConfig) { c.Source = SourceKafka }, wantErr: true},
		{name: "mysql without table", mutate: func(c *PluginConfig) {
			c.Source = SourceMySQL
			c.DBSchema = "crm"
		}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := acmeConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestSourceKindLocal ensures only local sources skip item checkpoints.
func TestSourceKindLocal(t *testing.T) {
	t.Parallel()

	assert.True(t, SourceCSV.Local())
	assert.True(t, SourceDaily.Local())
	assert.False(t, SourceKafka.Local())
	assert.False(t, SourceMySQL.Local())
}

// TestPluginConfigExtras ensures typed accessors tolerate the shapes config loaders produce.
func TestPluginConfigExtras(t *testing.T) {
	t.Parallel()

	cfg := PluginConfig{Extra: map[string]any{
		"rps":       "2.5",
		"max_page":  float64(7),
		"burst":     3,
		"loop":      "true",
		"url":       "https://api.example.com",
		"not_a_num": "x",
	}}
	assert.InDelta(t, 2.5, cfg.ExtraFloat("rps", 0), 1e-9)
	assert.Equal(t, 7, cfg.ExtraInt("max_page", 1))
	assert.Equal(t, 3, cfg.ExtraInt("burst", 1))
	assert.Equal(t, 9, cfg.ExtraInt("not_a_num", 9))
	assert.Equal(t, 4, cfg.ExtraInt("missing", 4))
	assert.True(t, cfg.ExtraBool("loop", false))
	assert.False(t, cfg.ExtraBool("missing", false))
	assert.Equal(t, "https://api.example.com", cfg.ExtraString("url"))
	assert.Empty(t, PluginConfig{}.ExtraString("url"))
}
