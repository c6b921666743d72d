package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/icrawler/internal/ingest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
engine:
  schema: STATIC
  dispatch_workers: 4
  sink_workers: 2
  sink_queue_capacity: 50
  idle_interval: 1s
checkpoint:
  backend: pebble
  dir: /var/lib/icrawler
admin:
  enabled: true
  port: 9090
logging:
  development: false
mysql:
  default:
    dsn: "user:pw@tcp(db:3306)/"
kafka:
  brokers: ["kafka:9092"]
retry:
  attempts: 5
  backoff: 250ms
common:
  class: ""
  priority: 500
  source: kafka
plugins:
  STATIC:
    - class: builtin.Echo
      pipeline: builtin.Log
      priority: 498
      source: static
      loop: false
      messages:
        - name: Acme
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.DispatchWorkers != 4 || cfg.Engine.SinkWorkers != 2 {
		t.Fatalf("expected worker overrides, got %+v", cfg.Engine)
	}
	if cfg.Engine.SinkQueueCapacity != 50 || cfg.Engine.SourceQueueCapacity != 1000 {
		t.Fatalf("expected queue capacities 1000/50, got %+v", cfg.Engine)
	}
	if cfg.Engine.IdleInterval != time.Second || cfg.Engine.ErrorInterval != 2*time.Second {
		t.Fatalf("expected intervals 1s/2s, got %+v", cfg.Engine)
	}
	if cfg.Checkpoint.Backend != BackendPebble || cfg.Checkpoint.Dir != "/var/lib/icrawler" {
		t.Fatalf("expected pebble checkpoint, got %+v", cfg.Checkpoint)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Port != 9090 {
		t.Fatalf("expected admin on 9090, got %+v", cfg.Admin)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Connections.MySQL["default"].DSN != "user:pw@tcp(db:3306)/" {
		t.Fatalf("expected mysql default dsn, got %+v", cfg.Connections.MySQL)
	}
	if len(cfg.Connections.Kafka.Brokers) != 1 || cfg.Connections.Kafka.PollTimeout != time.Second {
		t.Fatalf("expected kafka settings, got %+v", cfg.Connections.Kafka)
	}
	if cfg.Connections.Retry.Attempts != 5 || cfg.Connections.Retry.Backoff != 250*time.Millisecond {
		t.Fatalf("expected retry overrides, got %+v", cfg.Connections.Retry)
	}

	plugins, err := cfg.PluginConfigs(cfg.Engine.Schema)
	if err != nil {
		t.Fatalf("PluginConfigs() error = %v", err)
	}
	if len(plugins) != 1 {
		t.Fatalf("expected one plugin, got %d", len(plugins))
	}
	pc := plugins[0]
	if pc.Class != "builtin.Echo" || pc.Priority != 498 || pc.Source != ingest.SourceStatic || pc.Loop {
		t.Fatalf("expected plugin overrides to win, got %+v", pc)
	}
	if pc.DBLimit != 100 || pc.RunSchema != ingest.RunAlways || pc.SourceEncode != "UTF-8" {
		t.Fatalf("expected common defaults to fill gaps, got %+v", pc)
	}
	if len(pc.Messages) != 1 {
		t.Fatalf("expected one static message, got %+v", pc.Messages)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Schema != "static" || cfg.Checkpoint.Backend != BackendLocal || cfg.Checkpoint.Dir != "cache" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Connections.Retry.Attempts != 3 || cfg.Connections.Retry.Backoff != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Connections.Retry)
	}
	if _, err := cfg.PluginConfigs("missing"); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ICRAWLER_ENGINE_DISPATCH_WORKERS", "8")
	t.Setenv("ICRAWLER_CHECKPOINT_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.DispatchWorkers != 8 {
		t.Fatalf("expected 8 dispatch workers, got %d", cfg.Engine.DispatchWorkers)
	}
	if cfg.Checkpoint.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Checkpoint.Backend)
	}
}

func TestPluginConfigsRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Common:  map[string]any{"priority": 500, "source": "static"},
		Plugins: map[string][]map[string]any{"static": {{"pipeline": "builtin.Log"}}},
	}
	if _, err := cfg.PluginConfigs("STATIC"); !errors.Is(err, ingest.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMergeDoesNotMutateCommon(t *testing.T) {
	t.Parallel()

	common := map[string]any{"priority": 500, "pipeline": "builtin.Log"}
	pc, err := Merge(common, map[string]any{"class": "builtin.Echo", "priority": 1})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if pc.Priority != 1 || pc.Pipeline != "builtin.Log" || pc.Class != "builtin.Echo" {
		t.Fatalf("unexpected merge result: %+v", pc)
	}
	if common["priority"] != 500 {
		t.Fatalf("common was mutated: %+v", common)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Engine: EngineConfig{
			DispatchWorkers:      1,
			SinkWorkers:          1,
			SourceQueueCapacity:  10,
			SinkQueueCapacity:    10,
			IdleInterval:         time.Second,
			BackpressureInterval: time.Second,
			ErrorInterval:        time.Second,
		},
		Checkpoint: CheckpointConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "no dispatch workers",
			cfg: func() Config {
				c := base
				c.Engine.DispatchWorkers = 0
				return c
			}(),
			want: "engine.dispatch_workers",
		},
		{
			name: "no sink workers",
			cfg: func() Config {
				c := base
				c.Engine.SinkWorkers = 0
				return c
			}(),
			want: "engine.sink_workers",
		},
		{
			name: "zero capacity",
			cfg: func() Config {
				c := base
				c.Engine.SinkQueueCapacity = 0
				return c
			}(),
			want: "capacities",
		},
		{
			name: "zero interval",
			cfg: func() Config {
				c := base
				c.Engine.IdleInterval = 0
				return c
			}(),
			want: "intervals",
		},
		{
			name: "bad timezone",
			cfg: func() Config {
				c := base
				c.Engine.Timezone = "Mars/Olympus"
				return c
			}(),
			want: "engine.timezone",
		},
		{
			name: "local backend without dir",
			cfg: func() Config {
				c := base
				c.Checkpoint.Backend = BackendLocal
				return c
			}(),
			want: "checkpoint.dir",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Checkpoint.Backend = "redis"
				return c
			}(),
			want: "checkpoint.backend",
		},
		{
			name: "admin without port",
			cfg: func() Config {
				c := base
				c.Admin.Enabled = true
				return c
			}(),
			want: "admin.port",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
