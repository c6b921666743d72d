// Package config loads and validates engine configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"

	"github.com/JakeFAU/icrawler/internal/connections"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/logging"
	"github.com/JakeFAU/icrawler/internal/queue"
	"github.com/JakeFAU/icrawler/internal/telemetry"
)

// ErrUnknownSchema is returned when no plugin list exists for a schema.
var ErrUnknownSchema = errors.New("unknown plugin schema")

// Checkpoint backends.
const (
	BackendLocal  = "local"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Engine      EngineConfig       `mapstructure:"engine"`
	Checkpoint  CheckpointConfig   `mapstructure:"checkpoint"`
	Admin       AdminConfig        `mapstructure:"admin"`
	Logging     logging.Config     `mapstructure:"logging"`
	Telemetry   telemetry.Config   `mapstructure:"telemetry"`
	Connections connections.Config `mapstructure:",squash"`
	// Common holds defaults merged under every plugin entry.
	Common map[string]any `mapstructure:"common"`
	// Plugins maps a schema name to its plugin entries.
	Plugins map[string][]map[string]any `mapstructure:"plugins"`
}

// EngineConfig sizes the pools and queues. Timezone is the IANA zone run
// windows and daily dates use; empty means the local zone.
type EngineConfig struct {
	Schema               string        `mapstructure:"schema"`
	DispatchWorkers      int           `mapstructure:"dispatch_workers"`
	SinkWorkers          int           `mapstructure:"sink_workers"`
	SourceQueueCapacity  int           `mapstructure:"source_queue_capacity"`
	SinkQueueCapacity    int           `mapstructure:"sink_queue_capacity"`
	IdleInterval         time.Duration `mapstructure:"idle_interval"`
	BackpressureInterval time.Duration `mapstructure:"backpressure_interval"`
	ErrorInterval        time.Duration `mapstructure:"error_interval"`
	Timezone             string        `mapstructure:"timezone"`
}

// CheckpointConfig selects where checkpoints live.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// AdminConfig controls the admin HTTP server.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ICRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.schema", "static")
	v.SetDefault("engine.dispatch_workers", 1)
	v.SetDefault("engine.sink_workers", 1)
	v.SetDefault("engine.source_queue_capacity", queue.DefaultCapacity)
	v.SetDefault("engine.sink_queue_capacity", queue.DefaultCapacity)
	v.SetDefault("engine.idle_interval", 10*time.Second)
	v.SetDefault("engine.backpressure_interval", 10*time.Second)
	v.SetDefault("engine.error_interval", 2*time.Second)
	v.SetDefault("checkpoint.backend", BackendLocal)
	v.SetDefault("checkpoint.dir", "cache")
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "icrawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", time.Second)
	v.SetDefault("kafka.initial_offset", "oldest")
	v.SetDefault("kafka.poll_timeout", time.Second)
	v.SetDefault("common.priority", 500)
	v.SetDefault("common.source", string(ingest.SourceKafka))
	v.SetDefault("common.loop", true)
	v.SetDefault("common.source_encode", "UTF-8")
	v.SetDefault("common.db_limit", 100)
	v.SetDefault("common.run_schema", string(ingest.RunAlways))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Engine.DispatchWorkers <= 0 {
		return fmt.Errorf("engine.dispatch_workers must be > 0")
	}
	if c.Engine.SinkWorkers <= 0 {
		return fmt.Errorf("engine.sink_workers must be > 0")
	}
	if c.Engine.SourceQueueCapacity <= 0 || c.Engine.SinkQueueCapacity <= 0 {
		return fmt.Errorf("engine queue capacities must be > 0")
	}
	if c.Engine.IdleInterval <= 0 || c.Engine.BackpressureInterval <= 0 || c.Engine.ErrorInterval <= 0 {
		return fmt.Errorf("engine intervals must be > 0")
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	switch c.Checkpoint.Backend {
	case BackendLocal, BackendPebble:
		if strings.TrimSpace(c.Checkpoint.Dir) == "" {
			return fmt.Errorf("checkpoint.dir must be set for the %s backend", c.Checkpoint.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("checkpoint.backend %q is not one of local, pebble, memory", c.Checkpoint.Backend)
	}
	if c.Admin.Enabled && c.Admin.Port <= 0 {
		return fmt.Errorf("admin.port must be > 0 when admin is enabled")
	}
	return nil
}

// Location resolves Timezone. Empty yields time.Local.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

// Schemas lists the configured schema names.
func (c Config) Schemas() []string {
	out := make([]string, 0, len(c.Plugins))
	for name := range c.Plugins {
		out = append(out, name)
	}
	return out
}

// PluginConfigs merges Common under every entry of schema and decodes the
// result. Schema names are matched case-insensitively.
func (c Config) PluginConfigs(schema string) ([]ingest.PluginConfig, error) {
	entries, ok := c.Plugins[strings.ToLower(schema)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}
	out := make([]ingest.PluginConfig, 0, len(entries))
	for i, entry := range entries {
		pc, err := Merge(c.Common, entry)
		if err != nil {
			return nil, fmt.Errorf("plugins.%s[%d]: %w", schema, i, err)
		}
		if err := pc.Validate(); err != nil {
			return nil, fmt.Errorf("plugins.%s[%d]: %w", schema, i, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

// Merge overlays entry on a copy of common and decodes a PluginConfig.
func Merge(common, entry map[string]any) (ingest.PluginConfig, error) {
	merged := make(map[string]any, len(common)+len(entry))
	for k, v := range common {
		merged[k] = v
	}
	for k, v := range entry {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return ingest.PluginConfig{}, fmt.Errorf("encode plugin entry: %w", err)
	}
	var pc ingest.PluginConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return ingest.PluginConfig{}, fmt.Errorf("decode plugin entry: %w", err)
	}
	return pc, nil
}
