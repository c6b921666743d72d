package ingest

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/icrawler/internal/hash/fingerprint"
)

// ErrInvalidConfig reports a PluginConfig that cannot drive a pipeline.
var ErrInvalidConfig = errors.New("invalid plugin config")

// SourceKind names where a provider reads work items from.
type SourceKind string

// Supported source kinds.
const (
	SourceStatic  SourceKind = "static"
	SourceExcel   SourceKind = "excel"
	SourceCSV     SourceKind = "csv"
	SourceTXT     SourceKind = "txt"
	SourceDaily   SourceKind = "daily"
	SourceKafka   SourceKind = "kafka"
	SourceMongoDB SourceKind = "mongodb"
	SourceMySQL   SourceKind = "mysql"
)

// Local reports whether the source is read from local data rather than an
// external system. Local items are never checkpointed individually.
func (k SourceKind) Local() bool {
	switch k {
	case SourceStatic, SourceExcel, SourceCSV, SourceTXT, SourceDaily:
		return true
	default:
		return false
	}
}

// RunSchema controls when a provider is allowed to fetch.
type RunSchema string

// Supported run schemas.
const (
	RunAlways RunSchema = "always"
	RunRepeat RunSchema = "repeat"
	RunCron   RunSchema = "cron"
)

// PluginConfig is the immutable configuration of one pipeline instance.
type PluginConfig struct {
	Class        string                    `json:"class" mapstructure:"class"`
	Pipeline     string                    `json:"pipeline" mapstructure:"pipeline"`
	Priority     int                       `json:"priority" mapstructure:"priority"`
	Source       SourceKind                `json:"source" mapstructure:"source"`
	KafkaTopic   string                    `json:"kafka_topic,omitempty" mapstructure:"kafka_topic"`
	KafkaGroup   string                    `json:"kafka_group,omitempty" mapstructure:"kafka_group"`
	DBSchema     string                    `json:"db_schema,omitempty" mapstructure:"db_schema"`
	DBTable      string                    `json:"db_table,omitempty" mapstructure:"db_table"`
	DBFilter     map[string]map[string]any `json:"db_filter,omitempty" mapstructure:"db_filter"`
	DBLimit      int                       `json:"db_limit,omitempty" mapstructure:"db_limit"`
	DBKeys       []string                  `json:"db_keys,omitempty" mapstructure:"db_keys"`
	Messages     []any                     `json:"messages,omitempty" mapstructure:"messages"`
	SourceEncode string                    `json:"source_encode,omitempty" mapstructure:"source_encode"`
	Loop         bool                      `json:"loop" mapstructure:"loop"`
	RunSchema    RunSchema                 `json:"run_schema,omitempty" mapstructure:"run_schema"`
	ValidTime    []string                  `json:"valid_time,omitempty" mapstructure:"valid_time"`
	Cron         string                    `json:"cron,omitempty" mapstructure:"cron"`
	Extra        map[string]any            `json:"extra,omitempty" mapstructure:"extra"`
}

// Validate checks the fields every pipeline needs.
func (c PluginConfig) Validate() error {
	if c.Class == "" {
		return fmt.Errorf("%w: class is required", ErrInvalidConfig)
	}
	if c.Pipeline == "" {
		return fmt.Errorf("%w: pipeline is required", ErrInvalidConfig)
	}
	switch c.Source {
	case SourceStatic, SourceExcel, SourceCSV, SourceTXT, SourceDaily:
	case SourceKafka:
		if c.KafkaTopic == "" {
			return fmt.Errorf("%w: kafka_topic is required for kafka sources", ErrInvalidConfig)
		}
	case SourceMongoDB, SourceMySQL:
		if c.DBSchema == "" || c.DBTable == "" {
			return fmt.Errorf("%w: db_schema and db_table are required for %s sources", ErrInvalidConfig, c.Source)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}
	return nil
}

// Map returns the config as a generic map keyed by its JSON field names.
func (c PluginConfig) Map() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal plugin config: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	return out, nil
}

// Fingerprint identifies the config. Equal configs always share a
// fingerprint, so it keys plugin instances and item checkpoints.
func (c PluginConfig) Fingerprint() string {
	m, err := c.Map()
	if err != nil {
		// A config that cannot round-trip through JSON still needs a stable
		// identity; fall back to its printed form.
		return fingerprint.Of(fmt.Sprintf("%#v", c))
	}
	return fingerprint.Of(m)
}

// ClassFingerprint identifies the processor class alone. Cursor keys use it
// so tuning unrelated knobs does not reset a database cursor.
func (c PluginConfig) ClassFingerprint() string {
	return fingerprint.Of(c.Class)
}

// ExtraString returns a string setting from Extra.
func (c PluginConfig) ExtraString(key string) string {
	if c.Extra == nil {
		return ""
	}
	if v, ok := c.Extra[key].(string); ok {
		return v
	}
	return ""
}

// ExtraFloat returns a numeric setting from Extra, or def when absent or
// not a number. Strings holding numbers are accepted.
func (c PluginConfig) ExtraFloat(key string, def float64) float64 {
	switch v := c.Extra[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case stdjson.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// ExtraInt returns an integer setting from Extra, or def.
func (c PluginConfig) ExtraInt(key string, def int) int {
	return int(c.ExtraFloat(key, float64(def)))
}

// ExtraBool returns a boolean setting from Extra, or def.
func (c PluginConfig) ExtraBool(key string, def bool) bool {
	switch v := c.Extra[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
