// Package connections owns every outbound client of the process. Clients
// are opened lazily on first use, cached per schema and closed together.
package connections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/retry"
)

// ErrNotConfigured is returned when a client is requested without settings.
var ErrNotConfigured = errors.New("connection not configured")

// DefaultSchema names the fallback entry of the per-schema maps.
const DefaultSchema = "default"

// MongoConfig locates one MongoDB deployment.
type MongoConfig struct {
	URI string `mapstructure:"uri"`
	// Database overrides the schema name as the database to open.
	Database string `mapstructure:"database"`
}

// MySQLConfig locates one MySQL server.
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// KafkaConfig configures the sarama consumer and producer.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Version       string        `mapstructure:"version"`
	InitialOffset string        `mapstructure:"initial_offset"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

// PostgresConfig configures the result row pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig names the Google Cloud project for Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// GCSConfig enables the Cloud Storage client.
type GCSConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RetryConfig bounds collaborator retries.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// Config gathers every connection section.
type Config struct {
	Mongo    map[string]MongoConfig `mapstructure:"mongodb"`
	MySQL    map[string]MySQLConfig `mapstructure:"mysql"`
	Kafka    KafkaConfig            `mapstructure:"kafka"`
	Postgres PostgresConfig         `mapstructure:"postgres"`
	PubSub   PubSubConfig           `mapstructure:"pubsub"`
	GCS      GCSConfig              `mapstructure:"gcs"`
	Retry    RetryConfig            `mapstructure:"retry"`
}

// Manager lazily opens and caches clients.
type Manager struct {
	cfg    Config
	policy retry.FixedPolicy
	logger *zap.Logger

	mu        sync.Mutex
	mongo     map[string]*mongo.Client
	mysql     map[string]*sql.DB
	broker    *KafkaBroker
	producer  *KafkaProducer
	postgres  *pgxpool.Pool
	gcs       *storage.Client
	pubsub    *pubsub.Client
	closed    bool
	openMongo func(ctx context.Context, uri string) (*mongo.Client, error)
	openMySQL func(dsn string) (*sql.DB, error)
}

// New returns a Manager; nothing is dialed until first use.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.NewFixedPolicy()
	if cfg.Retry.Attempts > 0 {
		policy.MaxAttempts = cfg.Retry.Attempts
	}
	if cfg.Retry.Backoff > 0 {
		policy.Delay = cfg.Retry.Backoff
	}
	return &Manager{
		cfg:       cfg,
		policy:    policy,
		logger:    logger.Named("connections"),
		mongo:     make(map[string]*mongo.Client),
		mysql:     make(map[string]*sql.DB),
		openMongo: dialMongo,
		openMySQL: dialMySQL,
	}
}

// Retry runs fn under the collaborator retry policy.
func (m *Manager) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, m.policy, fn)
	if err != nil {
		m.logger.Warn("collaborator gave up", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) checkOpen() error {
	if m.closed {
		return errors.New("connection manager closed")
	}
	return nil
}

// Close releases every opened client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for schema, c := range m.mongo {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect mongodb %s: %w", schema, err))
		}
	}
	for schema, db := range m.mysql {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mysql %s: %w", schema, err))
		}
	}
	if m.broker != nil {
		if err := m.broker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.postgres != nil {
		m.postgres.Close()
	}
	if m.gcs != nil {
		if err := m.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs: %w", err))
		}
	}
	if m.pubsub != nil {
		if err := m.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	return errors.Join(errs...)
}

func saramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka version: %w", err)
		}
		sc.Version = v
	}
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	switch cfg.InitialOffset {
	case "newest", "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	return sc, nil
}

// lookupSchema finds schema in m, falling back to its lower-case form since
// config loaders may fold key case.
func lookupSchema[T any](m map[string]T, schema string) (T, bool) {
	if c, ok := m[schema]; ok {
		return c, true
	}
	c, ok := m[strings.ToLower(schema)]
	return c, ok
}
