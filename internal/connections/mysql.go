package connections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

func dialMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// mysqlDSN returns the DSN for schema. A schema without its own entry uses
// the default server with the schema as database name.
func (m *Manager) mysqlDSN(schema string) (MySQLConfig, error) {
	if c, ok := lookupSchema(m.cfg.MySQL, schema); ok && c.DSN != "" {
		return c, nil
	}
	c, ok := m.cfg.MySQL[DefaultSchema]
	if !ok || c.DSN == "" {
		return MySQLConfig{}, fmt.Errorf("%w: mysql schema %q", ErrNotConfigured, schema)
	}
	parsed, err := mysql.ParseDSN(c.DSN)
	if err != nil {
		return MySQLConfig{}, fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.DBName = schema
	parsed.ParseTime = true
	c.DSN = parsed.FormatDSN()
	return c, nil
}

// MySQL returns the pooled handle for schema.
func (m *Manager) MySQL(schema string) (*sql.DB, error) {
	settings, err := m.mysqlDSN(schema)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if db, ok := m.mysql[schema]; ok {
		return db, nil
	}
	db, err := m.openMySQL(settings.DSN)
	if err != nil {
		return nil, err
	}
	if settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(settings.MaxOpenConns)
	}
	m.mysql[schema] = db
	m.logger.Info("mysql pool opened", zap.String("schema", schema))
	return db, nil
}

// MySQLQuerier wraps a handle so queries are retried.
type MySQLQuerier struct {
	m  *Manager
	db *sql.DB
}

// Querier returns a retrying query adapter for schema.
func (m *Manager) Querier(schema string) (*MySQLQuerier, error) {
	db, err := m.MySQL(schema)
	if err != nil {
		return nil, err
	}
	return &MySQLQuerier{m: m, db: db}, nil
}

// QueryContext runs query under the retry policy.
func (q *MySQLQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := q.m.Retry(ctx, "mysql query", func(ctx context.Context) error {
		r, err := q.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	return rows, err
}
