// Package postgres stores wide result rows in Postgres JSONB columns.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// RowStore upserts rows shaped as (pk jsonb primary key, columns jsonb,
// updated_at timestamptz). Re-putting a key merges the new columns in.
type RowStore struct {
	pool   execer
	now    func() time.Time
	logger *zap.Logger
}

// NewRowStore wraps a pool. The pool's lifetime belongs to the caller.
func NewRowStore(pool execer, logger *zap.Logger) (*RowStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RowStore{pool: pool, now: time.Now, logger: logger}, nil
}

// PutRow upserts columns under pk in table. Column names that repeat a
// primary key column are dropped from the columns document.
func (s *RowStore) PutRow(ctx context.Context, table string, pk map[string]any, columns map[string]any) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(pk) == 0 {
		return errors.New("primary key is required")
	}
	cols := make(map[string]any, len(columns))
	for k, v := range columns {
		if _, isKey := pk[k]; isKey {
			s.logger.Warn("dropping primary key column from row data", zap.String("column", k))
			continue
		}
		cols[k] = v
	}
	pkJSON, err := json.Marshal(pk)
	if err != nil {
		return fmt.Errorf("marshal primary key: %w", err)
	}
	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %[1]s (pk, columns, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (pk) DO UPDATE SET
	columns = %[1]s.columns || EXCLUDED.columns,
	updated_at = EXCLUDED.updated_at`, table)
	if _, err := s.pool.Exec(ctx, query, pkJSON, colsJSON, s.now().UTC()); err != nil {
		return fmt.Errorf("put row into %s: %w", table, err)
	}
	return nil
}
