package source

import (
	"context"
	"database/sql"
	stdjson "encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// Querier is the subset of *sql.DB used by the MySQL source.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	validTable      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// filterOps lists the supported db_filter operators in the order they are
// rendered.
var filterOps = []struct {
	name string
	sql  string
}{
	{"$e", "="},
	{"$ne", "!="},
	{"$lt", "<"},
	{"$lte", "<="},
	{"$gt", ">"},
	{"$gte", ">="},
}

// MySQLFetcher scans a table incrementally by its auto-increment id.
type MySQLFetcher struct {
	cfg    ingest.PluginConfig
	keys   []string
	key    string
	db     Querier
	store  checkpoint.Store
	opts   Options
	logger *zap.Logger
}

// NewMySQLFetcher validates the table and columns and builds a fetcher.
// The id column is always projected first.
func NewMySQLFetcher(cfg ingest.PluginConfig, db Querier, store checkpoint.Store, opts Options, logger *zap.Logger) (*MySQLFetcher, error) {
	if !validTable.MatchString(cfg.DBTable) {
		return nil, fmt.Errorf("%w: table name %q", ingest.ErrInvalidConfig, cfg.DBTable)
	}
	keys := []string{"id"}
	for _, k := range cfg.DBKeys {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		if !validIdentifier.MatchString(k) {
			return nil, fmt.Errorf("%w: column name %q", ingest.ErrInvalidConfig, k)
		}
	}
	for _, op := range filterOps {
		for col := range cfg.DBFilter[op.name] {
			if !validIdentifier.MatchString(col) {
				return nil, fmt.Errorf("%w: filter column %q", ingest.ErrInvalidConfig, col)
			}
		}
	}
	return &MySQLFetcher{
		cfg:    cfg,
		keys:   keys,
		key:    checkpoint.CursorKey(string(ingest.SourceMySQL), cfg.DBSchema, cfg.DBTable, cfg.ClassFingerprint()),
		db:     db,
		store:  store,
		opts:   opts,
		logger: logger,
	}, nil
}

// Query renders the scan statement for the given cursor (0 means none).
func (f *MySQLFetcher) Query(cursor int64) (string, []any) {
	cols := make([]string, len(f.keys))
	for i, k := range f.keys {
		cols[i] = quoteIdent(k)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ","), quoteTable(f.cfg.DBTable))

	var (
		conds []string
		args  []any
	)
	for _, op := range filterOps {
		values := make(map[string]any, len(f.cfg.DBFilter[op.name])+1)
		for col, v := range f.cfg.DBFilter[op.name] {
			values[col] = v
		}
		if op.name == "$gt" && cursor > 0 {
			values["id"] = cursor
		}
		cols := make([]string, 0, len(values))
		for col := range values {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			conds = append(conds, fmt.Sprintf("%s %s ?", quoteIdent(col), op.sql))
			args = append(args, values[col])
		}
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY `id`")
	if f.cfg.DBLimit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.cfg.DBLimit)
	}
	return b.String(), args
}

// Fetch returns the rows after the cursor and advances it to the highest
// id seen. An empty scan on a looping config deletes the cursor.
func (f *MySQLFetcher) Fetch(ctx context.Context, _ Outlet) ([]*ingest.Record, error) {
	var cursor int64
	if _, err := f.store.Read(ctx, f.key, &cursor); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	query, args := f.Query(cursor)
	batch, highest, err := f.scan(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		f.logger.Warn("no records in mysql", zap.String("table", f.cfg.DBTable), zap.String("query", query))
		if f.cfg.Loop {
			if err := f.store.Delete(ctx, f.key); err != nil {
				return nil, fmt.Errorf("reset cursor: %w", err)
			}
		}
		_ = retry.Sleep(ctx, f.opts.EmptyInterval)
		return nil, nil
	}
	if highest > cursor {
		f.logger.Debug("advancing cursor", zap.String("table", f.cfg.DBTable), zap.Int64("id", highest))
		if err := f.store.Write(ctx, f.key, highest); err != nil {
			return nil, fmt.Errorf("write cursor: %w", err)
		}
	}
	return batch, nil
}

func (f *MySQLFetcher) scan(ctx context.Context, query string, args []any) ([]*ingest.Record, int64, error) {
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query %s: %w", f.cfg.DBTable, err)
	}
	defer rows.Close()

	dateCols := make(map[int]bool)
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			if strings.EqualFold(ct.DatabaseTypeName(), "DATE") {
				dateCols[i] = true
			}
		}
	}

	var (
		batch   []*ingest.Record
		highest int64
	)
	values := make([]any, len(f.keys))
	ptrs := make([]any, len(f.keys))
	for rows.Next() {
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", f.cfg.DBTable, err)
		}
		rec := ingest.NewRecord()
		for i, k := range f.keys {
			rec.Set(k, convertColumn(values[i], dateCols[i]))
		}
		if id, ok := toInt64(values[0]); ok && id > highest {
			highest = id
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", f.cfg.DBTable, err)
	}
	return batch, highest, nil
}

func convertColumn(v any, date bool) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		if date {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint64:
		return int64(t), true //nolint:gosec // auto-increment ids fit in int64
	case float64:
		return int64(t), true
	case stdjson.Number:
		n, err := t.Int64()
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}

func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
