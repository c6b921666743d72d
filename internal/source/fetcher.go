package source

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
)

// Deps carries the collaborators fetchers may need. Only the ones used by
// a config's source kind must be set.
type Deps struct {
	Store   checkpoint.Store
	Clock   ingest.Clock
	Broker  Broker
	Finder  Finder
	MySQL   func(schema string) (Querier, error)
	Options Options
	Logger  *zap.Logger
}

// NewFetcher builds the fetcher for cfg's source kind.
func NewFetcher(cfg ingest.PluginConfig, deps Deps) (Fetcher, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Source {
	case ingest.SourceStatic:
		return &StaticFetcher{messages: cfg.Messages, logger: logger}, nil
	case ingest.SourceDaily:
		if deps.Clock == nil {
			return nil, fmt.Errorf("daily source requires a clock")
		}
		return &DailyFetcher{clock: deps.Clock}, nil
	case ingest.SourceCSV, ingest.SourceTXT, ingest.SourceExcel:
		if deps.Store == nil {
			return nil, fmt.Errorf("%s source requires a checkpoint store", cfg.Source)
		}
		return newFileFetcher(cfg, deps.Store, deps.Options, logger), nil
	case ingest.SourceKafka:
		if deps.Broker == nil {
			return nil, fmt.Errorf("kafka source requires a broker")
		}
		return &KafkaFetcher{cfg: cfg, broker: deps.Broker, opts: deps.Options, logger: logger}, nil
	case ingest.SourceMongoDB:
		if deps.Finder == nil || deps.Store == nil {
			return nil, fmt.Errorf("mongodb source requires a finder and a checkpoint store")
		}
		return NewMongoFetcher(cfg, deps.Finder, deps.Store, deps.Options, logger), nil
	case ingest.SourceMySQL:
		if deps.MySQL == nil || deps.Store == nil {
			return nil, fmt.Errorf("mysql source requires a connection and a checkpoint store")
		}
		db, err := deps.MySQL(cfg.DBSchema)
		if err != nil {
			return nil, fmt.Errorf("mysql schema %q: %w", cfg.DBSchema, err)
		}
		return NewMySQLFetcher(cfg, db, deps.Store, deps.Options, logger)
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ingest.ErrInvalidConfig, cfg.Source)
	}
}

// StaticFetcher replays the literal messages of the config.
type StaticFetcher struct {
	messages []any
	logger   *zap.Logger
}

// Fetch returns a fresh copy of every configured message. Entries that are
// not objects are logged and skipped.
func (f *StaticFetcher) Fetch(context.Context, Outlet) ([]*ingest.Record, error) {
	out := make([]*ingest.Record, 0, len(f.messages))
	for _, m := range f.messages {
		rec, ok := toRecord(m)
		if !ok {
			f.logger.Error("invalid message", zap.Any("message", m))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DailyFetcher emits one message naming yesterday's date.
type DailyFetcher struct {
	clock ingest.Clock
}

// Fetch returns {date: YYYY-MM-DD} for the day before now.
func (f *DailyFetcher) Fetch(context.Context, Outlet) ([]*ingest.Record, error) {
	yesterday := f.clock.Now().AddDate(0, 0, -1).Format("2006-01-02")
	return []*ingest.Record{ingest.RecordOf("date", yesterday)}, nil
}

func toRecord(v any) (*ingest.Record, bool) {
	switch t := v.(type) {
	case *ingest.Record:
		return t.Clone(), true
	case map[string]any:
		return ingest.RecordFromMap(t, sortedKeys(t)...).Clone(), true
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return ingest.RecordFromMap(m, sortedKeys(m)...).Clone(), true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
