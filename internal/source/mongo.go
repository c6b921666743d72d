package source

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// Finder runs an _id-ordered find against a collection.
type Finder interface {
	Find(ctx context.Context, schema, table string, filter bson.M, limit int64, keys []string) ([]bson.M, error)
}

// MongoFetcher scans a collection incrementally by ObjectID.
type MongoFetcher struct {
	cfg    ingest.PluginConfig
	key    string
	finder Finder
	store  checkpoint.Store
	opts   Options
	logger *zap.Logger
}

// NewMongoFetcher builds a fetcher whose cursor is keyed by schema, table
// and processor class.
func NewMongoFetcher(cfg ingest.PluginConfig, finder Finder, store checkpoint.Store, opts Options, logger *zap.Logger) *MongoFetcher {
	return &MongoFetcher{
		cfg:    cfg,
		key:    checkpoint.CursorKey(string(ingest.SourceMongoDB), cfg.DBSchema, cfg.DBTable, cfg.ClassFingerprint()),
		finder: finder,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Fetch returns the documents after the cursor and advances it to the
// highest id seen. An empty scan on a looping config deletes the cursor so
// the next scan starts from the beginning.
func (f *MongoFetcher) Fetch(ctx context.Context, _ Outlet) ([]*ingest.Record, error) {
	var cursor string
	if _, err := f.store.Read(ctx, f.key, &cursor); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	filter := bson.M{}
	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			f.logger.Warn("discarding malformed cursor", zap.String("cursor", cursor), zap.Error(err))
			cursor = ""
		} else {
			filter["_id"] = bson.M{"$gt": oid}
		}
	}

	docs, err := f.finder.Find(ctx, f.cfg.DBSchema, f.cfg.DBTable, filter, int64(f.cfg.DBLimit), f.cfg.DBKeys)
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", f.cfg.DBSchema, f.cfg.DBTable, err)
	}
	if len(docs) == 0 {
		f.logger.Warn("no records in mongodb", zap.String("table", f.cfg.DBTable))
		if f.cfg.Loop {
			if err := f.store.Delete(ctx, f.key); err != nil {
				return nil, fmt.Errorf("reset cursor: %w", err)
			}
		}
		_ = retry.Sleep(ctx, f.opts.EmptyInterval)
		return nil, nil
	}

	batch := make([]*ingest.Record, 0, len(docs))
	highest := cursor
	for _, doc := range docs {
		id := objectIDString(doc["_id"])
		if id > highest {
			highest = id
		}
		rec := ingest.NewRecord()
		for _, k := range f.cfg.DBKeys {
			v, ok := doc[k]
			if !ok {
				continue
			}
			if k == "_id" {
				v = id
			}
			rec.Set(k, v)
		}
		if rec.Len() > 0 {
			batch = append(batch, rec)
		}
	}
	if highest != cursor {
		f.logger.Debug("advancing cursor", zap.String("table", f.cfg.DBTable), zap.String("object_id", highest))
		if err := f.store.Write(ctx, f.key, highest); err != nil {
			return nil, fmt.Errorf("write cursor: %w", err)
		}
	}
	return batch, nil
}

func objectIDString(v any) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
