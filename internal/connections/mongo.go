package connections

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func dialMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

func (m *Manager) mongoSettings(schema string) (MongoConfig, error) {
	if c, ok := lookupSchema(m.cfg.Mongo, schema); ok && c.URI != "" {
		return c, nil
	}
	if c, ok := m.cfg.Mongo[DefaultSchema]; ok && c.URI != "" {
		return c, nil
	}
	return MongoConfig{}, fmt.Errorf("%w: mongodb schema %q", ErrNotConfigured, schema)
}

// MongoDatabase returns the database serving schema.
func (m *Manager) MongoDatabase(ctx context.Context, schema string) (*mongo.Database, error) {
	settings, err := m.mongoSettings(schema)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	client, ok := m.mongo[settings.URI]
	if !ok {
		client, err = m.openMongo(ctx, settings.URI)
		if err != nil {
			return nil, err
		}
		m.mongo[settings.URI] = client
		m.logger.Info("mongodb connected", zap.String("schema", schema))
	}
	name := settings.Database
	if name == "" {
		name = schema
	}
	return client.Database(name), nil
}

// MongoFinder scans collections in ascending _id order.
type MongoFinder struct {
	m *Manager
}

// Finder returns the MongoDB scan adapter.
func (m *Manager) Finder() *MongoFinder {
	return &MongoFinder{m: m}
}

// Find returns up to limit documents of schema.table matching filter,
// sorted by _id and projected to keys when any are given.
func (f *MongoFinder) Find(
	ctx context.Context,
	schema, table string,
	filter bson.M,
	limit int64,
	keys []string,
) ([]bson.M, error) {
	var out []bson.M
	err := f.m.Retry(ctx, "mongodb find", func(ctx context.Context) error {
		db, err := f.m.MongoDatabase(ctx, schema)
		if err != nil {
			return err
		}
		opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
		if len(keys) > 0 {
			proj := bson.D{{Key: "_id", Value: 1}}
			for _, k := range keys {
				if k != "_id" {
					proj = append(proj, bson.E{Key: k, Value: 1})
				}
			}
			opts.SetProjection(proj)
		}
		cur, err := db.Collection(table).Find(ctx, filter, opts)
		if err != nil {
			return fmt.Errorf("find %s.%s: %w", schema, table, err)
		}
		docs := make([]bson.M, 0, limit)
		if err := cur.All(ctx, &docs); err != nil {
			return fmt.Errorf("read %s.%s: %w", schema, table, err)
		}
		out = docs
		return nil
	})
	return out, err
}
