package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/connections"
	"github.com/JakeFAU/icrawler/internal/id/uuid"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/publisher"
	kafkapub "github.com/JakeFAU/icrawler/internal/publisher/kafka"
	pubsubpub "github.com/JakeFAU/icrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/icrawler/internal/storage"
	"github.com/JakeFAU/icrawler/internal/storage/gcs"
	"github.com/JakeFAU/icrawler/internal/storage/local"
	"github.com/JakeFAU/icrawler/internal/storage/postgres"
)

// Fields stamped on every outgoing message.
const (
	TypeField     = "_type"
	DataIDField   = "_dataid"
	TraceIDField  = "_traceid"
	SentTimeField = "_sent_time"

	sentTimeLayout = "2006-01-02 15:04:05"
)

// IDGenerator produces data and trace ids.
type IDGenerator interface {
	NewID() (string, error)
	NewTraceID() (string, error)
}

// Outputs are the destinations a RecordPipeline writes to. Nil outputs are skipped.
type Outputs struct {
	Blob        storage.BlobStore
	Rows        storage.RowWriter
	RowTable    string
	Kafka       publisher.Publisher
	KafkaTopic  string
	PubSub      publisher.Publisher
	PubSubTopic string
}

// RecordPipeline stamps each message with tracking fields and fans the
// result out to blob storage, a row table, Kafka and Pub/Sub.
type RecordPipeline struct {
	dataType string
	out      Outputs
	ids      IDGenerator
	now      func() time.Time
	logger   *zap.Logger
}

// NewRecord builds a RecordPipeline over explicit outputs.
func NewRecord(dataType string, out Outputs, ids IDGenerator, logger *zap.Logger) *RecordPipeline {
	if ids == nil {
		ids = uuid.NewUUIDGenerator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordPipeline{dataType: dataType, out: out, ids: ids, now: time.Now, logger: logger}
}

// NewRecordPipeline is the PipelineFactory for RecordID. Outputs come from
// the config's extra section and are opened through the connection manager.
func NewRecordPipeline(cfg ingest.PluginConfig, deps plugin.Deps) (ingest.Pipeline, error) {
	dataType := cfg.ExtraString("type")
	if dataType == "" {
		return nil, fmt.Errorf("%w: extra.type is required", ingest.ErrInvalidConfig)
	}
	out, err := openOutputs(context.Background(), cfg, deps.Conn, deps.Logger)
	if err != nil {
		return nil, err
	}
	return NewRecord(dataType, out, nil, deps.Logger), nil
}

func openOutputs(ctx context.Context, cfg ingest.PluginConfig, conn *connections.Manager, logger *zap.Logger) (Outputs, error) {
	var out Outputs
	switch kind := cfg.ExtraString("blob"); kind {
	case "":
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.ExtraString("blob_dir")})
		if err != nil {
			return out, fmt.Errorf("local blob store: %w", err)
		}
		out.Blob = store
	case "gcs":
		if conn == nil {
			return out, fmt.Errorf("gcs blob store: %w", connections.ErrNotConfigured)
		}
		client, err := conn.Storage(ctx)
		if err != nil {
			return out, fmt.Errorf("gcs blob store: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: cfg.ExtraString("blob_bucket"),
			Prefix: cfg.ExtraString("blob_prefix"),
		})
		if err != nil {
			return out, fmt.Errorf("gcs blob store: %w", err)
		}
		out.Blob = store
	default:
		return out, fmt.Errorf("%w: unknown blob output %q", ingest.ErrInvalidConfig, kind)
	}

	if out.RowTable = cfg.ExtraString("row_table"); out.RowTable != "" {
		if conn == nil {
			return out, fmt.Errorf("row output: %w", connections.ErrNotConfigured)
		}
		pool, err := conn.Postgres(ctx)
		if err != nil {
			return out, fmt.Errorf("row output: %w", err)
		}
		rows, err := postgres.NewRowStore(pool, logger)
		if err != nil {
			return out, fmt.Errorf("row output: %w", err)
		}
		out.Rows = rows
	}

	if out.KafkaTopic = cfg.ExtraString("kafka_out"); out.KafkaTopic != "" {
		if conn == nil {
			return out, fmt.Errorf("kafka output: %w", connections.ErrNotConfigured)
		}
		producer, err := conn.Producer()
		if err != nil {
			return out, fmt.Errorf("kafka output: %w", err)
		}
		out.Kafka = kafkapub.New(producer)
	}

	if out.PubSubTopic = cfg.ExtraString("pubsub_topic"); out.PubSubTopic != "" {
		if conn == nil {
			return out, fmt.Errorf("pubsub output: %w", connections.ErrNotConfigured)
		}
		client, err := conn.PubSub(ctx)
		if err != nil {
			return out, fmt.Errorf("pubsub output: %w", err)
		}
		out.PubSub = pubsubpub.New(client)
	}
	return out, nil
}

// Process writes result to every configured output. Kafka only receives the
// message once the blob write, if configured, has succeeded.
func (p *RecordPipeline) Process(ctx context.Context, _ ingest.PluginConfig, result *ingest.Record, msg *ingest.Record) error {
	stamped, dataID, err := p.stamp(msg)
	if err != nil {
		return err
	}
	logger := p.logger.With(zap.String("dataid", dataID))

	var errs []error
	blobOK := true
	if p.out.Blob != nil {
		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		name := path.Join(p.dataType, dataID+".json")
		uri, err := p.out.Blob.PutObject(ctx, name, "application/json", bytes.NewReader(body))
		if err != nil {
			blobOK = false
			errs = append(errs, fmt.Errorf("put blob %s: %w", name, err))
		} else {
			logger.Debug("result stored", zap.String("uri", uri))
		}
	}

	if p.out.Rows != nil {
		pk := map[string]any{DataIDField: dataID}
		columns := map[string]any{"parsed_data": result.Map()}
		if err := p.out.Rows.PutRow(ctx, p.out.RowTable, pk, columns); err != nil {
			errs = append(errs, fmt.Errorf("put row: %w", err))
		}
	}

	if p.out.Kafka != nil {
		if blobOK {
			if _, err := p.out.Kafka.Publish(ctx, p.out.KafkaTopic, stamped); err != nil {
				errs = append(errs, fmt.Errorf("offer to kafka %s: %w", p.out.KafkaTopic, err))
			}
		} else {
			logger.Warn("skipping kafka offer after failed blob write", zap.String("topic", p.out.KafkaTopic))
		}
	}

	if p.out.PubSub != nil {
		payload := map[string]any{"message": stamped, "result": result}
		if _, err := p.out.PubSub.Publish(ctx, p.out.PubSubTopic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", p.out.PubSubTopic, err))
		}
	}
	return errors.Join(errs...)
}

// stamp copies msg without its checkpoint reference and adds the tracking
// fields. Trace id and sent time already on the message are kept.
func (p *RecordPipeline) stamp(msg *ingest.Record) (*ingest.Record, string, error) {
	out := ingest.NewRecord()
	if msg != nil {
		out = msg.Clone()
	}
	out.ClearCheckpointRef()

	dataID, err := p.ids.NewID()
	if err != nil {
		return nil, "", err
	}
	out.Set(TypeField, p.dataType)
	out.Set(DataIDField, dataID)
	if out.String(TraceIDField) == "" {
		traceID, err := p.ids.NewTraceID()
		if err != nil {
			return nil, "", err
		}
		out.Set(TraceIDField, traceID)
	}
	if out.String(SentTimeField) == "" {
		out.Set(SentTimeField, p.now().Format(sentTimeLayout))
	}
	return out, dataID, nil
}
