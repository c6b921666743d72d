package source

import (
	"bytes"
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// Broker hands out one message at a time. Poll returns nil when nothing is
// waiting.
type Broker interface {
	Poll(ctx context.Context, topic, group string) ([]byte, error)
}

// KafkaFetcher polls one message per fetch.
type KafkaFetcher struct {
	cfg    ingest.PluginConfig
	broker Broker
	opts   Options
	logger *zap.Logger
}

// Fetch decodes the next payload as a message, or a list of messages.
// Payloads that are not JSON objects are logged and dropped.
func (f *KafkaFetcher) Fetch(ctx context.Context, _ Outlet) ([]*ingest.Record, error) {
	payload, err := f.broker.Poll(ctx, f.cfg.KafkaTopic, f.cfg.KafkaGroup)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", f.cfg.KafkaTopic, err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		f.logger.Debug("no records in kafka queue", zap.String("group", f.cfg.KafkaGroup))
		_ = retry.Sleep(ctx, f.opts.PollInterval)
		return nil, nil
	}

	trimmed := bytes.TrimSpace(payload)
	if trimmed[0] == '[' {
		var batch []*ingest.Record
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			f.logger.Error("undecodable kafka payload", zap.ByteString("payload", payload), zap.Error(err))
			return nil, nil
		}
		return batch, nil
	}
	msg := ingest.NewRecord()
	if err := json.Unmarshal(trimmed, msg); err != nil {
		f.logger.Error("undecodable kafka payload", zap.ByteString("payload", payload), zap.Error(err))
		return nil, nil
	}
	return []*ingest.Record{msg}, nil
}
