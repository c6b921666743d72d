package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/metrics"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/queue"
	"github.com/JakeFAU/icrawler/internal/retry"
	"github.com/JakeFAU/icrawler/internal/telemetry"
)

// shared is the state every worker of a pool reads.
type shared struct {
	source    queue.Queue
	sink      queue.Queue
	store     checkpoint.Store
	registry  *plugin.Registry
	instances *plugin.Cache[binding]
	driver    *Driver
	opts      Options
}

// Worker pops envelopes off the source queue and drives their processor.
type Worker struct {
	*shared
	logger *zap.Logger
}

// Run loops until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(stage)
	defer metrics.DecActiveWorkers(stage)

	for ctx.Err() == nil {
		item, ok := w.source.Pop()
		if !ok {
			if err := retry.Sleep(ctx, w.opts.IdleInterval); err != nil {
				return
			}
			continue
		}
		metrics.ObserveEnvelope(stage)
		if err := w.handle(ctx, item); err != nil {
			w.logger.Error("dispatch failed", zap.Error(err))
			if err := retry.Sleep(ctx, w.opts.ErrorInterval); err != nil {
				return
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, item queue.Item) error {
	env, err := ingest.DecodeEnvelope(item.Body)
	if err != nil {
		return err
	}
	cfg := env.Config
	fp := cfg.Fingerprint()
	logger := w.logger.With(zap.String("plugin", cfg.Class), zap.String("fingerprint", fp))
	ctx, span := telemetry.StartSpan(ctx, stage,
		attribute.String("plugin", cfg.Class),
		attribute.String("fingerprint", fp),
		attribute.Int("priority", item.Priority),
	)
	defer span.End()

	b, err := w.resolve(cfg, fp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve processor")
		logger.Error("resolve processor", zap.Error(err))
		if err := checkpoint.Release(ctx, w.store, env.Message); err != nil {
			logger.Warn("release checkpoint", zap.Error(err))
		}
		return nil
	}
	w.driver.Run(ctx, cfg, b.proc, b.emit, env.Message)
	return nil
}

func (w *Worker) resolve(cfg ingest.PluginConfig, fp string) (binding, error) {
	b, err := w.instances.Get(fp, func() (binding, error) {
		if err := cfg.Validate(); err != nil {
			return binding{}, err
		}
		emit := NewEmitter(cfg, w.source, w.sink, w.store, w.opts, w.logger)
		proc, err := w.registry.NewProcessor(cfg, emit)
		if err != nil {
			return binding{}, err
		}
		return binding{proc: proc, emit: emit}, nil
	})
	if err != nil {
		return binding{}, fmt.Errorf("resolve %s: %w", cfg.Class, err)
	}
	return b, nil
}
