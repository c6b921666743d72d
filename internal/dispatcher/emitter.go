package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/queue"
)

// Emitter pushes a processor's output for one config.
type Emitter struct {
	cfg    ingest.PluginConfig
	fp     string
	source queue.Queue
	sink   queue.Queue
	store  checkpoint.Store
	opts   Options
	logger *zap.Logger
}

var _ ingest.Emitter = (*Emitter)(nil)

// NewEmitter binds an emitter to cfg.
func NewEmitter(
	cfg ingest.PluginConfig,
	source, sink queue.Queue,
	store checkpoint.Store,
	opts Options,
	logger *zap.Logger,
) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		cfg:    cfg,
		fp:     cfg.Fingerprint(),
		source: source,
		sink:   sink,
		store:  store,
		opts:   opts,
		logger: logger.Named("emitter"),
	}
}

// EmitResult hands result to the sink stage, waiting while the sink queue is full.
func (e *Emitter) EmitResult(ctx context.Context, msg, result *ingest.Record) error {
	env := ingest.Envelope{Priority: e.cfg.Priority, Config: e.cfg, Message: msg, Result: result}
	priority, body, err := env.Encode()
	if err != nil {
		return err
	}
	if err := queue.PushWhenReady(ctx, e.sink, e.opts.SinkCapacity, e.opts.BackpressureInterval, priority, body); err != nil {
		return fmt.Errorf("emit result: %w", err)
	}
	return nil
}

// EmitMessage snapshots msg under this config and schedules it on the
// source queue. The push skips the size check: dispatcher workers are the
// only consumers of that queue and must never wait on themselves.
func (e *Emitter) EmitMessage(ctx context.Context, msg *ingest.Record) error {
	next := msg.Clone()
	if _, err := checkpoint.Snapshot(ctx, e.store, e.fp, next); err != nil {
		e.logger.Error("snapshot follow-up message", zap.String("plugin", e.cfg.Class), zap.Error(err))
	}
	env := ingest.Envelope{Priority: e.cfg.Priority, Config: e.cfg, Message: next}
	priority, body, err := env.Encode()
	if err != nil {
		return err
	}
	e.source.Push(priority, body)
	return nil
}
