// Package sink drains the sink queue into pipeline plugins and acknowledges
// each item by deleting its checkpoint.
package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

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

const stage = "sink"

// Options tunes the sink pool.
type Options struct {
	Workers int
	// IdleInterval is the pause after finding the sink queue empty.
	IdleInterval time.Duration
	// ErrorInterval is the pause after an unexpected error.
	ErrorInterval time.Duration
}

// DefaultOptions mirrors the production pacing.
func DefaultOptions() Options {
	return Options{
		Workers:       1,
		IdleInterval:  10 * time.Second,
		ErrorInterval: 3 * time.Second,
	}
}

// Pool runs the sink workers.
type Pool struct {
	workers []*Worker
}

// New creates a Pool whose workers share one pipeline cache.
func New(q queue.Queue, store checkpoint.Store, registry *plugin.Registry, opts Options, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	pipelines := plugin.NewCache[ingest.Pipeline]()
	workers := make([]*Worker, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		workers = append(workers, &Worker{
			queue:     q,
			store:     store,
			registry:  registry,
			pipelines: pipelines,
			opts:      opts,
			logger:    logger.With(zap.Int("worker", i)),
		})
	}
	return &Pool{workers: workers}
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Worker hands results to their pipeline.
type Worker struct {
	queue     queue.Queue
	store     checkpoint.Store
	registry  *plugin.Registry
	pipelines *plugin.Cache[ingest.Pipeline]
	opts      Options
	logger    *zap.Logger
}

// Run loops until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(stage)
	defer metrics.DecActiveWorkers(stage)

	for ctx.Err() == nil {
		item, ok := w.queue.Pop()
		if !ok {
			if err := retry.Sleep(ctx, w.opts.IdleInterval); err != nil {
				return
			}
			continue
		}
		metrics.ObserveEnvelope(stage)
		if err := w.Handle(ctx, item); err != nil {
			w.logger.Error("sink failed", zap.Error(err))
			if err := retry.Sleep(ctx, w.opts.ErrorInterval); err != nil {
				return
			}
		}
	}
}

// Handle processes one sink envelope. Pipeline failures are logged and the
// checkpoint is still released; only decode and resolution failures are
// returned, and those leave the checkpoint in place for the next start.
func (w *Worker) Handle(ctx context.Context, item queue.Item) error {
	env, err := ingest.DecodeEnvelope(item.Body)
	if err != nil {
		return err
	}
	cfg := env.Config
	fp := cfg.Fingerprint()
	ctx, span := telemetry.StartSpan(ctx, stage,
		attribute.String("pipeline", cfg.Pipeline),
		attribute.String("fingerprint", fp),
	)
	defer span.End()

	pipe, err := w.pipelines.Get(fp, func() (ingest.Pipeline, error) {
		return w.registry.NewPipeline(cfg)
	})
	if err != nil {
		return fmt.Errorf("resolve pipeline %s: %w", cfg.Pipeline, err)
	}

	logger := w.logger.With(zap.String("pipeline", cfg.Pipeline), zap.String("fingerprint", fp))
	result := env.Result
	if result == nil {
		result = ingest.NewRecord()
	}
	result.NormalizeNulls()

	status := "ok"
	if err := process(ctx, pipe, cfg, result, env.Message.Clone()); err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		logger.Error("pipeline failed", zap.Error(err))
	}
	metrics.ObserveSinkResult(cfg.Pipeline, status)

	if err := checkpoint.Release(ctx, w.store, env.Message); err != nil {
		logger.Warn("release checkpoint", zap.Error(err))
	}
	return nil
}

func process(ctx context.Context, pipe ingest.Pipeline, cfg ingest.PluginConfig, result, msg *ingest.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	if err := pipe.Process(ctx, cfg, result, msg); err != nil {
		return fmt.Errorf("process result: %w", err)
	}
	return nil
}
