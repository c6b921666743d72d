// Package source feeds the source queue. One Provider runs per plugin
// config; it gates on the config's run window, replays in-flight snapshots
// left by a previous process and then pulls batches from a Fetcher.
package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/metrics"
	"github.com/JakeFAU/icrawler/internal/queue"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// Options tunes provider pacing.
type Options struct {
	// Capacity is the advisory bound of the source queue.
	Capacity int
	// BackpressureInterval is the poll period while the queue is full.
	BackpressureInterval time.Duration
	// ErrorInterval is the pause after an unexpected error.
	ErrorInterval time.Duration
	// FetchErrorInterval is the pause after a failed fetch.
	FetchErrorInterval time.Duration
	// PassInterval separates passes over a looping local source.
	PassInterval time.Duration
	// WindowInterval is the run-window poll period.
	WindowInterval time.Duration
	// EmptyInterval is the pause after a database scan returned nothing.
	EmptyInterval time.Duration
	// PollInterval is the pause after an empty broker poll.
	PollInterval time.Duration
	// MarkInterval is the pause between mark saves while a file source waits
	// for queue room.
	MarkInterval time.Duration
}

// DefaultOptions mirrors the production pacing.
func DefaultOptions() Options {
	return Options{
		Capacity:             queue.DefaultCapacity,
		BackpressureInterval: 10 * time.Second,
		ErrorInterval:        3 * time.Second,
		FetchErrorInterval:   10 * time.Second,
		PassInterval:         60 * time.Second,
		WindowInterval:       10 * time.Second,
		EmptyInterval:        3 * time.Second,
		PollInterval:         time.Second,
		MarkInterval:         2 * time.Second,
	}
}

// Outlet accepts messages from a fetcher. Streaming fetchers consult Full
// to record progress before they block.
type Outlet interface {
	Push(ctx context.Context, msg *ingest.Record) error
	Full() bool
}

// Fetcher pulls the next batch for one source kind. Streaming fetchers may
// push directly to out and return no batch.
type Fetcher interface {
	Fetch(ctx context.Context, out Outlet) ([]*ingest.Record, error)
}

// Provider runs the fetch loop of one plugin config.
type Provider struct {
	cfg     ingest.PluginConfig
	fp      string
	queue   queue.Queue
	store   checkpoint.Store
	fetcher Fetcher
	clock   ingest.Clock
	opts    Options
	logger  *zap.Logger
}

// NewProvider wires a provider for cfg.
func NewProvider(
	cfg ingest.PluginConfig,
	q queue.Queue,
	store checkpoint.Store,
	fetcher Fetcher,
	clock ingest.Clock,
	opts Options,
	logger *zap.Logger,
) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	fp := cfg.Fingerprint()
	return &Provider{
		cfg:     cfg,
		fp:      fp,
		queue:   q,
		store:   store,
		fetcher: fetcher,
		clock:   clock,
		opts:    opts,
		logger:  logger.With(zap.String("class", cfg.Class), zap.String("source", string(cfg.Source)), zap.String("fingerprint", fp)),
	}
}

// Run loops until ctx ends. A local source without loop stops after one pass.
func (p *Provider) Run(ctx context.Context) {
	p.logger.Info("source provider started")
	first := true
	for ctx.Err() == nil {
		if err := WaitForWindow(ctx, p.cfg, p.clock, p.opts.WindowInterval); err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("run window check failed", zap.Error(err))
			p.pause(ctx, p.opts.ErrorInterval)
			continue
		}

		if first {
			first = false
			n, err := p.Recover(ctx)
			if err != nil {
				p.logger.Error("checkpoint recovery failed", zap.Error(err))
			} else if n > 0 {
				p.logger.Info("recovered in-flight messages", zap.Int("count", n))
			}
		}

		if p.cfg.Source.Local() {
			if err := p.pushBatch(ctx); err != nil {
				p.logger.Error("local source pass failed", zap.Error(err))
				p.pause(ctx, p.opts.FetchErrorInterval)
				continue
			}
			if !p.cfg.Loop {
				break
			}
			p.logger.Info("local source pass finished")
			p.pause(ctx, p.opts.PassInterval)
			continue
		}

		if queue.Full(p.queue, p.opts.Capacity) {
			p.logger.Debug("too many messages in source queue")
			p.pause(ctx, p.opts.BackpressureInterval)
			continue
		}
		if err := p.pushBatch(ctx); err != nil {
			p.logger.Error("get message error", zap.Error(err))
			p.pause(ctx, p.opts.FetchErrorInterval)
		}
	}
	p.logger.Info("source provider stopped")
}

// Recover replays the snapshots left for this config. Each entry is read,
// deleted and pushed again through the normal path, which snapshots it
// back under the same key.
func (p *Provider) Recover(ctx context.Context) (int, error) {
	keys, err := checkpoint.ItemKeys(ctx, p.store, p.fp)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	recovered := 0
	for _, key := range keys {
		msg := ingest.NewRecord()
		found, err := p.store.Read(ctx, key, msg)
		if err != nil {
			p.logger.Error("load cache file failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Error("remove cache file failed", zap.String("key", key), zap.Error(err))
		}
		if !found {
			continue
		}
		if err := p.Push(ctx, msg); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Push snapshots non-local messages and enqueues the envelope, waiting
// while the source queue is full.
func (p *Provider) Push(ctx context.Context, msg *ingest.Record) error {
	if !p.cfg.Source.Local() {
		if _, err := checkpoint.Snapshot(ctx, p.store, p.fp, msg); err != nil {
			p.logger.Error("cache message failed", zap.Error(err))
		}
	}
	prio, body, err := ingest.Envelope{Priority: p.cfg.Priority, Config: p.cfg, Message: msg}.Encode()
	if err != nil {
		return err
	}
	if err := queue.PushWhenReady(ctx, p.queue, p.opts.Capacity, p.opts.BackpressureInterval, prio, body); err != nil {
		return err
	}
	metrics.ObserveProviderItems(string(p.cfg.Source), 1)
	return nil
}

// Full reports whether the source queue is at capacity.
func (p *Provider) Full() bool {
	return queue.Full(p.queue, p.opts.Capacity)
}

func (p *Provider) pushBatch(ctx context.Context) error {
	batch, err := p.fetcher.Fetch(ctx, p)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p.cfg.Source, err)
	}
	for _, msg := range batch {
		if msg == nil {
			continue
		}
		if err := p.Push(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) pause(ctx context.Context, d time.Duration) {
	_ = retry.Sleep(ctx, d)
}
