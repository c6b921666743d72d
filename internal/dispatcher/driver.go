package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/metrics"
)

// Driver walks the pages of one message.
type Driver struct {
	store  checkpoint.Store
	logger *zap.Logger
}

// NewDriver returns a Driver releasing checkpoints from store.
func NewDriver(store checkpoint.Store, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{store: store, logger: logger}
}

// Run pages through msg starting at page 1. The page count may grow as
// list pages report a larger maximum. A break signal from the list page or
// any detail task ends the walk once the current page is done.
func (d *Driver) Run(ctx context.Context, cfg ingest.PluginConfig, proc ingest.Processor, emit ingest.Emitter, msg *ingest.Record) {
	logger := d.logger.With(zap.String("plugin", cfg.Class))
	current, last := 1, 1
	for current <= last {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("page start", zap.Int("page", current), zap.Int("max_page", last))

		sig, err := d.page(ctx, proc, emit, msg, current, &last)
		if err != nil {
			metrics.ObservePageError(cfg.Class)
			logger.Error("page failed", zap.Int("page", current), zap.Error(err))
			d.release(ctx, logger, msg)
		}
		current++
		if sig == ingest.SignalBreak {
			metrics.ObserveBreakpoint(cfg.Class)
			logger.Warn("breakpoint signal", zap.Int("page", current-1))
			return
		}
	}
}

func (d *Driver) page(
	ctx context.Context,
	proc ingest.Processor,
	emit ingest.Emitter,
	msg *ingest.Record,
	current int,
	last *int,
) (ingest.Signal, error) {
	page, err := listPage(ctx, proc, msg, current)
	if err != nil {
		return ingest.SignalContinue, err
	}
	*last = max(*last, page.MaxPage)

	switch {
	case len(page.Records) == 0:
		d.logger.Debug("no records", zap.Int("page", current))
		d.release(ctx, d.logger, msg)
		return page.Signal, nil
	case !page.HasDetail:
		for _, rec := range page.Records {
			if err := emit.EmitResult(ctx, msg, rec); err != nil {
				return page.Signal, err
			}
		}
		return page.Signal, nil
	default:
		sig, err := fanOut(ctx, proc, msg, page.Records)
		if page.Signal == ingest.SignalBreak {
			sig = ingest.SignalBreak
		}
		return sig, err
	}
}

// fanOut runs one detail task per record and joins them all.
func fanOut(ctx context.Context, proc ingest.Processor, msg *ingest.Record, records []*ingest.Record) (ingest.Signal, error) {
	var (
		g    errgroup.Group
		stop atomic.Bool
		mu   sync.Mutex
		errs []error
	)
	for _, rec := range records {
		g.Go(func() error {
			sig, err := detailPage(ctx, proc, msg, rec)
			if sig == ingest.SignalBreak {
				stop.Store(true)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sig := ingest.SignalContinue
	if stop.Load() {
		sig = ingest.SignalBreak
	}
	return sig, errors.Join(errs...)
}

func listPage(ctx context.Context, proc ingest.Processor, msg *ingest.Record, current int) (page ingest.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("list page %d panicked: %v", current, r)
		}
	}()
	page, err = proc.ListPage(ctx, msg, current)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("list page %d: %w", current, err)
	}
	return page, nil
}

func detailPage(ctx context.Context, proc ingest.Processor, msg, rec *ingest.Record) (sig ingest.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detail page panicked: %v", r)
		}
	}()
	sig, err = proc.DetailPage(ctx, msg, rec)
	if err != nil {
		return sig, fmt.Errorf("detail page: %w", err)
	}
	return sig, nil
}

func (d *Driver) release(ctx context.Context, logger *zap.Logger, msg *ingest.Record) {
	if err := checkpoint.Release(ctx, d.store, msg); err != nil {
		logger.Warn("release checkpoint", zap.Error(err))
	}
}
