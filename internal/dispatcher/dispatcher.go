// Package dispatcher drains the source queue through processor plugins.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/queue"
)

const stage = "dispatch"

// Options tunes the dispatcher pool.
type Options struct {
	Workers int
	// SinkCapacity is the advisory bound of the sink queue.
	SinkCapacity int
	// IdleInterval is the pause after finding the source queue empty.
	IdleInterval time.Duration
	// ErrorInterval is the pause after an unexpected error.
	ErrorInterval time.Duration
	// BackpressureInterval is the poll period while the sink queue is full.
	BackpressureInterval time.Duration
}

// DefaultOptions mirrors the production pacing.
func DefaultOptions() Options {
	return Options{
		Workers:              1,
		SinkCapacity:         queue.DefaultCapacity,
		IdleInterval:         10 * time.Second,
		ErrorInterval:        2 * time.Second,
		BackpressureInterval: 10 * time.Second,
	}
}

// binding is one memoized processor together with the emitter it was built with.
type binding struct {
	proc ingest.Processor
	emit *Emitter
}

// Pool fans source-queue work out to a fixed set of workers.
type Pool struct {
	workers []*Worker
}

// New creates a Pool of opts.Workers workers sharing one instance cache.
func New(
	source, sink queue.Queue,
	store checkpoint.Store,
	registry *plugin.Registry,
	opts Options,
	logger *zap.Logger,
) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	s := &shared{
		source:    source,
		sink:      sink,
		store:     store,
		registry:  registry,
		instances: plugin.NewCache[binding](),
		driver:    NewDriver(store, logger.Named("driver")),
		opts:      opts,
	}
	workers := make([]*Worker, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		workers = append(workers, &Worker{
			shared: s,
			logger: logger.With(zap.Int("worker", i)),
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
