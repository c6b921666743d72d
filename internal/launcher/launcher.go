// Package launcher builds the engine from configuration and runs the source
// providers, the dispatcher pool and the sink pool until shutdown.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/api"
	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/clock/system"
	"github.com/JakeFAU/icrawler/internal/config"
	"github.com/JakeFAU/icrawler/internal/connections"
	"github.com/JakeFAU/icrawler/internal/dispatcher"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/logging"
	"github.com/JakeFAU/icrawler/internal/metrics"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/plugins/builtin"
	"github.com/JakeFAU/icrawler/internal/queue"
	queueMemory "github.com/JakeFAU/icrawler/internal/queue/memory"
	"github.com/JakeFAU/icrawler/internal/sink"
	"github.com/JakeFAU/icrawler/internal/source"
	"github.com/JakeFAU/icrawler/internal/telemetry"
)

// Registration adds site-specific plugins to the registry.
type Registration func(r *plugin.Registry) error

// Settings are the inputs of one engine run.
type Settings struct {
	Config config.Config
	// Schema overrides Config.Engine.Schema when set.
	Schema string
	// Workers overrides both pool sizes when positive.
	Workers int
	// Plugins register processors and pipelines beyond the builtins.
	Plugins []Registration
	// Logger and Clock default to a logger built from Config and the system clock.
	Logger *zap.Logger
	Clock  ingest.Clock
	// DepthInterval is how often queue depth gauges are refreshed.
	DepthInterval time.Duration
}

// App contains the running engine's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          checkpoint.Store
	conn           *connections.Manager
	registry       *plugin.Registry
	sourceQueue    *queueMemory.PriorityQueue
	sinkQueue      *queueMemory.PriorityQueue
	providers      []*source.Provider
	dispatch       *dispatcher.Pool
	sinks          *sink.Pool
	apiServer      *api.Server
	depthInterval  time.Duration
	tracerShutdown func(context.Context) error
}

// Run builds the engine and blocks until ctx ends or the process is signaled.
func Run(ctx context.Context, s Settings) error {
	app, err := Build(ctx, s)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, s Settings) (*App, error) {
	cfg := s.Config
	if s.Schema != "" {
		cfg.Engine.Schema = s.Schema
	}
	if s.Workers > 0 {
		cfg.Engine.DispatchWorkers = s.Workers
		cfg.Engine.SinkWorkers = s.Workers
	}

	logger := s.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	clock := s.Clock
	if clock == nil {
		loc, err := cfg.Engine.Location()
		if err != nil {
			return nil, err
		}
		clock = system.NewIn(loc)
	}

	plugins, err := cfg.PluginConfigs(cfg.Engine.Schema)
	if err != nil {
		return nil, err
	}
	logger.Info("building engine",
		zap.String("schema", cfg.Engine.Schema),
		zap.Int("plugins", len(plugins)),
		zap.Int("dispatch_workers", cfg.Engine.DispatchWorkers),
		zap.Int("sink_workers", cfg.Engine.SinkWorkers),
	)

	app := &App{cfg: cfg, logger: logger, depthInterval: s.DepthInterval}
	if app.depthInterval <= 0 {
		app.depthInterval = 15 * time.Second
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	store, err := OpenStore(cfg.Checkpoint, logger.Named("checkpoint"))
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	app.store = store
	app.conn = connections.New(cfg.Connections, logger.Named("connections"))

	app.registry = plugin.NewRegistry(plugin.Deps{Conn: app.conn, Logger: logger.Named("plugin")})
	if err := builtin.Register(app.registry); err != nil {
		app.closeQuietly()
		return nil, fmt.Errorf("register builtin plugins: %w", err)
	}
	for _, register := range s.Plugins {
		if err := register(app.registry); err != nil {
			app.closeQuietly()
			return nil, fmt.Errorf("register plugins: %w", err)
		}
	}

	app.sourceQueue = queueMemory.NewPriorityQueue("source")
	app.sinkQueue = queueMemory.NewPriorityQueue("sink")

	if err := app.setupProviders(plugins, clock); err != nil {
		app.closeQuietly()
		return nil, err
	}

	app.dispatch = dispatcher.New(app.sourceQueue, app.sinkQueue, app.store, app.registry, dispatcher.Options{
		Workers:              cfg.Engine.DispatchWorkers,
		SinkCapacity:         cfg.Engine.SinkQueueCapacity,
		IdleInterval:         cfg.Engine.IdleInterval,
		ErrorInterval:        cfg.Engine.ErrorInterval,
		BackpressureInterval: cfg.Engine.BackpressureInterval,
	}, logger.Named("dispatcher"))

	sinkOpts := sink.DefaultOptions()
	sinkOpts.Workers = cfg.Engine.SinkWorkers
	sinkOpts.IdleInterval = cfg.Engine.IdleInterval
	app.sinks = sink.New(app.sinkQueue, app.store, app.registry, sinkOpts, logger.Named("sink"))

	if cfg.Admin.Enabled {
		app.apiServer = api.NewServer(api.Options{
			Store:    app.store,
			Queues:   app.queues(),
			Registry: app.registry,
			APIKey:   cfg.Admin.APIKey,
		}, logger.Named("api"))
	}
	return app, nil
}

func (a *App) setupProviders(plugins []ingest.PluginConfig, clock ingest.Clock) error {
	opts := source.DefaultOptions()
	opts.Capacity = a.cfg.Engine.SourceQueueCapacity
	opts.BackpressureInterval = a.cfg.Engine.BackpressureInterval

	for i, pc := range plugins {
		deps := source.Deps{
			Store:   a.store,
			Clock:   clock,
			Finder:  a.conn.Finder(),
			MySQL:   a.mysql,
			Options: opts,
			Logger:  a.logger.Named("source"),
		}
		if pc.Source == ingest.SourceKafka {
			broker, err := a.conn.Broker()
			if err != nil {
				return fmt.Errorf("plugin %d (%s): %w", i, pc.Class, err)
			}
			deps.Broker = broker
		}
		fetcher, err := source.NewFetcher(pc, deps)
		if err != nil {
			return fmt.Errorf("plugin %d (%s): %w", i, pc.Class, err)
		}
		a.providers = append(a.providers, source.NewProvider(
			pc, a.sourceQueue, a.store, fetcher, clock, opts, a.logger.Named("provider"),
		))
	}
	return nil
}

func (a *App) mysql(schema string) (source.Querier, error) {
	q, err := a.conn.Querier(schema)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (a *App) queues() map[string]queue.Queue {
	return map[string]queue.Queue{"source": a.sourceQueue, "sink": a.sinkQueue}
}

// Registry exposes the plugin registry.
func (a *App) Registry() *plugin.Registry {
	return a.registry
}

// Store exposes the checkpoint store.
func (a *App) Store() checkpoint.Store {
	return a.store
}

// Run starts every stage and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("engine started", zap.Int("providers", len(a.providers)))

	var wg sync.WaitGroup
	for _, p := range a.providers {
		wg.Add(1)
		go func(p *source.Provider) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.dispatch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.sinks.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.sampleDepths(ctx)
	}()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Admin.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("admin server started", zap.Int("port", a.cfg.Admin.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("admin server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("admin server shutdown error", zap.Error(err))
		}
	}
	wg.Wait()
	return a.Close(shutdownCtx)
}

func (a *App) sampleDepths(ctx context.Context) {
	ticker := time.NewTicker(a.depthInterval)
	defer ticker.Stop()
	for {
		for name, q := range a.queues() {
			metrics.SetQueueDepth(name, q.Len())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases connections and the checkpoint store. In-flight
// checkpoints stay on disk for the next start.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connections: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close checkpoint store: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	if err := a.Close(context.Background()); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
}
