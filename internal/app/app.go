package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"catalogd/internal/domain"
	"catalogd/internal/infra/cache"
	"catalogd/internal/infra/config"
	"catalogd/internal/infra/source"
	"catalogd/internal/infra/sqlite"
	"catalogd/internal/infra/syncer"
	"catalogd/internal/infra/synchealth"
	"catalogd/internal/infra/telemetry"
)

// App assembles the daemon: config, relational store, cache, source client,
// health monitor, controller, sync scheduler and the observability server.
type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

type ServeOptions struct {
	ConfigPath string
}

// Serve runs the daemon until ctx is cancelled.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	loader := config.NewLoader(a.logger)
	settings, err := loader.Load(ctx, opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlite.Open(settings.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	registry := prometheus.NewRegistry()
	var metrics domain.Metrics
	if settings.Observability.EnableMetrics {
		metrics = telemetry.NewPrometheusMetrics(registry)
	} else {
		metrics = telemetry.NewNoopMetrics()
	}

	store := cache.New(cacheConfig(settings), a.logger.Named("cache"), metrics)
	client := source.NewClient(sourceConfig(settings), db, a.logger.Named("source"), metrics)
	monitor := synchealth.New(settings.Health.Window(), settings.Health.BufferSize, a.logger)
	controller := NewController(store, client, db, monitor, a.logger, metrics)
	sync := syncer.New(client, store, monitor, a.logger.Named("syncer"), metrics)

	store.StartSweeper(settings.Cache.SweepInterval())
	defer store.StopSweeper()

	if settings.Sync.RunOnStartup {
		go func() {
			if _, err := sync.RunOnce(ctx); err != nil {
				a.logger.Warn("startup sync failed", zap.Error(err))
			}
		}()
	}
	sync.Start(ctx, settings.Sync.Interval())
	defer sync.Stop()

	watcher := config.NewWatcher(loader, opts.ConfigPath, func(next domain.Settings) {
		store.Reconfigure(cacheConfig(next))
		sync.Stop()
		sync.Start(ctx, next.Sync.Interval())
		a.logger.Info("runtime settings applied",
			zap.Duration("catalogTtl", next.Cache.CatalogTTL()),
			zap.Duration("serviceTtl", next.Cache.ServiceTTL()),
			zap.Duration("syncInterval", next.Sync.Interval()),
		)
	}, a.logger)
	go watcher.Run(ctx)

	a.logger.Info("catalogd started",
		zap.String("source", settings.Source.BaseURL),
		zap.String("database", settings.Database.Path),
		zap.Int64("cacheVersion", controller.CacheStats().Version),
	)

	if settings.Observability.EnableMetrics || settings.Observability.EnableHealthz {
		return telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:          settings.Observability.ListenAddress,
			EnableMetrics: settings.Observability.EnableMetrics,
			EnableHealthz: settings.Observability.EnableHealthz,
			Health:        monitor,
			Registry:      registry,
		}, a.logger)
	}

	<-ctx.Done()
	return nil
}

// ValidateConfig loads and normalizes the config file, returning the
// effective settings.
func (a *App) ValidateConfig(ctx context.Context, path string) (domain.Settings, error) {
	return config.NewLoader(a.logger).Load(ctx, path)
}

// SyncOnce runs a single synchronization attempt against the configured
// source and returns its record.
func (a *App) SyncOnce(ctx context.Context, opts ServeOptions) (domain.SyncRecord, error) {
	settings, err := config.NewLoader(a.logger).Load(ctx, opts.ConfigPath)
	if err != nil {
		return domain.SyncRecord{}, fmt.Errorf("load config: %w", err)
	}

	db, err := sqlite.Open(settings.Database.Path)
	if err != nil {
		return domain.SyncRecord{}, fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	metrics := telemetry.NewNoopMetrics()
	store := cache.New(cacheConfig(settings), a.logger.Named("cache"), metrics)
	client := source.NewClient(sourceConfig(settings), db, a.logger.Named("source"), metrics)
	monitor := synchealth.New(settings.Health.Window(), settings.Health.BufferSize, a.logger)

	return syncer.New(client, store, monitor, a.logger.Named("syncer"), metrics).RunOnce(ctx)
}

func cacheConfig(settings domain.Settings) cache.Config {
	return cache.Config{
		CatalogTTL:   settings.Cache.CatalogTTL(),
		ServiceTTL:   settings.Cache.ServiceTTL(),
		CategoryTTL:  settings.Cache.CategoryTTL(),
		MaxEntries:   settings.Cache.MaxEntries,
		DeltaLogSize: settings.Cache.DeltaLogSize,
	}
}

func sourceConfig(settings domain.Settings) source.Config {
	return source.Config{
		BaseURL:        settings.Source.BaseURL,
		FetchTimeout:   settings.Source.FetchTimeout(),
		MaxAttempts:    settings.Source.MaxAttempts,
		RetryBaseDelay: settings.Source.RetryBaseDelay(),
	}
}
