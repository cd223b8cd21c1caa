// Package app assembles the worker from settings: logging, telemetry,
// metrics, the local cache, the remote service and the run loop.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tphakala/docworker/internal/access"
	"github.com/tphakala/docworker/internal/buildinfo"
	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/conf"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability"
	"github.com/tphakala/docworker/internal/observability/metrics"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/report"
	"github.com/tphakala/docworker/internal/telemetry"
	"github.com/tphakala/docworker/internal/worker"
)

// App owns the process-wide resources of one worker run.
type App struct {
	Settings *conf.Settings
	Info     buildinfo.Info
	Log      logger.Logger
	Metrics  *observability.Metrics

	central        *logger.CentralLogger
	flushTelemetry func()
	store          *cache.Store
	remote         *remote.HTTPService

	// newRemote builds the HTTP service; tests swap in a mocked transport.
	newRemote func(remote.Config, logger.Logger, *metrics.RemoteMetrics) (*remote.HTTPService, error)
}

// New sets up logging, telemetry and metrics. Close releases everything
// New and later calls acquired.
func New(settings *conf.Settings, info buildinfo.Info) (*App, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	log := central.Module("app")

	flush, err := telemetry.Init(telemetry.Options{
		Enabled: settings.Sentry.Enabled,
		DSN:     settings.Sentry.DSN,
		Debug:   settings.Sentry.Debug,
		Release: info.Version,
	}, central.Module("telemetry"))
	if err != nil {
		_ = central.Close()
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		flush()
		_ = central.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return &App{
		Settings:       settings,
		Info:           info,
		Log:            log,
		Metrics:        m,
		central:        central,
		flushTelemetry: flush,
		newRemote:      remote.NewHTTPService,
	}, nil
}

// Close writes the metrics textfile if configured, then closes the store,
// the remote client, telemetry and logging.
func (a *App) Close() error {
	var errs []error

	if a.Settings.Metrics.Enabled && a.Settings.Metrics.TextFile != "" {
		if err := a.Metrics.WriteTextFile(a.Settings.Metrics.TextFile); err != nil {
			a.Log.Warn("failed to write metrics", logger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.store = nil
	}
	if a.remote != nil {
		a.remote.Close()
		a.remote = nil
	}
	a.flushTelemetry()
	if a.central != nil {
		if err := a.central.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStore opens the task's cache and creates its schema. It returns nil
// when the cache is disabled. The store is opened once per App.
func (a *App) OpenStore(ctx context.Context) (*cache.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if !a.Settings.Worker.UseCache {
		return nil, nil
	}

	path := a.Settings.Worker.CacheFile()
	store, err := cache.Open(path, a.central.Module("cache"))
	if err != nil {
		return nil, err
	}
	if err := store.CreateSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.store = store
	a.Log.Info("local cache ready", logger.String("path", path))
	return store, nil
}

// MergeParents folds the configured parent caches into store.
func (a *App) MergeParents(ctx context.Context, store *cache.Store) (*cache.MergeResult, error) {
	w := a.Settings.Worker
	if store == nil || len(w.Parents) == 0 {
		return &cache.MergeResult{}, nil
	}

	start := time.Now()
	result, err := store.Merge(ctx, w.DataDir, w.Parents, w.Chunk)
	if err != nil {
		a.Metrics.Cache.RecordMergedSource(metrics.StatusError, 0, 0, 0)
		return nil, err
	}
	for _, src := range result.Sources {
		a.Metrics.Cache.RecordMergedSource(metrics.StatusSuccess, src.Images, src.Elements, src.Transcriptions)
	}
	a.Log.Info("parent caches merged",
		logger.Int("sources", len(result.Sources)),
		logger.Duration("duration", time.Since(start)))
	return result, nil
}

// Remote returns the retrying remote service, creating it on first use.
func (a *App) Remote() (remote.Service, error) {
	if a.remote == nil {
		api := a.Settings.API
		svc, err := a.newRemote(remote.Config{
			URL:       api.URL,
			Token:     api.Token,
			Timeout:   api.Timeout,
			RateLimit: api.RateLimit,
			CacheTTL:  api.CacheTTL,
		}, a.central.Module("remote"), a.Metrics.Remote)
		if err != nil {
			return nil, err
		}
		a.remote = svc
	}

	r := a.Settings.Retry
	policy := remote.RetryPolicy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		Multiplier:   r.Multiplier,
		MaxDelay:     r.MaxDelay,
	}
	return remote.NewRetryingService(a.remote, policy, a.central.Module("remote"),
		remote.WithRetryMetrics(a.Metrics.Remote)), nil
}

// Processor builds the per-element work from the run's access layer.
type Processor func(layer *access.Layer) worker.ProcessFunc

// Run merges parent caches, lists the elements to process and runs the
// processor on each of them. The report is saved even when the run fails.
func (a *App) Run(ctx context.Context, newProcess Processor) (worker.Outcome, error) {
	w := a.Settings.Worker

	store, err := a.OpenStore(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	if _, err := a.MergeParents(ctx, store); err != nil {
		return worker.Outcome{}, err
	}

	svc, err := a.Remote()
	if err != nil {
		return worker.Outcome{}, err
	}

	reporter := report.New(reportName(w.VersionID), a.central.Module("report"))
	layer, err := access.New(access.Config{
		Remote:          svc,
		Store:           store,
		Reporter:        reporter,
		WorkerVersionID: w.VersionID,
		ProcessID:       w.ProcessID,
		UseCache:        w.UseCache,
		Log:             a.central.Module("access"),
		Metrics:         a.Metrics.Cache,
	})
	if err != nil {
		return worker.Outcome{}, err
	}

	loop, err := worker.New(worker.Config{
		Layer:         layer,
		StoreActivity: w.StoreActivity,
		Log:           a.central.Module("worker"),
		Metrics:       a.Metrics.Worker,
	})
	if err != nil {
		return worker.Outcome{}, err
	}

	items, err := layer.ListRootElements(ctx, access.RootSource{IDs: w.Elements, File: w.ElementsFile})
	if err != nil {
		return worker.Outcome{}, err
	}

	outcome, runErr := loop.Run(ctx, items, newProcess(layer))

	if w.ReportPath != "" {
		if err := reporter.Save(filepath.Clean(w.ReportPath)); err != nil {
			a.Log.Error("failed to save report", logger.Error(err))
			if runErr == nil {
				runErr = err
			}
		}
	}
	return outcome, runErr
}

func reportName(versionID string) string {
	if versionID == "" {
		return "docworker"
	}
	return "docworker@" + versionID
}
