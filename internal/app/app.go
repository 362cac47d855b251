package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/adapter"
	"dispatchd/internal/infra/config"
	"dispatchd/internal/infra/probe"
	"dispatchd/internal/infra/registry"
	"dispatchd/internal/infra/router"
	"dispatchd/internal/infra/telemetry"
	"dispatchd/internal/infra/transport"
)

// App owns the dispatch core for one service lifetime: the registry and
// router are created at start and torn down at stop, never recreated
// implicitly.
type App struct {
	logger *zap.Logger

	registry *registry.Registry
	router   *router.Router
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

type ServeConfig struct {
	ConfigPath string
}

// Router exposes the in-process dispatch API to an embedding transport.
// Valid only while Serve is running.
func (a *App) Router() *router.Router {
	return a.router
}

// Registry exposes the registry read-model for status surfaces.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Serve builds the dispatch core from the catalog, starts the
// observability server and blocks until ctx is done, then shuts the
// registry down.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	catalog, err := config.NewLoader(a.logger).Load(cfg.ConfigPath)
	if err != nil {
		return err
	}

	metrics := telemetry.NewPrometheusMetrics(nil)
	a.registry = registry.New(registry.Options{
		Logger:  a.logger,
		Metrics: metrics,
	})
	a.router = router.New(a.registry, router.Options{
		Timeout: catalog.Runtime.RouteTimeout(),
		Logger:  a.logger,
		Metrics: metrics,
	})

	stdio := transport.NewStdioTransport()
	var stops []domain.StopFn
	for _, spec := range catalog.Tools {
		stop, err := a.registerTool(ctx, stdio, spec, metrics)
		if err != nil {
			a.logger.Error("tool registration failed",
				zap.String("tool", spec.Name),
				zap.String("version", spec.Version),
				zap.Error(err),
			)
			continue
		}
		stops = append(stops, stop)
	}

	prober := probe.New(a.registry, a.router, probe.Options{Logger: a.logger})
	prober.Start(ctx)
	defer prober.Stop()

	serveErr := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
		Addr:          catalog.Runtime.Observability.ListenAddress,
		EnableMetrics: catalog.Runtime.Observability.EnableMetrics,
		EnableHealthz: catalog.Runtime.Observability.EnableHealthz,
	}, a.logger)
	if serveErr == nil {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("registry shutdown reported failures", zap.Error(err))
	}
	for _, stop := range stops {
		if err := stop(shutdownCtx); err != nil {
			a.logger.Warn("backend stop failed", zap.Error(err))
		}
	}
	a.logger.Info("dispatch core stopped")
	return serveErr
}

// registerTool starts one backend, wraps it in the remote adapter and
// registers the binding. A backend that fails its initial ping is still
// registered; it reports unhealthy and its calls fail fast.
func (a *App) registerTool(ctx context.Context, stdio *transport.StdioTransport, spec domain.ToolSpec, metrics domain.Metrics) (domain.StopFn, error) {
	conn, stop, err := stdio.Start(ctx, spec)
	if err != nil {
		return nil, err
	}

	remote := adapter.NewRemote(conn, adapter.RemoteOptions{
		Name:        registry.BreakerKey(spec.Name, spec.Version),
		Retries:     spec.Retries,
		BackoffBase: spec.BackoffBase(),
		CallTimeout: spec.CallTimeout(),
		Logger:      a.logger,
		Metrics:     metrics,
	})
	if err := remote.Initialize(ctx); err != nil {
		a.logger.Warn("adapter initialize failed",
			zap.String("tool", spec.Name),
			zap.String("version", spec.Version),
			zap.Error(err),
		)
	}

	opts := registry.RegisterOptions{
		AdapterType:     "stdio",
		Description:     spec.Description,
		Tags:            spec.Tags,
		MakeLatest:      spec.MakeLatest,
		BreakerEnabled:  spec.CircuitBreakerEnabled,
		Threshold:       spec.CircuitBreakerThresh,
		RecoveryTimeout: time.Duration(spec.RecoveryTimeoutSeconds) * time.Second,
		HealthInterval:  time.Duration(spec.HealthCheckSeconds) * time.Second,
	}
	if err := a.registry.Register(spec.Name, remote, spec.Version, opts); err != nil {
		_ = stop(ctx)
		return nil, err
	}
	return stop, nil
}

// ValidateConfig loads the catalog and reports problems without starting
// any backends.
func (a *App) ValidateConfig(path string) error {
	catalog, err := config.NewLoader(a.logger).Load(path)
	if err != nil {
		return err
	}
	a.logger.Info("catalog is valid",
		zap.String("path", path),
		zap.Int("tools", len(catalog.Tools)),
	)
	return nil
}
