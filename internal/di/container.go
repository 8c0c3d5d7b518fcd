//go:build !wireinject
// +build !wireinject

package di

import (
	"context"
	"fmt"

	"snapgram/internal/config"

	"go.uber.org/zap"
)

// NewContainer builds the container from loader by calling the providers in
// dependency order. A failure releases whatever was already acquired.
func NewContainer(ctx context.Context, loader *config.Loader) (c *Container, err error) {
	c = &Container{}
	defer func() {
		if err != nil {
			c.Shutdown()
			c = nil
		}
	}()

	if c.Config, err = ProvideConfig(loader); err != nil {
		return c, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := c.Config

	logging, cleanup, err := ProvideLogging(cfg)
	if err != nil {
		return c, fmt.Errorf("failed to initialize logging: %w", err)
	}
	c.Logging = logging
	c.addShutdownFunction(cleanup)
	logger := ProvideLogger(logging)

	tracer, cleanup, err := ProvideTracing(ctx, cfg, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.Tracer = tracer
	c.addShutdownFunction(cleanup)

	c.Collector = ProvideCollector(cfg)
	metrics := ProvideQueryMetrics(cfg, c.Collector)

	b, err := ProvideBackend(ctx, cfg, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize backend: %w", err)
	}
	c.Store = ProvideStore(b, ProvideNormalizer(cfg), cfg, logger)

	c.Cache, cleanup = ProvideQueryClient(cfg, metrics, logger)
	c.addShutdownFunction(cleanup)
	c.Queries = ProvideQueries(c.Cache, c.Store, logger)

	marker, cleanup, err := ProvideMarker(ctx, cfg)
	if err != nil {
		return c, fmt.Errorf("failed to open session marker: %w", err)
	}
	c.addShutdownFunction(cleanup)
	c.Sessions = ProvideSessions(c.Store, marker, c.Cache, logger)

	c.Web = ProvideWebServer(c.Sessions, c.Queries, c.Collector, cfg, logger)
	c.HTTP = ProvideHTTPServer(cfg, c.Web)

	c.Watcher, cleanup, err = ProvideWatcher(loader, cfg, logging, c.Cache)
	if err != nil {
		return c, fmt.Errorf("failed to start configuration watcher: %w", err)
	}
	c.addShutdownFunction(cleanup)

	logger.Info("container initialized",
		zap.String("environment", string(cfg.Environment)),
		zap.Strings("loadedFrom", cfg.LoadedFrom))
	return c, nil
}

func (c *Container) addShutdownFunction(fn func()) {
	if fn != nil {
		c.shutdown = append(c.shutdown, fn)
	}
}

// Shutdown releases resources in the reverse order of acquisition. It is
// safe to call more than once.
func (c *Container) Shutdown() {
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		c.shutdown[i]()
	}
	c.shutdown = nil
}
