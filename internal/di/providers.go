// Package di wires the client together. Providers are grouped into Wire
// sets; container.go drives the same providers by hand for builds that do
// not run the wire generator.
package di

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"snapgram/internal/backend"
	"snapgram/internal/config"
	"snapgram/internal/media"
	"snapgram/internal/observability"
	"snapgram/internal/queries"
	"snapgram/internal/query"
	"snapgram/internal/session"
	"snapgram/internal/store"
	"snapgram/internal/web"

	"github.com/google/wire"
	"go.uber.org/zap"
)

// Container holds the application's long-lived components.
type Container struct {
	Config    *config.Config
	Logging   *Logging
	Tracer    *observability.TracerProvider
	Collector *observability.Collector
	Store     *store.Store
	Cache     *query.Client
	Queries   *queries.Queries
	Sessions  *session.Controller
	Web       *web.Server
	HTTP      *http.Server
	Watcher   *config.Watcher

	shutdown []func() `wire:"-"`
}

// Logging is the logger together with its adjustable level.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// ============================================================================
// PROVIDER SETS
// ============================================================================

var ObservabilityProviders = wire.NewSet(
	ProvideConfig,
	ProvideLogging,
	ProvideLogger,
	ProvideTracing,
	ProvideCollector,
	ProvideQueryMetrics,
)

var DataProviders = wire.NewSet(
	ProvideBackend,
	ProvideNormalizer,
	ProvideStore,
	ProvideQueryClient,
	ProvideQueries,
	wire.Bind(new(queries.Store), new(*store.Store)),
)

var SessionProviders = wire.NewSet(
	ProvideMarker,
	ProvideSessions,
	wire.Bind(new(session.Accounts), new(*store.Store)),
)

var InterfaceProviders = wire.NewSet(
	ProvideWebServer,
	ProvideHTTPServer,
	ProvideWatcher,
)

// SuperSet combines every provider set.
var SuperSet = wire.NewSet(
	ObservabilityProviders,
	DataProviders,
	SessionProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// ============================================================================
// OBSERVABILITY
// ============================================================================

func ProvideConfig(loader *config.Loader) (*config.Config, error) {
	return loader.Load()
}

func ProvideLogging(cfg *config.Config) (*Logging, func(), error) {
	logger, level, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = logger.Sync() }
	return &Logging{Logger: logger, Level: level}, cleanup, nil
}

func ProvideLogger(l *Logging) *zap.Logger {
	return l.Logger
}

func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

func ProvideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.Metrics.Namespace)
}

func ProvideQueryMetrics(cfg *config.Config, collector *observability.Collector) *query.Metrics {
	return query.NewMetrics(collector.Registry(), cfg.Metrics.Namespace)
}

// ============================================================================
// DATA
// ============================================================================

// ProvideBackend builds the configured driver, guarded by the circuit
// breaker and traced per call.
func ProvideBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	var raw backend.Backend
	bc := cfg.Backend

	switch bc.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory backend; data is lost on exit")
		raw = backend.NewMemoryBackend(bc.PreviewBaseURL).Backend()

	case config.DriverSupabase, config.DriverDynamoDB:
		sb, err := backend.NewSupabaseBackend(backend.SupabaseConfig{
			URL:    bc.SupabaseURL,
			Key:    bc.SupabaseKey,
			Bucket: bc.StorageBucket,
		}, logger)
		if err != nil {
			return backend.Backend{}, err
		}
		raw = sb.Backend()

		if bc.Driver == config.DriverDynamoDB {
			dc := backend.DynamoConfig{
				Table:    bc.DocumentsTable,
				Index:    bc.DocumentsIndex,
				Region:   bc.AWSRegion,
				Endpoint: bc.DynamoEndpoint,
			}
			client, err := backend.NewDynamoClient(ctx, dc)
			if err != nil {
				return backend.Backend{}, err
			}
			raw.Documents = backend.NewDynamoDocuments(client, dc, logger)
		}

	default:
		return backend.Backend{}, fmt.Errorf("unknown backend driver %q", bc.Driver)
	}

	guarded := backend.WithBreaker(raw, backend.BreakerConfig{
		Name:             "backend",
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
	}, logger)
	logger.Info("backend ready", zap.String("driver", bc.Driver))
	return backend.WithTracing(guarded), nil
}

func ProvideNormalizer(cfg *config.Config) *media.Normalizer {
	return media.NewNormalizer(cfg.Media.MaxDimension)
}

func ProvideStore(b backend.Backend, n *media.Normalizer, cfg *config.Config, logger *zap.Logger) *store.Store {
	return store.New(b, n, store.Config{AvatarBaseURL: cfg.Backend.AvatarBaseURL}, logger)
}

func ProvideQueryClient(cfg *config.Config, metrics *query.Metrics, logger *zap.Logger) (*query.Client, func()) {
	c := query.New(query.Options{StaleTime: cfg.Cache.StaleTime}, metrics, logger)
	return c, c.Close
}

func ProvideQueries(c *query.Client, s queries.Store, logger *zap.Logger) *queries.Queries {
	return queries.New(c, s, logger)
}

// ============================================================================
// SESSION
// ============================================================================

// ProvideMarker opens the SQLite session marker in the data dir.
func ProvideMarker(ctx context.Context, cfg *config.Config) (session.MarkerStore, func(), error) {
	if err := os.MkdirAll(cfg.Session.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	m, err := session.OpenSQLiteMarker(ctx, cfg.Session.MarkerPath())
	if err != nil {
		return nil, nil, err
	}
	return m, func() { _ = m.Close() }, nil
}

func ProvideSessions(accounts session.Accounts, marker session.MarkerStore, c *query.Client, logger *zap.Logger) *session.Controller {
	return session.NewController(accounts, marker, c, logger)
}

// ============================================================================
// INTERFACES
// ============================================================================

func ProvideWebServer(sessions *session.Controller, q *queries.Queries, collector *observability.Collector, cfg *config.Config, logger *zap.Logger) *web.Server {
	return web.NewServer(sessions, q, collector, web.Options{
		ServiceName:    cfg.Tracing.ServiceName,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
}

func ProvideHTTPServer(cfg *config.Config, srv *web.Server) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// ProvideWatcher hot reloads the log level and the cache stale time.
func ProvideWatcher(loader *config.Loader, cfg *config.Config, l *Logging, c *query.Client) (*config.Watcher, func(), error) {
	w, err := config.NewWatcher(loader, cfg, l.Logger)
	if err != nil {
		return nil, nil, err
	}
	w.OnChange(func(d config.Dynamic) {
		if level, err := observability.ParseLevel(d.LogLevel); err == nil {
			l.Level.SetLevel(level)
		}
		c.SetStaleTime(d.StaleTime)
	})
	return w, w.Stop, nil
}
