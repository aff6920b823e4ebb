// Package app registers the service components and composes the request
// pipeline around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redisv9 "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/config"
	"github.com/fakhrymubarak/api-template/internal/handler"
	apphealth "github.com/fakhrymubarak/api-template/internal/health"
	"github.com/fakhrymubarak/api-template/internal/middleware"
	"github.com/fakhrymubarak/api-template/internal/openapi"
	"github.com/fakhrymubarak/api-template/internal/problem"
	"github.com/fakhrymubarak/api-template/internal/redis"
	"github.com/fakhrymubarak/api-template/internal/service"
	"github.com/fakhrymubarak/api-template/internal/telemetry"
)

const healthCacheDuration = time.Second

// Builder collects the services an App is built from.
type Builder struct {
	cfg    *config.Config
	logger *zap.Logger

	// TraceOutput receives spans when the stdout exporter is configured.
	TraceOutput io.Writer
	// ForecastService replaces the random forecast source when set.
	ForecastService service.ForecastServiceInterface

	registered bool
	errs       []error

	problems       *problem.Writer
	compression    func(http.Handler) http.Handler
	checker        health.Checker
	redis          *redisv9.Client
	routes         []openapi.Route
	registry       *prometheus.Registry
	metrics        *middleware.Metrics
	tracerProvider *sdktrace.TracerProvider
	rateLimiter    *middleware.RateLimiter
	trustedProxies *middleware.TrustedProxies
}

func NewBuilder(cfg *config.Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger, TraceOutput: os.Stdout}
}

// AddRequiredServices registers compression, exception handling, health
// checks, controllers, API documentation, metrics, tracing and rate
// limiting. Calling it again has no effect.
func (b *Builder) AddRequiredServices() *Builder {
	if b.registered {
		return b
	}
	b.registered = true

	b.problems = problem.NewWriter(problem.MirrorValidationErrors, problem.AddTraceID)

	compression, err := middleware.Compression(b.cfg.Compression)
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.compression = compression

	trusted, err := middleware.NewTrustedProxies(b.cfg.Server.TrustedProxies)
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.trustedProxies = trusted

	b.redis = redis.NewClient(b.cfg.Redis)
	b.checker = apphealth.NewChecker(b.logger, b.redis, healthCacheDuration)

	forecasts := handler.NewWeatherForecastHandler(b.problems, b.ForecastService)
	b.routes = append(b.routes, forecasts.Routes()...)

	if b.cfg.Metrics.Enabled {
		b.registry = prometheus.NewRegistry()
		b.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := middleware.NewMetrics(b.registry)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("registering metrics: %w", err))
		}
		b.metrics = metrics
	}

	tp, err := telemetry.NewTracerProvider(b.cfg, b.TraceOutput)
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.tracerProvider = tp

	if b.cfg.RateLimiter.Enabled {
		b.rateLimiter = middleware.NewRateLimiter(b.cfg.RateLimiter, b.problems)
	}
	return b
}

// AddRoutes registers additional controllers.
func (b *Builder) AddRoutes(routes ...openapi.Route) *Builder {
	b.routes = append(b.routes, routes...)
	return b
}

// Build validates the registrations and produces the runnable App.
func (b *Builder) Build() (*App, error) {
	if !b.registered {
		return nil, errors.New("app: AddRequiredServices was not called")
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, errors.Join(err, release(context.Background(), b.tracerProvider, b.redis))
	}

	doc, err := openapi.NewDocument(b.cfg.ApplicationName, b.routes)
	if err != nil {
		return nil, errors.Join(err, release(context.Background(), b.tracerProvider, b.redis))
	}
	docs, err := openapi.NewDocs(doc, b.logger)
	if err != nil {
		err = fmt.Errorf("rendering openapi document: %w", err)
		return nil, errors.Join(err, release(context.Background(), b.tracerProvider, b.redis))
	}

	return &App{
		cfg:            b.cfg,
		logger:         b.logger,
		problems:       b.problems,
		compression:    b.compression,
		checker:        b.checker,
		redis:          b.redis,
		routes:         append([]openapi.Route(nil), b.routes...),
		docs:           docs,
		registry:       b.registry,
		metrics:        b.metrics,
		tracerProvider: b.tracerProvider,
		rateLimiter:    b.rateLimiter,
		trustedProxies: b.trustedProxies,
	}, nil
}
