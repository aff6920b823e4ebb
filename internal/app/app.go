package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/alexliesenfeld/health"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisv9 "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakhrymubarak/api-template/internal/config"
	apphealth "github.com/fakhrymubarak/api-template/internal/health"
	"github.com/fakhrymubarak/api-template/internal/middleware"
	"github.com/fakhrymubarak/api-template/internal/openapi"
	"github.com/fakhrymubarak/api-template/internal/problem"
)

// App is a built service. Call UseRequiredServices before serving.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	problems       *problem.Writer
	compression    func(http.Handler) http.Handler
	checker        health.Checker
	redis          *redisv9.Client
	routes         []openapi.Route
	docs           *openapi.Docs
	registry       *prometheus.Registry
	metrics        *middleware.Metrics
	tracerProvider *sdktrace.TracerProvider
	rateLimiter    *middleware.RateLimiter
	trustedProxies *middleware.TrustedProxies

	handler   http.Handler
	closeOnce sync.Once
	closeErr  error
}

// Routes returns the registered controllers.
func (a *App) Routes() []openapi.Route {
	return a.routes
}

// Document returns the generated API description.
func (a *App) Document() *openapi3.T {
	return a.docs.Document()
}

// DocumentJSON returns the rendered API description.
func (a *App) DocumentJSON() []byte {
	return a.docs.JSON()
}

// Handler returns the composed pipeline, composing it on first use.
func (a *App) Handler() http.Handler {
	if a.handler == nil {
		a.UseRequiredServices()
	}
	return a.handler
}

// UseRequiredServices composes the request pipeline. Outermost first:
// tracing, proxy headers, enrichment, request logging, rate limiting,
// development documentation, HTTPS redirection, authorization, compression,
// exception handling, health and metrics endpoints, and the router.
func (a *App) UseRequiredServices() *App {
	if a.handler != nil {
		return a
	}

	h := a.dispatch()
	h = middleware.Recover(a.problems)(h)
	h = a.compression(h)
	h = middleware.Authorize(a.problems)(h)
	if a.cfg.Server.RedirectsToHTTPS() {
		h = middleware.HTTPSRedirect(a.cfg.Server.HTTPSPort)(h)
	}
	if a.cfg.IsDevelopment() {
		h = a.documentation(h)
	}
	if a.rateLimiter != nil {
		h = a.rateLimiter.Middleware(h)
	}
	h = middleware.RequestLogger(a.metrics)(h)
	h = middleware.Enrich(a.logger)(h)
	h = middleware.ProxyHeaders(a.trustedProxies)(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithTracerProvider(a.tracerProvider),
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	a.handler = h
	return a
}

// dispatch serves /health and /metrics ahead of the router.
func (a *App) dispatch() http.Handler {
	router := a.router()
	healthHandler := apphealth.Handler(a.checker)

	var metricsHandler http.Handler
	if a.registry != nil {
		metricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	metricsPath := a.cfg.Metrics.Path

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == apphealth.Path:
			healthHandler.ServeHTTP(w, r)
		case metricsHandler != nil && r.URL.Path == metricsPath:
			metricsHandler.ServeHTTP(w, r)
		default:
			router.ServeHTTP(w, r)
		}
	})
}

// router matches route paths case-insensitively. Unknown paths get a 404
// problem and known paths with the wrong method a 405 problem.
func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	for _, rt := range a.routes {
		path := rt.Path
		r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
			return strings.EqualFold(req.URL.Path, path)
		}).Methods(rt.Method).Handler(rt.Handler)
	}
	r.NotFoundHandler = a.problems.Status(http.StatusNotFound)
	r.MethodNotAllowedHandler = a.problems.Status(http.StatusMethodNotAllowed)
	return r
}

// documentation serves the schema and reference pages and passes every
// other request on.
func (a *App) documentation(next http.Handler) http.Handler {
	docs := mux.NewRouter()
	a.docs.Register(docs)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var match mux.RouteMatch
		if docs.Match(r, &match) && match.MatchErr == nil {
			docs.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) newServer(h http.Handler) *http.Server {
	s := a.cfg.Server
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: s.ReadHeaderTimeout,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       s.IdleTimeout,
		ErrorLog:          zap.NewStdLog(a.logger),
	}
}

// Run serves HTTP, and HTTPS when a certificate is configured, until ctx is
// cancelled or a listener fails. Shutdown is graceful and bounded by the
// configured timeout.
func (a *App) Run(ctx context.Context) error {
	h := a.Handler()
	s := a.cfg.Server

	if s.HTTPSPort > 0 && !s.RedirectsToHTTPS() {
		a.logger.Warn("HTTPS redirection is disabled: no certificate or trusted proxy is configured",
			zap.Int("https_port", s.HTTPSPort))
	}

	listeners := map[string]net.Listener{}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.Port))
	if err != nil {
		return a.abort(fmt.Errorf("listening on port %d: %w", s.Port, err))
	}
	listeners["http"] = ln
	if s.TLSEnabled() {
		tln, err := net.Listen("tcp", ":"+strconv.Itoa(s.HTTPSPort))
		if err != nil {
			_ = ln.Close()
			return a.abort(fmt.Errorf("listening on port %d: %w", s.HTTPSPort, err))
		}
		listeners["https"] = tln
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.rateLimiter != nil {
		a.rateLimiter.StartCleanup(gctx)
	}

	servers := make([]*http.Server, 0, len(listeners))
	for scheme, l := range listeners {
		scheme, l := scheme, l
		srv := a.newServer(h)
		servers = append(servers, srv)
		a.logger.Info("Now listening", zap.String("scheme", scheme), zap.String("addr", l.Addr().String()))

		g.Go(func() error {
			var err error
			if scheme == "https" {
				err = srv.ServeTLS(l, s.CertFile, s.KeyFile)
			} else {
				err = srv.Serve(l)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", scheme, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Application is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down server: %w", err))
			}
		}
		if err := a.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// abort releases the app after a startup failure and returns err.
func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.Close(ctx))
}

// Close releases the tracer provider and the Redis client. Later calls
// return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = release(ctx, a.tracerProvider, a.redis)
	})
	return a.closeErr
}

func release(ctx context.Context, tp *sdktrace.TracerProvider, client *redisv9.Client) error {
	var errs []error
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}
