package app

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fakhrymubarak/api-template/internal/config"
	"github.com/fakhrymubarak/api-template/internal/middleware"
	"github.com/fakhrymubarak/api-template/internal/model"
	"github.com/fakhrymubarak/api-template/internal/openapi"
	"github.com/fakhrymubarak/api-template/internal/problem"
	"github.com/fakhrymubarak/api-template/internal/service"
)

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, logger *zap.Logger, extra ...openapi.Route) *App {
	t.Helper()
	a, err := NewBuilder(cfg, logger).AddRequiredServices().AddRoutes(extra...).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a.UseRequiredServices()
}

// secure marks a request as arriving over TLS so it is not redirected.
func secure(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.TLS = &tls.ConnectionState{}
	return req
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	require.Equal(t, problem.ContentType, rr.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestWeatherForecast(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	for _, path := range []string{"/WeatherForecast", "/weatherforecast", "/WEATHERFORECAST"} {
		t.Run(path, func(t *testing.T) {
			rr := serve(a, secure(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, rr.Code)

			var records []struct {
				Date         civil.Date `json:"date"`
				TemperatureC int        `json:"temperatureC"`
				TemperatureF int        `json:"temperatureF"`
				Summary      string     `json:"summary"`
			}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&records))
			require.Len(t, records, service.ForecastDays)

			today := civil.DateOf(time.Now())
			assert.True(t, records[0].Date.After(today))
			for i, r := range records {
				if i > 0 {
					assert.Equal(t, 1, r.Date.DaysSince(records[i-1].Date))
				}
				assert.GreaterOrEqual(t, r.TemperatureC, service.MinTemperatureC)
				assert.Less(t, r.TemperatureC, service.MaxTemperatureC)
				assert.Contains(t, service.Summaries, r.Summary)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	rr := serve(a, secure(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Healthy", rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
}

func TestUnhandledFault(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	panicking := openapi.Route{
		Method: http.MethodGet,
		Path:   "/fault",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("connection string leaked")
		}),
	}
	a := newTestApp(t, testConfig(t, nil), zap.New(core), panicking)

	req := secure(http.MethodGet, "/fault", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := serve(a, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection string leaked")
	assert.NotContains(t, rr.Body.String(), "goroutine")
	body := decodeProblem(t, rr)
	assert.Equal(t, problem.InternalErrorTitle, body["title"])
	assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
	assert.NotEmpty(t, body[problem.TraceIDKey])
	assert.Equal(t, 1, logs.FilterMessage("Unhandled panic while processing request").Len())
}

func TestForecastServiceError(t *testing.T) {
	cfg := testConfig(t, nil)
	b := NewBuilder(cfg, nil)
	b.ForecastService = failingService{}
	a, err := b.AddRequiredServices().Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rr := serve(a, secure(http.MethodGet, "/WeatherForecast", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeProblem(t, rr)
	assert.NotContains(t, body, "detail")
}

type failingService struct{}

func (failingService) GetForecast(context.Context) ([]model.WeatherForecast, error) {
	return nil, errors.New("random source unavailable")
}

func TestValidationErrorsMirrored(t *testing.T) {
	validating := openapi.Route{
		Method: http.MethodPost,
		Path:   "/validate",
		Handler: problem.NewWriter(problem.MirrorValidationErrors).Handle(func(w http.ResponseWriter, r *http.Request) error {
			return &problem.ValidationError{Errors: map[string][]string{"summary": {"The summary field is required."}}}
		}),
	}
	a := newTestApp(t, testConfig(t, nil), nil, validating)

	rr := serve(a, secure(http.MethodPost, "/validate", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeProblem(t, rr)
	require.Contains(t, body, problem.ErrorsKey)
	assert.Equal(t, body[problem.ErrorsKey], body[problem.ValidationErrorsKey])
}

func TestDocumentation(t *testing.T) {
	paths := []string{
		openapi.DocumentPath,
		openapi.SwaggerDocumentPath,
		openapi.SwaggerUIPath,
		openapi.SwaggerIndexPath,
		openapi.ScalarPath,
		openapi.ScalarVersionPath,
	}

	t.Run("development", func(t *testing.T) {
		a := newTestApp(t, testConfig(t, func(c *config.Config) { c.Environment = "Development" }), nil)
		for _, p := range paths {
			rr := serve(a, secure(http.MethodGet, p, nil))
			assert.Equal(t, http.StatusOK, rr.Code, p)
		}
	})

	t.Run("production", func(t *testing.T) {
		a := newTestApp(t, testConfig(t, func(c *config.Config) { c.Environment = "Production" }), nil)
		for _, p := range paths {
			rr := serve(a, secure(http.MethodGet, p, nil))
			assert.Equal(t, http.StatusNotFound, rr.Code, p)
			assert.Equal(t, problem.ContentType, rr.Header().Get("Content-Type"), p)
		}
	})
}

func TestHTTPSRedirect(t *testing.T) {
	a := newTestApp(t, testConfig(t, func(c *config.Config) {
		c.Server.HTTPSPort = 8443
		c.Server.CertFile, c.Server.KeyFile = "cert.pem", "key.pem"
	}), nil)

	for _, p := range []string{"/WeatherForecast?days=5", "/health", "/missing"} {
		rr := serve(a, httptest.NewRequest(http.MethodGet, "http://api.local:8080"+p, nil))
		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code, p)
		assert.Equal(t, "https://api.local:8443"+p, rr.Header().Get("Location"), p)
	}

	spoofed := httptest.NewRequest(http.MethodGet, "http://api.local/health", nil)
	spoofed.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, http.StatusTemporaryRedirect, serve(a, spoofed).Code)
}

func TestHTTPSRedirectBehindTrustedProxy(t *testing.T) {
	a := newTestApp(t, testConfig(t, func(c *config.Config) {
		c.Server.HTTPSPort = 443
		c.Server.TrustedProxies = []string{"192.0.2.0/24"}
	}), nil)

	forwarded := httptest.NewRequest(http.MethodGet, "http://api.local/health", nil)
	forwarded.RemoteAddr = "192.0.2.10:5000"
	forwarded.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, http.StatusOK, serve(a, forwarded).Code)

	plain := httptest.NewRequest(http.MethodGet, "http://api.local/health", nil)
	plain.RemoteAddr = "192.0.2.10:5000"
	rr := serve(a, plain)
	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "https://api.local/health", rr.Header().Get("Location"))

	spoofed := httptest.NewRequest(http.MethodGet, "http://api.local/health", nil)
	spoofed.RemoteAddr = "203.0.113.5:5000"
	spoofed.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, http.StatusTemporaryRedirect, serve(a, spoofed).Code)
}

func TestPlaintextServingWithDefaultConfig(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	for _, p := range []string{"/health", "/WeatherForecast"} {
		resp, err := client.Get(srv.URL + p)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.Empty(t, resp.Header.Get("Location"), p)
		if p == "/health" {
			assert.Equal(t, "Healthy", string(body))
		}
	}
}

func TestHTTPSRedirectDisabled(t *testing.T) {
	a := newTestApp(t, testConfig(t, func(c *config.Config) { c.Server.HTTPSPort = 0 }), nil)
	rr := serve(a, httptest.NewRequest(http.MethodGet, "http://api.local/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCompression(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	req := secure(http.MethodGet, "/WeatherForecast", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := serve(a, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.NewDecoder(zr).Decode(&records))
	assert.Len(t, records, service.ForecastDays)
}

func TestCorrelationID(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	rr := serve(a, secure(http.MethodGet, "/health", nil))
	assert.Len(t, rr.Header().Get(middleware.CorrelationIDHeader), 36)

	req := secure(http.MethodGet, "/nope", nil)
	req.Header.Set(middleware.CorrelationIDHeader, "client-supplied")
	rr = serve(a, req)
	assert.Equal(t, "client-supplied", rr.Header().Get(middleware.CorrelationIDHeader))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	rr := serve(a, secure(http.MethodPost, "/weatherforecast", bytes.NewBufferString("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	body := decodeProblem(t, rr)
	assert.Equal(t, "Method Not Allowed", body["title"])
}

func TestRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := newTestApp(t, testConfig(t, nil), zap.New(core))

	serve(a, secure(http.MethodGet, "/WeatherForecast", nil))

	require.Equal(t, 1, logs.FilterMessage("Getting weather forecast").Len())
	entries := logs.FilterMessage("HTTP request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/WeatherForecast", fields["RequestPath"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.NotEmpty(t, fields["trace_id"])
	assert.NotEmpty(t, fields["span_id"])
	assert.NotEmpty(t, fields["correlation_id"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)
	serve(a, secure(http.MethodGet, "/WeatherForecast", nil))

	rr := serve(a, secure(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",status="200"} 1`)
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.RateLimiter.Enabled = true
		c.RateLimiter.Rate = 0.001
		c.RateLimiter.Burst = 2
	})
	a := newTestApp(t, cfg, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := secure(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		codes = append(codes, serve(a, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitingIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.RateLimiter.Enabled = true
		c.RateLimiter.Rate = 0.001
		c.RateLimiter.Burst = 1
	})
	a := newTestApp(t, cfg, nil)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := secure(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		codes = append(codes, serve(a, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestBuildRejectsInvalidTrustedProxy(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Server.TrustedProxies = []string{"not-an-ip"} })
	_, err := NewBuilder(cfg, nil).AddRequiredServices().Build()
	assert.Error(t, err)
}

func TestAddRequiredServicesIsIdempotent(t *testing.T) {
	cfg := testConfig(t, nil)

	once, err := NewBuilder(cfg, nil).AddRequiredServices().Build()
	require.NoError(t, err)
	twice, err := NewBuilder(cfg, nil).AddRequiredServices().AddRequiredServices().Build()
	require.NoError(t, err)

	assert.Len(t, twice.Routes(), len(once.Routes()))
	assert.Equal(t, once.Document().Paths.Len(), twice.Document().Paths.Len())
	assert.Same(t, twice.UseRequiredServices().Handler(), twice.UseRequiredServices().Handler())
}

func TestBuildRequiresRegistration(t *testing.T) {
	_, err := NewBuilder(testConfig(t, nil), nil).Build()
	assert.Error(t, err)
}

func TestBuildReportsInvalidConfiguration(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Tracing.Exporter = "carrier-pigeon" })
	_, err := NewBuilder(cfg, nil).AddRequiredServices().Build()
	assert.Error(t, err)
}

func TestDocumentSecurityScheme(t *testing.T) {
	a := newTestApp(t, testConfig(t, nil), nil)

	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Components struct {
			SecuritySchemes map[string]struct {
				Type   string `json:"type"`
				Scheme string `json:"scheme"`
				In     string `json:"in"`
				Name   string `json:"name"`
			} `json:"securitySchemes"`
		} `json:"components"`
		Security []map[string][]string `json:"security"`
		Paths    map[string]map[string]struct {
			OperationID string `json:"operationId"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(a.DocumentJSON(), &doc))

	assert.Equal(t, config.DefaultApplicationName, doc.Info.Title)
	assert.Equal(t, "v1", doc.Info.Version)
	bearer := doc.Components.SecuritySchemes["Bearer"]
	assert.Equal(t, "http", bearer.Type)
	assert.Equal(t, "bearer", bearer.Scheme)
	assert.Equal(t, "Authorization", bearer.Name)
	require.Len(t, doc.Security, 1)
	assert.Contains(t, doc.Security[0], "Bearer")
	assert.Equal(t, "GetWeatherForecast", doc.Paths["/WeatherForecast"]["get"].OperationID)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRun_GracefulShutdown(t *testing.T) {
	port := freePort(t)
	a := newTestApp(t, testConfig(t, func(c *config.Config) {
		c.Server.Port = port
		c.Server.HTTPSPort = 0
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	mr := miniredis.RunT(t)
	a := newTestApp(t, testConfig(t, func(c *config.Config) {
		c.Server.Port = l.Addr().(*net.TCPAddr).Port
		c.Redis.Enabled = true
		c.Redis.Addr = mr.Addr()
	}), nil)

	err = a.Run(context.Background())
	assert.Error(t, err)
	assert.Error(t, a.redis.Ping(context.Background()).Err(), "Expected the Redis client to be released")
	assert.NoError(t, a.Close(context.Background()))
}
