// Package health reports service readiness on the /health endpoint.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/redis"
)

const (
	Path = "/health"

	Healthy   = "Healthy"
	Unhealthy = "Unhealthy"
)

// NewChecker returns a checker with no checks, plus a Redis ping when client
// is set. A checker without checks is always up.
func NewChecker(logger *zap.Logger, client *redisv9.Client, cacheDuration time.Duration) health.Checker {
	opts := []health.CheckerOption{
		health.WithCacheDuration(cacheDuration),
		health.WithStatusListener(func(ctx context.Context, state health.CheckerState) {
			logger.Info("health status changed", zap.String("status", string(state.Status)))
		}),
	}
	if client != nil {
		opts = append(opts, health.WithCheck(redisCheck(logger, client)))
	}
	return health.NewChecker(opts...)
}

func redisCheck(logger *zap.Logger, client *redisv9.Client) health.Check {
	return health.Check{
		Name:    "redis",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			err := redis.Ping(ctx, client)
			if err != nil {
				logger.Warn("health check failed", zap.String("check", "redis"), zap.Error(err))
			}
			return err
		},
	}
}

// Handler answers with a plain-text Healthy (200) or Unhealthy (503).
func Handler(checker health.Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := checker.Check(r.Context())

		status, body := http.StatusOK, Healthy
		if result.Status != health.StatusUp {
			status, body = http.StatusServiceUnavailable, Unhealthy
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store, no-cache")
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte(body))
		}
	})
}
