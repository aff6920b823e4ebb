package redis

import (
	"context"
	"fmt"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/fakhrymubarak/api-template/internal/config"
)

// NewClient returns a client for cfg.Addr, or nil when Redis is disabled.
// The connection is opened lazily on first use.
func NewClient(cfg config.RedisConfig) *redisv9.Client {
	if !cfg.Enabled {
		return nil
	}
	return redisv9.NewClient(&redisv9.Options{
		Addr: cfg.Addr,
	})
}

// Ping reports whether the server answers.
func Ping(ctx context.Context, client *redisv9.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return nil
}
