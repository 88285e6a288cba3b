package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisFlags configures the shared effective permission cache. The cache is
// disabled when Addr is empty.
type RedisFlags struct {
	Addr         string        `help:"Redis address for the permission cache; empty disables it" env:"TENANTCORE_REDIS_ADDR"`
	Password     string        `help:"Redis password" env:"TENANTCORE_REDIS_PASSWORD"`
	DB           int           `help:"Redis database number" default:"0" env:"TENANTCORE_REDIS_DB"`
	CacheTTL     time.Duration `help:"lifetime of cached permission sets" default:"5m" env:"TENANTCORE_REDIS_CACHE_TTL"`
	ConnectRetry time.Duration `help:"how long to keep retrying an unreachable Redis" default:"30s"`
}

func (r *RedisFlags) Enabled() bool {
	return r.Addr != ""
}

// connect returns a client once Redis answers a ping.
func (r *RedisFlags) connect(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})

	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(r.ConnectRetry),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Redis not ready")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", r.Addr, err)
	}

	return client, nil
}
