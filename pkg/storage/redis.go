package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Rate limit calls sit on the request path, so the client gives up fast
// and the limiter fails open.
const (
	redisDialTimeout  = 2 * time.Second
	redisReadTimeout  = 500 * time.Millisecond
	redisWriteTimeout = 500 * time.Millisecond
	redisPoolTimeout  = time.Second
	redisMaxRetries   = 1
)

// NewRedisClient parses url and returns a client tuned for the rate
// limiter. An unreachable server is logged, not returned: the limiter
// fails open until it recovers.
func NewRedisClient(ctx context.Context, url string, logger *observability.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisReadTimeout
	opts.WriteTimeout = redisWriteTimeout
	opts.PoolTimeout = redisPoolTimeout
	opts.MaxRetries = redisMaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable, rate limiting fails open until it recovers")
	} else {
		logger.WithField("addr", opts.Addr).Info("Redis connected")
	}

	return client, nil
}
