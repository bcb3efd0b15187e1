package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/esg-compliance-api/pkg/config"
)

const defaultPingTimeout = 5 * time.Second

// ErrMiss is returned when a key is absent from the cache.
var ErrMiss = errors.New("cache miss")

// Options maps the Redis config onto client options. clientName is reported
// through CLIENT SETNAME.
func Options(cfg config.RedisConfig, clientName string) *redis.Options {
	return &redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		ClientName:  clientName,
	}
}

// NewRedis connects and pings. Callers treat an error as "run without Redis".
func NewRedis(ctx context.Context, cfg config.RedisConfig, clientName string) (*redis.Client, error) {
	opts := Options(cfg, clientName)
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}
