package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	Addr        string        // "127.0.0.1:6379"
	Password    string        // optional
	DB          int           // default 0
	DialTimeout time.Duration // default 5s
	PoolSize    int           // 0 = go-redis default
	Lazy        bool          // skip the startup ping
}

// NewRedisClient backs the sync-up intake rate limiter. With Lazy set the
// client is returned without contacting the server; the limiter fails open
// while redis is unreachable.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		PoolSize:    opts.PoolSize,
	})
	if opts.Lazy {
		return rdb, nil
	}

	err := ping(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }, opts.DialTimeout, 0)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
