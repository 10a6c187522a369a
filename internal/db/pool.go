package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
)

// PoolOpts tunes a database/sql pool and its startup ping.
type PoolOpts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration // per attempt, default 5s
	ConnectRetry    time.Duration // total retry budget, 0 = single ping
}

// open opens dsn with driver, applies the pool limits and pings until the
// server answers or the retry budget is spent.
func open(driver, dsn string, p PoolOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty %s DSN", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}

	if err := ping(func(ctx context.Context) error { return db.PingContext(ctx) }, p.PingTimeout, p.ConnectRetry); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func ping(fn func(context.Context) error, timeout, retry time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retry > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = retry
		policy = eb
	}
	return backoff.Retry(attempt, policy)
}
