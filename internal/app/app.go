// Package app holds the process bootstrap shared by every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/config"
	"github.com/labops/relay/internal/db"
	httpSrv "github.com/labops/relay/internal/http"
	"github.com/labops/relay/internal/logger"
	"github.com/labops/relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Bootstrap loads and validates config, builds the logger and registers the
// metric collectors on the default registry.
func Bootstrap(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.Init(cfg.Log.Level, cfg.Log.Encoding, cfg.Service.Name)
	if err != nil {
		return config.Config{}, nil, err
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, log, nil
}

func poolOpts(c config.DatabaseConfig) db.PoolOpts {
	return db.PoolOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
		ConnectRetry:    c.ConnectRetry,
	}
}

func OpenMySQL(cfg config.Config) (*sqlx.DB, error) {
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, poolOpts(cfg.MySQL))
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}

func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, poolOpts(cfg.ClickHouse))
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return chDB, nil
}

// ServeOps runs an HTTP server until ctx is done, then shuts it down. An
// empty addr disables it.
func ServeOps(ctx context.Context, addr string, srv *httpSrv.Server, log *zap.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops http server exited", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}
