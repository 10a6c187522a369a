package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labops/relay/internal/app"
	"github.com/labops/relay/internal/db"
	httpSrv "github.com/labops/relay/internal/http"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/service/intake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (sync-up intake, broker health, delivery reports)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		mysqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
			PoolSize:    cfg.Redis.PoolSize,
			Lazy:        cfg.Redis.Lazy,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = chDB.Close()
		}()

		server := httpSrv.NewServer(httpSrv.Deps{
			Config:       cfg,
			Log:          log,
			Gatherer:     prometheus.DefaultGatherer,
			BrokerHealth: repository.NewBrokerHealthRepository(mysqlDB),
			Intake:       intake.New(repository.NewSyncUpRepository(mysqlDB)),
			Reports:      repository.NewCHEventsRepository(chDB),
			Redis:        redisClient,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
