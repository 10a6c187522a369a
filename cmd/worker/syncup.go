package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labops/relay/internal/app"
	httpSrv "github.com/labops/relay/internal/http"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/syncup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncUpCmd = &cobra.Command{
	Use:   "syncup",
	Short: "Process pending sync-up requests through the sync-up bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(configPath(cmd))
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		dbx, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		writer := outbox.NewWriter(repository.NewOutboxRepository(dbx))
		w := syncup.NewWorker(
			dbx,
			repository.NewSyncUpRepository(dbx),
			newBridge(cfg, writer, log),
			syncup.WorkerConfig{
				PollInterval: cfg.SyncUp.PollInterval,
				BatchSize:    cfg.SyncUp.BatchSize,
				Limit:        cfg.SyncUp.Limit,
			},
			log,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app.ServeOps(ctx, opsAddr, httpSrv.NewServer(httpSrv.Deps{
			Config:   cfg,
			Log:      log,
			Gatherer: prometheus.DefaultGatherer,
		}), log)

		log.Info(">> sync-up worker started",
			zap.String("remote", cfg.SyncUp.BaseURL+cfg.SyncUp.StreamPath),
			zap.Int("batch_size", cfg.SyncUp.BatchSize),
		)
		return w.Run(ctx)
	},
}
