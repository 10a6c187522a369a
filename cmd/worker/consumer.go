package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labops/relay/internal/app"
	httpSrv "github.com/labops/relay/internal/http"
	"github.com/labops/relay/internal/inbox"
	"github.com/labops/relay/internal/kafka"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Consume lab events through the inbox guard",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := app.Bootstrap(configPath(cmd))
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if len(cfg.Consumer.Topics) == 0 {
			return fmt.Errorf("consumer.topics is empty")
		}

		// 2) DB connection (MySQL)
		dbx, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		// 3) handlers
		writer := outbox.NewWriter(repository.NewOutboxRepository(dbx))
		router := inbox.NewRouter()
		router.Register(cfg.SyncUp.TriggerEventType, newBridge(cfg, writer, log).Handle)

		// 4) kafka consumer
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "labops"
		}
		groupID = groupID + "-" + cfg.Service.Name

		consumer := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topics:         cfg.Consumer.Topics,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
			Log:            log,
		})
		defer consumer.Close()

		w := worker.NewConsumer(consumer, inbox.NewGuard(dbx, repository.NewInboxRepository(), log), router, log)

		// tune knobs
		if cfg.Consumer.Workers > 0 {
			w.Workers = cfg.Consumer.Workers
		}
		w.RetryMaxElapsed = cfg.Consumer.RetryMaxElapsed

		// 5) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app.ServeOps(ctx, opsAddr, httpSrv.NewServer(httpSrv.Deps{
			Config:   cfg,
			Log:      log,
			Gatherer: prometheus.DefaultGatherer,
		}), log)

		log.Info(">> consumer started",
			zap.Strings("topics", cfg.Consumer.Topics),
			zap.String("group", groupID),
			zap.Int("workers", w.Workers),
			zap.Strings("event_types", router.EventTypes()),
		)

		return w.Run(ctx)
	},
}
