package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labops/relay/internal/app"
	"github.com/labops/relay/internal/brokerhealth"
	httpSrv "github.com/labops/relay/internal/http"
	"github.com/labops/relay/internal/kafka"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var relayOpsAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox publisher gated by the broker health monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		dbx, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		defer func() { _ = producer.Close() }()

		state := brokerhealth.NewState()
		monitor := brokerhealth.NewMonitor(
			kafka.NewProber(cfg.Kafka.Brokers, cfg.BrokerHealth.ProbeTimeout),
			repository.NewBrokerHealthRepository(dbx),
			state,
			brokerhealth.Config{
				Broker:           cfg.BrokerHealth.BrokerName,
				Interval:         cfg.BrokerHealth.Interval,
				FailureThreshold: cfg.BrokerHealth.FailureThreshold,
				ProbeTimeout:     cfg.BrokerHealth.ProbeTimeout,
			},
			log,
		)

		publisher := outbox.NewPublisher(
			repository.NewOutboxRepository(dbx),
			producer,
			outbox.NewStaticResolver(cfg.TopicTable()),
			state,
			outbox.PublisherConfig{
				Source:       cfg.Service.Name,
				Broker:       cfg.BrokerHealth.BrokerName,
				PollInterval: cfg.Outbox.PollInterval,
				BatchSize:    cfg.Outbox.BatchSize,
				MaxInFlight:  cfg.Outbox.MaxInFlight,
				SendTimeout:  cfg.Outbox.SendTimeout,
				WarnEvery:    cfg.Outbox.WarnEvery,
			},
			log,
		)

		// graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// seed the breaker before the first publish tick
		if err := monitor.Load(ctx); err != nil {
			log.Warn("broker health not loaded", zap.Error(err))
		}

		app.ServeOps(ctx, relayOpsAddr, httpSrv.NewServer(httpSrv.Deps{
			Config:       cfg,
			Log:          log,
			Gatherer:     prometheus.DefaultGatherer,
			BrokerHealth: state,
		}), log)

		log.Info(">> relay started",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.Int("routes", len(cfg.Topics)),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return monitor.Run(gctx) })
		g.Go(func() error { return publisher.Run(gctx) })
		return g.Wait()
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayOpsAddr, "ops-addr", ":9101", "address for /healthz, /metrics and /v1/broker-health (empty disables)")
}
