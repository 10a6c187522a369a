package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labops/relay/internal/app"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var emitFlags struct {
	aggregateType string
	aggregateID   string
	eventType     string
	payload       string
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Record an outbox event by hand (replays, smoke tests)",
	Example: `  labops emit --aggregate-type test_order --aggregate-id TO-42 \
    --event-type TEST_ORDER_CREATED --payload '{"orderId":"TO-42"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if emitFlags.aggregateType == "" || emitFlags.eventType == "" {
			return errors.New("--aggregate-type and --event-type are required")
		}
		payload := json.RawMessage(emitFlags.payload)
		if !json.Valid(payload) {
			return fmt.Errorf("--payload is not valid JSON")
		}

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

		ctx := cmd.Context()
		tx, err := dbx.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		w := outbox.NewWriter(repository.NewOutboxRepository(dbx))
		e, err := w.Record(ctx, tx, emitFlags.aggregateType, emitFlags.aggregateID, emitFlags.eventType, payload)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		if _, ok := outbox.NewStaticResolver(cfg.TopicTable()).Resolve(e.EventType); !ok {
			log.Warn("no topic configured for event type; it will stay PENDING", zap.String("event_type", e.EventType))
		}
		log.Info("outbox event recorded", zap.String("id", e.ID), zap.String("event_type", e.EventType))
		fmt.Fprintln(cmd.OutOrStdout(), e.ID)
		return nil
	},
}

func init() {
	f := emitCmd.Flags()
	f.StringVar(&emitFlags.aggregateType, "aggregate-type", "", "aggregate type, e.g. test_order")
	f.StringVar(&emitFlags.aggregateID, "aggregate-id", "", "aggregate id (Kafka message key)")
	f.StringVar(&emitFlags.eventType, "event-type", "", "event type routed through the topic table")
	f.StringVar(&emitFlags.payload, "payload", "{}", "JSON payload")
}
