package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/app"
	"github.com/labops/relay/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the outbox, inbox, broker health and sync-up tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		files, err := migrations.MySQL()
		if err != nil {
			return fmt.Errorf("read migrations: %w", err)
		}
		if err := apply(ctx, sqlDB, files, log.With(zap.String("store", "mysql"))); err != nil {
			return err
		}

		if migrateClickHouse {
			chDB, err := app.OpenClickHouse(cfg)
			if err != nil {
				return err
			}
			defer chDB.Close()

			chFiles, err := migrations.ClickHouse()
			if err != nil {
				return fmt.Errorf("read clickhouse migrations: %w", err)
			}
			if err := apply(ctx, chDB, chFiles, log.With(zap.String("store", "clickhouse"))); err != nil {
				return err
			}
		}

		log.Info("migration complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateClickHouse, "clickhouse", false, "also create the ClickHouse delivery log")
}

func apply(ctx context.Context, dbx *sqlx.DB, files []migrations.File, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, f := range files {
		for i, stmt := range f.Statements {
			if _, err := dbx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s statement %d: %w", f.Name, i+1, err)
			}
		}
		log.Info("migration applied", zap.String("file", f.Name), zap.Int("statements", len(f.Statements)))
	}
	return nil
}
