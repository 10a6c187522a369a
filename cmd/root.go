package cmd

import (
	"fmt"
	"os"

	"github.com/labops/relay/cmd/worker"
	"github.com/spf13/cobra"
)

// cfgPath is shared by every subcommand; empty means embedded defaults plus
// LABOPS_* environment overrides only.
var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "labops",
	Short: "Lab operations reliable event delivery",
	Long: `labops runs one lab service's side of cross-service event delivery:

  serve    sync-up intake, broker health and delivery reports over HTTP
  relay    outbox publisher gated by the broker health monitor
  worker   inbox-guarded consumer and sync-up request poller
  emit     record one outbox event by hand
  migrate  apply the embedded MySQL (and ClickHouse) schema`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file merged over the embedded defaults")
	rootCmd.AddCommand(
		serveCmd,
		relayCmd,
		emitCmd,
		migrateCmd,
		worker.NewWorkerCmd(),
	)
}
