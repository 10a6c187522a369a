// Package worker holds the background process commands: the inbox-guarded
// consumer and the sync-up request poller.
package worker

import (
	"github.com/labops/relay/internal/config"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/syncup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var opsAddr string

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers (consumer, syncup)",
	}
	cmd.PersistentFlags().StringVar(&opsAddr, "ops-addr", ":9102", "address for /healthz and /metrics (empty disables)")

	cmd.AddCommand(consumerCmd, syncUpCmd)
	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	return p
}

// newBridge wires the sync-up RPC client to the outbox writer. Both workers
// produce through the same bridge so their events are indistinguishable.
func newBridge(cfg config.Config, writer *outbox.Writer, log *zap.Logger) *syncup.Bridge {
	rpc := syncup.NewHTTPClient("sync-up", cfg.SyncUp.BaseURL, cfg.SyncUp.StreamPath, cfg.SyncUp.Timeout)
	return syncup.NewBridge(rpc, writer, cfg.SyncUp.AggregateType, cfg.SyncUp.Limit, log)
}
