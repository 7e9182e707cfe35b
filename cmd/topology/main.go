// Command topology declares and maintains the bus exchanges and queues.
//
// Usage:
//
//	topology declare
//	topology recreate --queue leads.search [--discard] [--drain-timeout 2m]
//	topology depth
//	topology markers clear --stage search [--external-id ChIJ...]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/rabbitmq"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "topology",
	Short:         "Manage the lead enrichment bus topology",
	Long:          "Declares exchanges, per-consumer queues and the dead-letter queue, recreates queues whose arguments changed, and clears processed markers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.AddCommand(declareCmd, recreateCmd, depthCmd, markersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "topology: %v\n", err)
		os.Exit(1)
	}
}

// withManager connects to the broker for the duration of fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *bus.Manager) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmq.Open(ctx, cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, bus.NewManager(bus.Opener(conn), bus.TopologyFromConfig(cfg.Bus), metrics.NewNop()))
}
