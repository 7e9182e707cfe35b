package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
)

var recreateFlags struct {
	queue        string
	discard      bool
	drainTimeout time.Duration
}

var recreateCmd = &cobra.Command{
	Use:   "recreate",
	Short: "Delete and redeclare one queue",
	Long: `Recreates a queue so changed arguments take effect. A queue holding
messages is left alone unless consumers drain it within --drain-timeout, or
--discard is given, in which case its messages are deleted and counted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *bus.Manager) error {
			discarded, err := mgr.Recreate(ctx, recreateFlags.queue, bus.RecreateOptions{
				Discard:      recreateFlags.discard,
				DrainTimeout: recreateFlags.drainTimeout,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recreated %s (discarded %d messages)\n", recreateFlags.queue, discarded)
			return nil
		})
	},
}

func init() {
	f := recreateCmd.Flags()
	f.StringVar(&recreateFlags.queue, "queue", "", "queue to recreate")
	f.BoolVar(&recreateFlags.discard, "discard", false, "delete queued messages instead of waiting for them to drain")
	f.DurationVar(&recreateFlags.drainTimeout, "drain-timeout", 0, "how long to wait for consumers to empty the queue")
	_ = recreateCmd.MarkFlagRequired("queue")
}
