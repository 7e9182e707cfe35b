package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
)

var depthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show ready message counts per queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *bus.Manager) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tMESSAGES")
			for _, q := range bus.TopologyFromConfig(cfg.Bus).AllQueues() {
				depth, err := mgr.Depth(ctx, q)
				if err != nil {
					fmt.Fprintf(w, "%s\t%v\n", q, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\n", q, depth)
			}
			return w.Flush()
		})
	},
}
