package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
)

var declareCmd = &cobra.Command{
	Use:   "declare",
	Short: "Declare every exchange, queue and binding",
	Long:  "Idempotently declares the configured topology. Existing entities with matching arguments are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *bus.Manager) error {
			return mgr.DeclareTopology(ctx)
		})
	},
}
