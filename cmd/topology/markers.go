package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/redis"
)

var (
	markerStage      string
	markerExternalID string
)

var markersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Inspect processed-delivery markers",
}

var markersClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete processed markers so redelivered leads are handled again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		pattern := stage.MarkerPattern(cfg.Stage.DedupePrefix, markerStage, markerExternalID)
		n, err := rdb.DeleteMatching(ctx, pattern)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d markers matching %s\n", n, pattern)
		return nil
	},
}

func init() {
	markersClearCmd.Flags().StringVar(&markerStage, "stage", "", "stage whose markers to clear (required)")
	markersClearCmd.Flags().StringVar(&markerExternalID, "external-id", "", "limit to one lead")
	_ = markersClearCmd.MarkFlagRequired("stage")
	markersCmd.AddCommand(markersClearCmd)
}
