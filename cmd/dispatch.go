/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/mautops/repair-gin/internal/container"
	"github.com/spf13/cobra"
)

// dispatchCmd represents the dispatch command
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending notifications once",
	Long: `Deliver the notification outbox records that are due and exit.
Useful when the API server runs without its background dispatcher,
or to flush the backlog after an outage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg)
		if err != nil {
			return err
		}

		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		rounds, _ := cmd.Flags().GetInt("rounds")
		if rounds < 1 {
			rounds = 1
		}
		total := 0
		for i := 0; i < rounds; i++ {
			n, err := ctr.Dispatcher().DrainOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to dispatch notifications: %w", err)
			}
			total += n
			if n == 0 {
				break
			}
		}
		logger.WithField("processed", total).Info("notification dispatch finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().Int("rounds", 1, "Maximum number of batches to process")
}
