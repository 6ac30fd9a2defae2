/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/mautops/repair-gin/internal/container"
	"github.com/spf13/cobra"
)

// seedAdminCmd represents the seed-admin command
var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create the initial administrator",
	Long: `Create the initial administrator account with full permissions.
Running it again is a no-op once the seed administrator exists.
The password is read from --password or the APP_ADMIN_PASSWORD environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg)
		if err != nil {
			return err
		}

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("APP_ADMIN_PASSWORD")
		}
		if password == "" {
			return errors.New("admin password is required")
		}

		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		user, created, err := ctr.Users().SeedAdmin(cmd.Context(), username, password)
		if err != nil {
			return fmt.Errorf("failed to seed admin: %w", err)
		}
		if created {
			logger.WithField("username", user.Username).Info("seed admin created")
		} else {
			logger.WithField("username", user.Username).Info("seed admin already exists")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedAdminCmd)

	seedAdminCmd.Flags().String("username", "admin", "Administrator username")
	seedAdminCmd.Flags().String("password", "", "Administrator password")
}
