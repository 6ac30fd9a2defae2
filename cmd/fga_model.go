/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/spf13/cobra"
)

// fgaModelCmd represents the fga-model command
var fgaModelCmd = &cobra.Command{
	Use:   "fga-model",
	Short: "Print the OpenFGA authorization model",
	Long: `Print the OpenFGA authorization model used for department monitors.
Write it to the store configured in openfga.store_id, for example:

  repair-gin fga-model > model.fga && fga model write --file model.fga`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
		return err
	},
}

func init() {
	rootCmd.AddCommand(fgaModelCmd)
}
