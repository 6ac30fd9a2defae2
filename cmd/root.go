/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"
	"os"

	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "repair-gin",
	Short: "Repair shop workflow API server",
	Long: `Repair Gin is a REST API server for repair shop ticket management.
It tracks repair tickets through department hand-offs, keeps an
append-only event log per ticket and notifies the people involved.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局配置标志
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: search in current directory, ./config, or /etc/repair-gin)")
}

// GetRootCmd 返回根命令(用于测试)
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 读取 --config 指定的配置
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configPath, nil
}

// setupLogger 按配置创建日志并设为全局日志
func setupLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger, err := logging.NewFromConfig(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.Set(logger)
	return logger, nil
}
