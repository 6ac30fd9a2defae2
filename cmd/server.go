/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/api"
	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/container"
	"github.com/mautops/repair-gin/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the Repair Gin API server.
The server listens on the configured host and port, serves the REST API
and the websocket endpoint, and runs the notification dispatcher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		cfg, configPath, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		logger, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		if config.IsProduction(cfg) {
			gin.SetMode(gin.ReleaseMode)
		}

		// 2. 链路追踪
		if cfg.Tracing.Enabled {
			if err := api.InitTracing(cfg.Tracing); err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
		}

		// 3. 初始化容器
		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		// 4. 配置热加载
		if configPath != "" {
			watcher := config.NewConfigWatcher(cfg, configPath)
			watcher.OnError(func(err error) {
				logger.WithError(err).Warn("failed to reload config")
			})
			watcher.OnConfigChange(func(next *config.Config) {
				logger.SetLevel(logging.ParseLevel(next.Log.Level))
				ctr.Audit().SetWindow(next.Audit.Window)
				logger.WithFields(logrus.Fields{
					"log_level":    next.Log.Level,
					"audit_window": ctr.Audit().Window(),
				}).Info("config reloaded")
			})
			if err := watcher.Start(); err != nil {
				logger.WithError(err).Warn("config watcher disabled")
			} else {
				defer watcher.Stop()
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 5. 后台任务
		ctr.StartBackground(ctx)

		// 6. 启动服务器
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           ctr.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.WithField("addr", addr).Info("server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		// 等待中断信号
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down server")

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server forced to shutdown")
		}
		if cfg.Tracing.Enabled {
			if err := api.ShutdownTracing(shutdownCtx); err != nil {
				logger.WithError(err).Warn("failed to flush traces")
			}
		}

		logger.Info("server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// 服务器配置标志
	serverCmd.Flags().String("host", "0.0.0.0", "Server host")
	serverCmd.Flags().Int("port", 8080, "Server port")
}
