package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/infrastructure/expense"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/garyjia/expense-approval/pkg/utils"
)

func serveCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting approval service",
				zap.String("version", version),
				zap.String("driver", cfg.Database.Driver),
				zap.Int("port", cfg.Server.Port))

			containerCfg := cfg.ToContainerConfig()
			containerCfg.Tracing.ServiceVersion = version
			containerCfg.StartWorkers = true

			c, err := container.NewContainer(containerCfg, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("failed to start services: %w", err)
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Shutdown finished with errors", zap.Error(err))
				}
			}()

			deps := httpapi.Deps{
				Engine:    c.Engine(),
				Approvals: c.Services().Approval,
				Rules:     c.Services().Rule,
				Delegates: c.Services().Delegate,
				Reports:   c.Reports().Writer,
				Health: func(ctx context.Context) (bool, interface{}) {
					status := c.Health(ctx)
					return status.Overall, status.Components
				},
				Logger: utils.NewKVLogger(logger),
			}
			if archive := c.Reports().Archive; archive != nil {
				deps.Archive = archive
			}
			if cfg.Expense.Secret != "" {
				deps.Webhook = expense.NewSigner(cfg.Expense.Secret)
			} else {
				logger.Info("No expense secret configured; inbound expense webhook disabled")
			}

			server := httpapi.NewServer(httpapi.ServerConfig{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Debug:           debug || cfg.Logger.Level == "debug",
			}, deps)

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			logger.Info("Approval service stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "run gin in debug mode")
	return cmd
}
