package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/container"
)

func tickCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Escalate overdue tasks and expire overdue requests once",
		Long: `Run a single escalation pass, as the background worker does on every
interval. Useful from cron when the server runs without workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: expected RFC3339", at)
				}
				now = t.UTC()
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			defer c.Close()

			changed, tickErr := c.Engine().Tick(cmd.Context(), now)
			// notifications raised by the pass must reach the outbox before it closes
			c.Dispatcher().Wait()

			for _, id := range changed {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			logger.Info("Tick finished", zap.Time("at", now), zap.Int("changed", len(changed)))
			if tickErr != nil {
				return fmt.Errorf("tick finished with errors: %w", tickErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 instant instead of now")
	return cmd
}
