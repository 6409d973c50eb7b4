package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/infrastructure/rulefile"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load users, rules and delegations from a YAML file",
		Long: `Load an organization's directory, approval rules and delegations from a
YAML seed file. Rules that already exist by name and active delegations
between the same users are skipped, so seeding is safe to repeat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rulefile.Load(args[0])
			if err != nil {
				return err
			}
			if problems := rulefile.Validate(f); len(problems) > 0 {
				return fmt.Errorf("%s is invalid:\n  %s", args[0], strings.Join(problems, "\n  "))
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Database.Driver == "memory" {
				logger.Warn("Seeding the memory driver; data is lost when the command exits")
			}

			c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			defer c.Close()

			summary, err := rulefile.Seed(cmd.Context(), f,
				c.Repositories().Users, c.Services().Rule, c.Services().Delegate)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			logger.Info("Seed complete",
				zap.String("org_id", f.OrgID),
				zap.Int("users", summary.Users),
				zap.Int("rules_created", summary.RulesCreated),
				zap.Int("rules_skipped", summary.RulesSkipped),
				zap.Int("delegates_created", summary.DelegatesCreated),
				zap.Int("delegates_skipped", summary.DelegatesSkipped))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d users, %d rules (%d skipped), %d delegates (%d skipped)\n",
				f.OrgID, summary.Users,
				summary.RulesCreated, summary.RulesSkipped,
				summary.DelegatesCreated, summary.DelegatesSkipped)
			return nil
		},
	}
}
