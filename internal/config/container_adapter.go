package config

import (
	"github.com/garyjia/expense-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// Workers are off; the serve command turns them on.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Workflow: container.WorkflowConfig{
			RequestTTL:             c.Workflow.RequestTTL,
			NoMatch:                c.Workflow.NoMatch,
			DefaultApproverRoles:   append([]string(nil), c.Workflow.DefaultApproverRoles...),
			DefaultEscalationHours: c.Workflow.DefaultEscalationHours,
			TickInterval:           c.Workflow.TickInterval,
			BulkLimit:              c.Workflow.BulkLimit,
			BulkConcurrency:        c.Workflow.BulkConcurrency,
			AdminRole:              c.Workflow.AdminRole,
		},
		Outbox: container.OutboxConfig{
			Enabled:      c.Outbox.Enabled,
			Path:         c.Outbox.Path,
			PollInterval: c.Outbox.PollInterval,
			MaxAttempts:  c.Outbox.MaxAttempts,
			BatchSize:    c.Outbox.BatchSize,
			BackoffBase:  c.Outbox.BackoffBase,
			BackoffMax:   c.Outbox.BackoffMax,
		},
		Notifier: container.NotifierConfig{
			Kind:          c.Notifier.Kind,
			LarkAppID:     c.Notifier.Lark.AppID,
			LarkAppSecret: c.Notifier.Lark.AppSecret,
		},
		Expense: container.ExpenseConfig{
			WebhookURL: c.Expense.WebhookURL,
			Secret:     c.Expense.Secret,
			Timeout:    c.Expense.Timeout,
		},
		Tracing: container.TracingConfig{
			Enabled:     c.Tracing.Enabled,
			ServiceName: c.Tracing.ServiceName,
			OutputFile:  c.Tracing.OutputFile,
		},
		Report: container.ReportConfig{
			ArchiveDir: c.Report.ArchiveDir,
		},
	}
}
