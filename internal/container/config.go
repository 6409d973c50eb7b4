// Package container provides dependency injection and lifecycle management
// for the expense approval service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Workflow WorkflowConfig
	Outbox   OutboxConfig
	Notifier NotifierConfig
	Expense  ExpenseConfig
	Tracing  TracingConfig
	Report   ReportConfig

	// StartWorkers runs the escalation and outbox workers on Start. One-shot
	// commands leave it off.
	StartWorkers bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite3, pgx or memory
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the PostgreSQL connection string
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	RequestTTL             time.Duration
	NoMatch                string
	DefaultApproverRoles   []string
	DefaultEscalationHours int
	TickInterval           time.Duration
	BulkLimit              int
	BulkConcurrency        int
	AdminRole              string
}

// OutboxConfig holds delivery outbox settings.
type OutboxConfig struct {
	// Enabled queues deliveries in bbolt. Disabled, they are attempted once.
	Enabled      bool
	Path         string
	PollInterval time.Duration
	MaxAttempts  int
	BatchSize    int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// NotifierConfig holds notification settings.
type NotifierConfig struct {
	// Kind is log or lark
	Kind          string
	LarkAppID     string
	LarkAppSecret string
}

// ExpenseConfig holds expense webhook settings.
type ExpenseConfig struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OutputFile     string
}

// ReportConfig holds export settings.
type ReportConfig struct {
	// ArchiveDir keeps a copy of every generated workbook. Empty disables it.
	ArchiveDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/approval.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Workflow: WorkflowConfig{
			NoMatch:         "reject",
			TickInterval:    time.Minute,
			BulkLimit:       100,
			BulkConcurrency: 4,
			AdminRole:       "ADMIN",
		},
		Outbox: OutboxConfig{
			Enabled:      true,
			Path:         "data/outbox.db",
			PollInterval: 5 * time.Second,
			MaxAttempts:  8,
			BatchSize:    50,
			BackoffBase:  30 * time.Second,
			BackoffMax:   time.Hour,
		},
		Notifier: NotifierConfig{
			Kind: "log",
		},
		Expense: ExpenseConfig{
			Timeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName: "expense-approval",
		},
		StartWorkers: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx", "memory":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Outbox.Enabled && c.Outbox.Path == "" {
		return fmt.Errorf("outbox.path is required")
	}

	if c.Notifier.Kind == "lark" && (c.Notifier.LarkAppID == "" || c.Notifier.LarkAppSecret == "") {
		return fmt.Errorf("lark app id and secret are required for the lark notifier")
	}

	if c.StartWorkers && c.Workflow.TickInterval <= 0 {
		return fmt.Errorf("workflow.tick_interval must be positive")
	}

	return nil
}
