package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/expense-approval/internal/application/workflow"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Expense  ExpenseConfig  `mapstructure:"expense"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Report   ReportConfig   `mapstructure:"report"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite3, pgx or memory
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig tunes the approval engine
type WorkflowConfig struct {
	RequestTTL             time.Duration `mapstructure:"request_ttl"`
	NoMatch                string        `mapstructure:"no_match"`
	DefaultApproverRoles   []string      `mapstructure:"default_approver_roles"`
	DefaultEscalationHours int           `mapstructure:"default_escalation_hours"`
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	BulkLimit              int           `mapstructure:"bulk_limit"`
	BulkConcurrency        int           `mapstructure:"bulk_concurrency"`
	AdminRole              string        `mapstructure:"admin_role"`
}

// OutboxConfig holds the delivery outbox configuration
type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BatchSize    int           `mapstructure:"batch_size"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

// NotifierConfig selects how approvers and submitters are notified
type NotifierConfig struct {
	Kind string     `mapstructure:"kind"` // log or lark
	Lark LarkConfig `mapstructure:"lark"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// ExpenseConfig points at the expense system's status webhook. An empty URL
// logs status changes instead.
type ExpenseConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	OutputFile  string `mapstructure:"output_file"`
}

// ReportConfig holds export settings
type ReportConfig struct {
	ArchiveDir string `mapstructure:"archive_dir"`
}

// Load loads configuration from file and environment variables. A .env file
// next to the working directory is applied to the environment first. An
// empty configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "data/approval.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.request_ttl", 0)
	v.SetDefault("workflow.no_match", string(workflow.NoMatchReject))
	v.SetDefault("workflow.default_approver_roles", []string{})
	v.SetDefault("workflow.default_escalation_hours", 0)
	v.SetDefault("workflow.tick_interval", time.Minute)
	v.SetDefault("workflow.bulk_limit", 100)
	v.SetDefault("workflow.bulk_concurrency", 4)
	v.SetDefault("workflow.admin_role", "ADMIN")

	// Outbox defaults
	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.path", "data/outbox.db")
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.max_attempts", 8)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.backoff_base", 30*time.Second)
	v.SetDefault("outbox.backoff_max", time.Hour)

	// Notifier defaults
	v.SetDefault("notifier.kind", "log")
	v.SetDefault("notifier.lark.app_id", "")
	v.SetDefault("notifier.lark.app_secret", "")

	// Expense defaults
	v.SetDefault("expense.webhook_url", "")
	v.SetDefault("expense.secret", "")
	v.SetDefault("expense.timeout", 10*time.Second)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "expense-approval")
	v.SetDefault("tracing.output_file", "")

	// Report defaults
	v.SetDefault("report.archive_dir", "data/reports")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	bindings := map[string]string{
		"database.dsn":             "DATABASE_DSN",
		"notifier.lark.app_id":     "LARK_APP_ID",
		"notifier.lark.app_secret": "LARK_APP_SECRET",
		"expense.webhook_url":      "EXPENSE_WEBHOOK_URL",
		"expense.secret":           "EXPENSE_WEBHOOK_SECRET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "APPROVAL_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	// Validate database
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for pgx")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite3, pgx, memory", c.Database.Driver)
	}

	// Validate workflow
	policy := workflow.NoMatchPolicy(c.Workflow.NoMatch)
	if !policy.IsValid() {
		return fmt.Errorf("workflow.no_match %q is not one of reject, auto_approve, default_approvers", c.Workflow.NoMatch)
	}
	if policy == workflow.NoMatchDefaultApprovers && len(c.Workflow.DefaultApproverRoles) == 0 {
		return fmt.Errorf("workflow.default_approver_roles is required when workflow.no_match is default_approvers")
	}
	if c.Workflow.DefaultEscalationHours < 0 {
		return fmt.Errorf("workflow.default_escalation_hours must not be negative")
	}
	if c.Workflow.RequestTTL < 0 {
		return fmt.Errorf("workflow.request_ttl must not be negative")
	}
	if c.Workflow.TickInterval <= 0 {
		return fmt.Errorf("workflow.tick_interval must be positive")
	}
	if c.Workflow.BulkLimit < 0 {
		return fmt.Errorf("workflow.bulk_limit must not be negative")
	}

	// Validate outbox
	if c.Outbox.Enabled {
		if c.Outbox.Path == "" {
			return fmt.Errorf("outbox.path is required when the outbox is enabled")
		}
		if c.Outbox.MaxAttempts <= 0 {
			return fmt.Errorf("outbox.max_attempts must be positive")
		}
		if c.Outbox.PollInterval <= 0 {
			return fmt.Errorf("outbox.poll_interval must be positive")
		}
	}

	// Validate notifier
	switch c.Notifier.Kind {
	case "log":
	case "lark":
		if c.Notifier.Lark.AppID == "" {
			return fmt.Errorf("notifier.lark.app_id is required")
		}
		if c.Notifier.Lark.AppSecret == "" {
			return fmt.Errorf("notifier.lark.app_secret is required")
		}
	default:
		return fmt.Errorf("notifier.kind %q is not one of log, lark", c.Notifier.Kind)
	}

	if c.Expense.Timeout < 0 {
		return fmt.Errorf("expense.timeout must not be negative")
	}

	return nil
}
