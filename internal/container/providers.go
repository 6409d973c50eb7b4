package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/expense"
	"github.com/garyjia/expense-approval/internal/infrastructure/notifier"
	"github.com/garyjia/expense-approval/internal/infrastructure/outbox"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/expense-approval/internal/infrastructure/report"
	"github.com/garyjia/expense-approval/internal/infrastructure/storage"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// DatabaseBundle holds database-related components. DB is nil for the
// in-memory driver.
type DatabaseBundle struct {
	DB        *database.DB
	TxManager port.TransactionManager
	Repos     *RepositoryBundle
}

// ReportBundle holds export components. Archive is nil when archiving is off.
type ReportBundle struct {
	Writer  port.ReportWriter
	Archive *storage.ExportArchive
}

// ProvideDatabase opens the configured store and builds its repositories.
// Pending migrations run when AutoMigrate is set.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		store := memory.NewStore()
		logger.Warn("Using in-memory store, data is lost on exit")
		return &DatabaseBundle{
			TxManager: store,
			Repos: &RepositoryBundle{
				Requests:  store.Requests(),
				Tasks:     store.Tasks(),
				History:   store.History(),
				Rules:     store.Rules(),
				Delegates: store.Delegates(),
				Users:     store.Users(),
			},
		}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(db, logger).Run(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	txManager := sqldb.New(db, logger)
	return &DatabaseBundle{
		DB:        db,
		TxManager: txManager,
		Repos:     ProvideRepositories(txManager, logger),
	}, nil
}

// ProvideRepositories creates all SQL repositories.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Requests:  repository.NewRequestRepository(db, logger),
		Tasks:     repository.NewTaskRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
		Rules:     repository.NewRuleRepository(db, logger),
		Delegates: repository.NewDelegateRepository(db, logger),
		Users:     repository.NewUserRepository(db, logger),
	}
}

// ProvideTracing creates the tracer provider and installs it globally.
func ProvideTracing(cfg *TracingConfig) (*tracing.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tracing config is required")
	}
	provider, err := tracing.New(tracing.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		OutputFile:     cfg.OutputFile,
	})
	if err != nil {
		return nil, err
	}
	provider.Install()
	return provider, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
	), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Tracing    *tracing.Provider
	Config     *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(utils.NewKVLogger(deps.Logger.Named("workflow"))),
		workflow.WithNoMatchPolicy(
			workflow.NoMatchPolicy(deps.Config.NoMatch),
			deps.Config.DefaultApproverRoles,
			deps.Config.DefaultEscalationHours,
		),
		workflow.WithRequestTTL(deps.Config.RequestTTL),
		workflow.WithBulkLimits(deps.Config.BulkConcurrency, deps.Config.BulkLimit),
	}
	if deps.Config.AdminRole != "" {
		opts = append(opts, workflow.WithAdminRole(deps.Config.AdminRole))
	}
	if deps.Tracing != nil {
		opts = append(opts, workflow.WithTracer(deps.Tracing.Tracer("github.com/garyjia/expense-approval/workflow")))
	}

	return workflow.NewEngine(
		deps.Repos.Requests,
		deps.Repos.Tasks,
		deps.Repos.History,
		deps.Repos.Rules,
		deps.Repos.Delegates,
		deps.Repos.Users,
		deps.TxManager,
		opts...,
	), nil
}

// ProvideOutbox opens the bbolt outbox, or returns nil when it is disabled.
func ProvideOutbox(cfg *OutboxConfig, logger *zap.Logger) (*outbox.BoltOutbox, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	box, err := outbox.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("Outbox opened", zap.String("path", cfg.Path))
	return box, nil
}

// ProvideNotifier creates the notifier selected by cfg.Kind.
func ProvideNotifier(cfg *NotifierConfig, users notifier.UserLookup, logger *zap.Logger) (port.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("notifier config is required")
	}
	switch cfg.Kind {
	case "lark":
		sender := notifier.NewSDKSender(notifier.LarkConfig{
			AppID:     cfg.LarkAppID,
			AppSecret: cfg.LarkAppSecret,
		}, logger)
		return notifier.NewLarkNotifier(sender, users, logger), nil
	case "log", "":
		return notifier.NewLogNotifier(logger), nil
	}
	return nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
}

// ProvideExpenseUpdater creates the expense status webhook client. Without a
// webhook URL status changes are only logged.
func ProvideExpenseUpdater(cfg *ExpenseConfig, logger *zap.Logger) port.ExpenseStatusUpdater {
	if cfg == nil || cfg.WebhookURL == "" {
		return expense.NewLogUpdater(logger)
	}
	return expense.NewWebhookClient(expense.Config{
		WebhookURL: cfg.WebhookURL,
		Secret:     cfg.Secret,
		Timeout:    cfg.Timeout,
	}, logger)
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Engine     workflow.Engine
	Repos      *RepositoryBundle
	Dispatcher dispatcher.Dispatcher
	Notifier   port.Notifier
	Expenses   port.ExpenseStatusUpdater
	Outbox     port.Outbox
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// notification service to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := utils.NewKVLogger(deps.Logger.Named("service"))

	bundle := &ServiceBundle{
		Approval:     service.NewApprovalService(deps.Engine, deps.Repos.Rules, serviceLogger),
		Rule:         service.NewRuleService(deps.Repos.Rules, serviceLogger),
		Delegate:     service.NewDelegateService(deps.Repos.Delegates, serviceLogger),
		Notification: service.NewNotificationService(deps.Notifier, deps.Expenses, deps.Outbox, serviceLogger),
	}

	if deps.Dispatcher != nil {
		bundle.Notification.Register(deps.Dispatcher)
	}
	return bundle, nil
}

// ProvideReporting creates the workbook writer and, when configured, the
// export archive.
func ProvideReporting(cfg *ReportConfig, logger *zap.Logger) *ReportBundle {
	bundle := &ReportBundle{Writer: report.NewXLSXExporter(logger)}
	if cfg != nil && cfg.ArchiveDir != "" {
		bundle.Archive = storage.NewExportArchive(storage.NewLocalFileStorage(cfg.ArchiveDir, logger))
	}
	return bundle
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Engine       workflow.Engine
	Outbox       port.Outbox
	Notification service.NotificationService
	Workflow     *WorkflowConfig
	OutboxCfg    *OutboxConfig
	Logger       *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.Workflow == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	manager.Register(worker.NewEscalationWorker(deps.Engine, deps.Workflow.TickInterval, deps.Logger))

	if deps.Outbox != nil && deps.Notification != nil && deps.OutboxCfg != nil {
		backoff := outbox.DefaultBackoff
		if deps.OutboxCfg.BackoffBase > 0 {
			backoff = outbox.Backoff{Base: deps.OutboxCfg.BackoffBase, Max: deps.OutboxCfg.BackoffMax}
		}
		manager.Register(worker.NewOutboxWorker(deps.Outbox, deps.Notification, worker.OutboxConfig{
			PollInterval: deps.OutboxCfg.PollInterval,
			BatchSize:    deps.OutboxCfg.BatchSize,
			MaxAttempts:  deps.OutboxCfg.MaxAttempts,
			Backoff:      backoff.Delay,
		}, deps.Logger))
	}

	return manager, nil
}
