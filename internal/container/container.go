package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/outbox"
	"github.com/garyjia/expense-approval/internal/infrastructure/tracing"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	outbox       *outbox.BoltOutbox

	// Infrastructure - Observability and output
	tracing *tracing.Provider
	reports *ReportBundle

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	services   *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests  port.RequestRepository
	Tasks     port.TaskRepository
	History   port.HistoryRepository
	Rules     port.RuleRepository
	Delegates port.DelegateRepository
	Users     port.UserRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Rule         service.RuleService
	Delegate     service.DelegateService
	Notification service.NotificationService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Tracing
// 3. Event dispatcher and workflow engine
// 4. Outbox and delivery collaborators
// 5. Application services
// 6. Reporting
// 7. Workers (started only when StartWorkers is set)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize tracing
	provider, err := ProvideTracing(&c.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.tracing = provider

	// Step 3: Initialize dispatcher and workflow engine
	if err := c.initDispatcherAndWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 4 and 5: Initialize outbox, collaborators and services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized",
		zap.String("notifier", c.config.Notifier.Kind),
		zap.Bool("outbox", c.outbox != nil))

	// Step 6: Initialize reporting
	c.reports = ProvideReporting(&c.config.Report, c.logger)

	// Step 7: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers
	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Step 2: Close dispatcher, draining in-flight handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close outbox
	if c.outbox != nil {
		if err := c.outbox.Close(); err != nil {
			c.logger.Error("Failed to close outbox", zap.Error(err))
			errs = append(errs, fmt.Errorf("close outbox: %w", err))
		}
	}

	// Step 4: Flush spans
	if c.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.tracing.Shutdown(ctx); err != nil {
			c.logger.Error("Failed to shut down tracing", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		cancel()
	}

	// Step 5: Close database
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	// Check database
	switch {
	case c.db != nil:
		if err := c.db.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true, Message: string(c.db.Dialect())})
		}
	case c.repositories != nil:
		set("database", ComponentHealth{Healthy: true, Message: "memory"})
	default:
		set("database", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check dispatcher and engine
	if c.dispatcher != nil && c.engine != nil {
		set("workflow", ComponentHealth{Healthy: true})
	} else {
		set("workflow", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check outbox
	if c.outbox != nil {
		pending, dead, err := c.outbox.Counts()
		if err != nil {
			set("outbox", ComponentHealth{Healthy: false, Message: err.Error()})
		} else {
			// dead letters need attention but do not stop the service
			set("outbox", ComponentHealth{Healthy: true, Message: fmt.Sprintf("pending: %d, dead: %d", pending, dead)})
		}
	}

	// Check workers
	if c.config.StartWorkers {
		if c.workers != nil && c.workers.IsRunning() {
			set("workers", ComponentHealth{Healthy: true, Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount())})
		} else {
			set("workers", ComponentHealth{Healthy: false, Message: "not running"})
		}
	}

	return status
}

// initDatabase opens the store and creates all repositories.
func (c *Container) initDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = bundle.DB
	c.txManager = bundle.TxManager
	c.repositories = bundle.Repos
	return nil
}

// initDispatcherAndWorkflow creates the dispatcher and the workflow engine.
func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Tracing:    c.tracing,
		Config:     &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	return nil
}

// initServices opens the outbox, builds the delivery collaborators and the
// application services.
func (c *Container) initServices() error {
	box, err := ProvideOutbox(&c.config.Outbox, c.logger)
	if err != nil {
		return err
	}
	c.outbox = box

	n, err := ProvideNotifier(&c.config.Notifier, c.repositories.Users, c.logger)
	if err != nil {
		return err
	}

	services, err := ProvideServices(&ServiceDeps{
		Engine:     c.engine,
		Repos:      c.repositories,
		Dispatcher: c.dispatcher,
		Notifier:   n,
		Expenses:   ProvideExpenseUpdater(&c.config.Expense, c.logger),
		Outbox:     c.portOutbox(),
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// initWorkers creates the background workers and starts them when configured.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Engine:       c.engine,
		Outbox:       c.portOutbox(),
		Notification: c.services.Notification,
		Workflow:     &c.config.Workflow,
		OutboxCfg:    &c.config.Outbox,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if !c.config.StartWorkers {
		return nil
	}
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))
	return nil
}

// portOutbox keeps a nil *BoltOutbox from becoming a non-nil interface
func (c *Container) portOutbox() port.Outbox {
	if c.outbox == nil {
		return nil
	}
	return c.outbox
}

// Getters for accessing container components

// TxManager returns the transaction manager.
func (c *Container) TxManager() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Reports returns the report writer and archive.
func (c *Container) Reports() *ReportBundle {
	return c.reports
}

// Outbox returns the delivery outbox, nil when disabled.
func (c *Container) Outbox() *outbox.BoltOutbox {
	return c.outbox
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
