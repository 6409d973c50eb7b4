// Package http exposes the approval engine over a JSON API.
// This is a thin adapter layer that translates HTTP requests to engine and
// service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Archiver keeps a copy of generated reports
type Archiver interface {
	Store(ctx context.Context, filename string, data []byte) (string, error)
}

// HealthFunc reports whether the service is healthy, with per-component details
type HealthFunc func(ctx context.Context) (bool, interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps are the application components the API serves
type Deps struct {
	Engine    workflow.Engine
	Approvals service.ApprovalService
	Rules     service.RuleService
	Delegates service.DelegateService
	Reports   port.ReportWriter
	// Archive, Health and Webhook are optional. Without a Webhook verifier
	// the inbound expense webhook is not served.
	Archive Archiver
	Health  HealthFunc
	Webhook WebhookVerifier
	Logger  Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server with the given components
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(deps),
		logger:   deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	if h.webhook != nil {
		s.router.POST("/webhooks/expense-submitted", h.ExpenseSubmitted)
	}

	api := s.router.Group("/api/v1")
	{
		// Requests
		api.POST("/requests", h.SubmitRequest)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)
		api.GET("/requests/:id/tasks", h.ListRequestTasks)
		api.GET("/requests/:id/history", h.GetHistory)
		api.GET("/requests/:id/export.xlsx", h.ExportRequest)
		api.POST("/requests/:id/cancel", h.CancelRequest)

		// Tasks
		api.POST("/tasks/bulk-decision", h.BulkDecide)
		api.POST("/tasks/:id/decision", h.Decide)
		api.GET("/approvers/:user/tasks", h.PendingTasks)

		// Organizations
		api.GET("/orgs/:org/stats", h.Stats)
		api.GET("/orgs/:org/stats.xlsx", h.ExportStats)
		api.POST("/orgs/:org/rules", h.CreateRule)
		api.GET("/orgs/:org/rules", h.ListRules)

		// Rules
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeactivateRule)

		// Delegations
		api.POST("/delegates", h.CreateDelegate)
		api.GET("/users/:user/delegates", h.ListDelegates)
		api.DELETE("/delegates/:id", h.DeactivateDelegate)

		// Operations
		api.POST("/admin/tick", h.Tick)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
