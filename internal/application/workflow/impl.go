package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
)

const tracerName = "github.com/garyjia/expense-approval/workflow"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requests  port.RequestRepository
	tasks     port.TaskRepository
	history   port.HistoryRepository
	rules     port.RuleRepository
	delegates port.DelegateRepository
	directory port.UserDirectory
	txManager port.TransactionManager

	dispatcher dispatcher.Dispatcher
	logger     Logger
	tracer     trace.Tracer
	now        func() time.Time
	locks      *keyedMutex

	noMatch         NoMatchPolicy
	defaultRoles    []string
	defaultHours    int
	requestTTL      time.Duration
	adminRole       string
	bulkConcurrency int
	maxBulk         int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher that receives committed events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for engine spans
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock overrides the clock used by Submit, Decide and Cancel. Tick
// always uses the time it is given.
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithNoMatchPolicy sets what Submit does when no rule matches. The roles
// and escalation hours are used by NoMatchDefaultApprovers.
func WithNoMatchPolicy(policy NoMatchPolicy, defaultRoles []string, escalationHours int) EngineOption {
	return func(e *engineImpl) {
		e.noMatch = policy
		e.defaultRoles = append([]string(nil), defaultRoles...)
		e.defaultHours = escalationHours
	}
}

// WithRequestTTL fixes every request's due date at creation + ttl. With a
// zero ttl the due date follows the earliest pending task.
func WithRequestTTL(ttl time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.requestTTL = ttl
	}
}

// WithAdminRole sets the role allowed to cancel any request of its own org
func WithAdminRole(role string) EngineOption {
	return func(e *engineImpl) {
		e.adminRole = role
	}
}

// WithBulkLimits bounds BulkDecide: concurrency is the number of tasks
// decided in parallel, limit the number of task ids accepted per call (0 for
// no limit).
func WithBulkLimits(concurrency, limit int) EngineOption {
	return func(e *engineImpl) {
		if concurrency > 0 {
			e.bulkConcurrency = concurrency
		}
		e.maxBulk = limit
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requests port.RequestRepository,
	tasks port.TaskRepository,
	history port.HistoryRepository,
	rules port.RuleRepository,
	delegates port.DelegateRepository,
	directory port.UserDirectory,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requests:        requests,
		tasks:           tasks,
		history:         history,
		rules:           rules,
		delegates:       delegates,
		directory:       directory,
		txManager:       txManager,
		logger:          nopLogger{},
		tracer:          otel.Tracer(tracerName),
		now:             func() time.Time { return time.Now().UTC() },
		locks:           newKeyedMutex(),
		noMatch:         NoMatchReject,
		adminRole:       "ADMIN",
		bulkConcurrency: 4,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// span starts a span named after the engine operation
func (e *engineImpl) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "workflow."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish dispatches the events of a committed unit. Handlers run detached
// from the caller's cancellation.
func (e *engineImpl) publish(ctx context.Context, u *unit) {
	if e.dispatcher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, evt := range u.events {
		e.dispatcher.DispatchAsync(detached, evt)
	}
}
