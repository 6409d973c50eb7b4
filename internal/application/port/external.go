package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Notification is a message to one user
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	RequestID   string            `json:"request_id,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Notifier delivers notifications to users
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ExpenseStatusUpdater tells the expense system about a final outcome
type ExpenseStatusUpdater interface {
	UpdateExpenseStatus(ctx context.Context, expenseID string, status entity.RequestStatus) error
}

// OutboxEntry is one pending delivery
type OutboxEntry struct {
	Key           string    `json:"key"`
	Kind          string    `json:"kind"`
	Payload       []byte    `json:"payload"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Outbox stores deliveries until a sink confirms them
type Outbox interface {
	// Enqueue is idempotent on Key and reports whether the entry was new
	Enqueue(ctx context.Context, entry OutboxEntry) (bool, error)
	// Due returns up to limit entries whose next attempt is at or before now
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	Ack(ctx context.Context, key string) error
	Retry(ctx context.Context, key string, next time.Time, lastErr string) error
	DeadLetter(ctx context.Context, key string, lastErr string) error
	DeadLetters(ctx context.Context) ([]OutboxEntry, error)
}

// ReportWriter renders tabular exports
type ReportWriter interface {
	// WriteRequest renders one request with its tasks and audit trail
	WriteRequest(req *entity.ApprovalRequest, tasks []*entity.ApprovalTask, history []*entity.ApprovalHistory) ([]byte, error)
	// WriteStats renders organization statistics followed by the listed requests
	WriteStats(stats *RequestStats, requests []*entity.ApprovalRequest) ([]byte, error)
}
