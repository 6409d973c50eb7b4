// Package workflow runs approval requests: it turns a submitted expense into
// sequenced approval tasks, applies decisions, and drives escalation and
// expiry when ticked by an external timer.
package workflow

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ErrNoRuleMatched is returned by Submit when no rule matched the expense
// and the no-match policy is NoMatchReject.
var ErrNoRuleMatched = &apperror.Error{
	Kind:    apperror.ErrValidation,
	Message: "no approval rule matched the expense",
}

// Engine orchestrates approval requests
type Engine interface {
	// Submit matches the expense against the organization's rules and opens
	// an approval request for it
	Submit(ctx context.Context, expense entity.ExpenseSnapshot, orgRules []*entity.ApprovalRule) (*entity.ApprovalRequest, error)

	// Decide records an approver's decision on one task
	Decide(ctx context.Context, taskID string, decision entity.Decision, comments, actingUserID string) (*entity.ApprovalRequest, error)

	// BulkDecide applies the same decision to many tasks. Each task succeeds
	// or fails on its own.
	BulkDecide(ctx context.Context, taskIDs []string, decision entity.Decision, comments, actingUserID string) (*BulkResult, error)

	// Cancel withdraws a pending request. Only the submitter or an
	// administrator may cancel.
	Cancel(ctx context.Context, requestID, actingUserID string) (*entity.ApprovalRequest, error)

	// Tick escalates overdue tasks and expires overdue requests as of now.
	// It returns the ids of the requests it changed.
	Tick(ctx context.Context, now time.Time) ([]string, error)

	GetRequest(ctx context.Context, requestID string) (*entity.ApprovalRequest, error)
	ListRequests(ctx context.Context, filter port.RequestFilter, page port.Page) ([]*entity.ApprovalRequest, int, error)
	ListTasks(ctx context.Context, requestID string) ([]*entity.ApprovalTask, error)
	PendingTasks(ctx context.Context, approverID string, page port.Page) (*port.TaskPage, error)
	Stats(ctx context.Context, orgID string) (*port.RequestStats, error)
	History(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error)
}

// BulkResult enumerates the outcome of every task of a BulkDecide call, in
// input order
type BulkResult struct {
	Success []string      `json:"success"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkFailure describes one task that could not be decided
type BulkFailure struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
}

// NoMatchPolicy decides what Submit does when no rule matches
type NoMatchPolicy string

const (
	NoMatchReject           NoMatchPolicy = "reject"
	NoMatchAutoApprove      NoMatchPolicy = "auto_approve"
	NoMatchDefaultApprovers NoMatchPolicy = "default_approvers"
)

// IsValid reports whether the policy is known
func (p NoMatchPolicy) IsValid() bool {
	switch p {
	case NoMatchReject, NoMatchAutoApprove, NoMatchDefaultApprovers:
		return true
	}
	return false
}

// Logger is the logging surface the engine needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
