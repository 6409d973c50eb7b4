package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Page selects a window of a listing. Limit <= 0 means the default page size.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageSize applies when a Page has no limit
const DefaultPageSize = 50

// Normalize returns the page with defaults applied
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TaskPage is one page of tasks plus the total count of the listing
type TaskPage struct {
	Items []*entity.ApprovalTask `json:"items"`
	Total int                    `json:"total"`
}

// RequestStats aggregates requests of one organization
type RequestStats struct {
	OrgID      string                       `json:"org_id"`
	Total      int                          `json:"total"`
	ByStatus   map[entity.RequestStatus]int `json:"by_status"`
	ByPriority map[entity.Priority]int      `json:"by_priority"`
	// AverageApprovalDuration is measured over APPROVED requests from creation to resolution
	AverageApprovalDuration time.Duration `json:"average_approval_duration"`
}

// RequestFilter narrows request listings
type RequestFilter struct {
	OrgID       string
	Status      entity.RequestStatus
	SubmitterID string
}

// RequestRepository persists approval requests
type RequestRepository interface {
	// Create fails with a Conflict error when another PENDING request exists for the expense
	Create(ctx context.Context, req *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	// GetByIDForUpdate loads the request and, where the store supports it, locks the row
	GetByIDForUpdate(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	// FindActiveByExpense returns the PENDING request of the expense, or nil
	FindActiveByExpense(ctx context.Context, expenseID string) (*entity.ApprovalRequest, error)
	Update(ctx context.Context, req *entity.ApprovalRequest) error
	List(ctx context.Context, filter RequestFilter, page Page) ([]*entity.ApprovalRequest, int, error)
	// ListDue returns ids of PENDING requests whose due date is at or before now
	ListDue(ctx context.Context, now time.Time) ([]string, error)
	Stats(ctx context.Context, orgID string) (*RequestStats, error)
}

// TaskRepository persists approval tasks
type TaskRepository interface {
	// Create fails with a Conflict error on a duplicate (request, approver, sequence)
	Create(ctx context.Context, task *entity.ApprovalTask) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error)
	ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalTask, error)
	Update(ctx context.Context, task *entity.ApprovalTask) error
	// ListPendingByApprover orders by due date (nulls last), then creation time
	ListPendingByApprover(ctx context.Context, approverID string, page Page) ([]*entity.ApprovalTask, int, error)
	// ListOverdueRequestIDs returns ids of requests owning a PENDING task due at or before now
	ListOverdueRequestIDs(ctx context.Context, now time.Time) ([]string, error)
}

// HistoryRepository is the append-only audit trail
type HistoryRepository interface {
	// Append assigns the next per-request Seq
	Append(ctx context.Context, h *entity.ApprovalHistory) error
	ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error)
}

// RuleRepository persists approval rules
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.ApprovalRule) error
	Update(ctx context.Context, rule *entity.ApprovalRule) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalRule, error)
	ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error)
	RecordMatch(ctx context.Context, ruleID string, at time.Time) error
}

// DelegateRepository persists delegations
type DelegateRepository interface {
	Create(ctx context.Context, d *entity.ApprovalDelegate) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalDelegate, error)
	Deactivate(ctx context.Context, id string) error
	// ListActiveByDelegator returns active delegations without applying the date window
	ListActiveByDelegator(ctx context.Context, delegatorID string) ([]*entity.ApprovalDelegate, error)
	// ListByUser returns delegations where the user is delegator or delegate
	ListByUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error)
}

// UserDirectory resolves roles and reporting lines
type UserDirectory interface {
	UsersWithRole(ctx context.Context, orgID, role string) ([]string, error)
	// ManagerOf returns "" when the user has no manager
	ManagerOf(ctx context.Context, userID string) (string, error)
	// RoleOf returns "" for unknown users and for users outside orgID
	RoleOf(ctx context.Context, orgID, userID string) (string, error)
}

// UserRepository is the writable directory
type UserRepository interface {
	UserDirectory
	Upsert(ctx context.Context, u *entity.OrgUser) error
	GetByID(ctx context.Context, id string) (*entity.OrgUser, error)
	ListByOrg(ctx context.Context, orgID string) ([]*entity.OrgUser, error)
}

// TransactionManager runs fn in a transaction carried by the context.
// Nested calls join the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
