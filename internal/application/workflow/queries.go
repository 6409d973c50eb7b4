package workflow

import (
	"context"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// GetRequest implements Engine
func (e *engineImpl) GetRequest(ctx context.Context, requestID string) (*entity.ApprovalRequest, error) {
	return e.requests.GetByID(ctx, requestID)
}

// ListRequests implements Engine
func (e *engineImpl) ListRequests(ctx context.Context, filter port.RequestFilter, page port.Page) ([]*entity.ApprovalRequest, int, error) {
	return e.requests.List(ctx, filter, page.Normalize())
}

// ListTasks implements Engine
func (e *engineImpl) ListTasks(ctx context.Context, requestID string) ([]*entity.ApprovalTask, error) {
	if _, err := e.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return e.tasks.ListByRequest(ctx, requestID)
}

// PendingTasks implements Engine
func (e *engineImpl) PendingTasks(ctx context.Context, approverID string, page port.Page) (*port.TaskPage, error) {
	if approverID == "" {
		return nil, apperror.Validation("approver id is required")
	}
	items, total, err := e.tasks.ListPendingByApprover(ctx, approverID, page.Normalize())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*entity.ApprovalTask{}
	}
	return &port.TaskPage{Items: items, Total: total}, nil
}

// Stats implements Engine
func (e *engineImpl) Stats(ctx context.Context, orgID string) (*port.RequestStats, error) {
	if orgID == "" {
		return nil, apperror.Validation("org id is required")
	}
	return e.requests.Stats(ctx, orgID)
}

// History implements Engine
func (e *engineImpl) History(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error) {
	if _, err := e.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return e.history.ListByRequest(ctx, requestID)
}
