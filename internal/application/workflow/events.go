package workflow

import (
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

func submittedEvent(req *entity.ApprovalRequest) *event.Event {
	return event.NewEvent(event.TypeRequestSubmitted, req.ID, map[string]interface{}{
		event.KeyExpenseID:   req.ExpenseID,
		event.KeyOrgID:       req.OrgID,
		event.KeySubmitterID: req.SubmitterID,
		event.KeyAmount:      req.TotalAmount.String(),
		event.KeyCurrency:    req.Currency,
	})
}

func resolvedEvent(req *entity.ApprovalRequest, from entity.RequestStatus, actorID string) *event.Event {
	return event.NewEvent(event.TypeRequestResolved, req.ID, map[string]interface{}{
		event.KeyExpenseID:   req.ExpenseID,
		event.KeyOrgID:       req.OrgID,
		event.KeySubmitterID: req.SubmitterID,
		event.KeyFromStatus:  string(from),
		event.KeyToStatus:    string(req.Status),
		event.KeyActorID:     actorID,
	})
}

func expenseStatusEvent(req *entity.ApprovalRequest) *event.Event {
	return event.NewEvent(event.TypeExpenseStatusChanged, req.ID, map[string]interface{}{
		event.KeyExpenseID: req.ExpenseID,
		event.KeyOrgID:     req.OrgID,
		event.KeyToStatus:  string(req.Status),
	})
}

func taskAssignedEvent(req *entity.ApprovalRequest, task *entity.ApprovalTask) *event.Event {
	payload := map[string]interface{}{
		event.KeyExpenseID:   req.ExpenseID,
		event.KeyOrgID:       req.OrgID,
		event.KeySubmitterID: req.SubmitterID,
		event.KeyTaskID:      task.ID,
		event.KeyApproverID:  task.ApproverID,
		event.KeySequence:    task.Sequence,
		event.KeyAmount:      req.TotalAmount.String(),
		event.KeyCurrency:    req.Currency,
	}
	if task.DueDate != nil {
		payload[event.KeyDueDate] = task.DueDate.Format(time.RFC3339)
	}
	return event.NewEvent(event.TypeTaskAssigned, req.ID, payload)
}

func taskEscalatedEvent(req *entity.ApprovalRequest, expired *entity.ApprovalTask, target string) *event.Event {
	return event.NewEvent(event.TypeTaskEscalated, req.ID, map[string]interface{}{
		event.KeyExpenseID:   req.ExpenseID,
		event.KeyOrgID:       req.OrgID,
		event.KeySubmitterID: req.SubmitterID,
		event.KeyTaskID:      expired.ID,
		event.KeyApproverID:  target,
		event.KeySequence:    expired.Sequence,
	})
}

// emitTerminal queues the notifications of a terminal transition. The
// expense itself only follows approvals and rejections.
func (u *unit) emitTerminal(req *entity.ApprovalRequest, from entity.RequestStatus, actorID string) {
	u.emit(resolvedEvent(req, from, actorID))
	if req.Status == entity.RequestStatusApproved || req.Status == entity.RequestStatusRejected {
		u.emit(expenseStatusEvent(req))
	}
}
