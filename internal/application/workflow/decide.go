package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Decide implements Engine
func (e *engineImpl) Decide(ctx context.Context, taskID string, decision entity.Decision, comments, actingUserID string) (req *entity.ApprovalRequest, err error) {
	ctx, span := e.span(ctx, "Decide",
		attribute.String("task.id", taskID),
		attribute.String("decision", string(decision)))
	defer func() { endSpan(span, err) }()

	if err := validateDecision(taskID, decision, actingUserID); err != nil {
		return nil, err
	}

	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(requestKey(task.RequestID))
	defer unlock()

	u := newUnit(e.now())
	err = e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = e.decide(ctx, u, taskID, decision, comments, actingUserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, u)
	return req, nil
}

func validateDecision(taskID string, decision entity.Decision, actingUserID string) error {
	switch {
	case taskID == "":
		return apperror.Validation("task id is required")
	case !decision.IsValid():
		return apperror.Validation("decision must be one of APPROVED, REJECTED, RETURNED, got %q", decision)
	case actingUserID == "":
		return apperror.Validation("acting user is required")
	}
	return nil
}

// decide applies one decision inside an open transaction
func (e *engineImpl) decide(ctx context.Context, u *unit, taskID string, decision entity.Decision, comments, actingUserID string) (*entity.ApprovalRequest, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	req, err := e.requests.GetByIDForUpdate(ctx, task.RequestID)
	if err != nil {
		return nil, err
	}
	task, err = e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if req.Status != entity.RequestStatusPending {
		return nil, apperror.InvalidTransition("request", req.ID, string(req.Status), "request is no longer pending")
	}
	if task.Status != entity.TaskStatusPending {
		return nil, apperror.InvalidTransition("task", task.ID, string(task.Status), "task is not pending")
	}
	if task.ApproverID != actingUserID {
		return nil, apperror.InvalidTransition("task", task.ID, string(task.Status),
			fmt.Sprintf("user %s is not the approver of this task", actingUserID))
	}

	completedAt := u.now
	task.Status = entity.TaskStatusCompleted
	task.Decision = decision
	task.Comments = comments
	task.CompletedAt = &completedAt
	task.CompletedBy = actingUserID
	task.UpdatedAt = u.now
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	en := entry{
		action:   decisionAction(decision),
		actorID:  actingUserID,
		taskID:   task.ID,
		comments: comments,
	}

	if task.IsRequired {
		switch decision {
		case entity.DecisionRejected:
			return req, e.resolve(ctx, u, req, domainwf.TriggerReject, entity.TaskStatusSkipped, en)
		case entity.DecisionReturned:
			return req, e.resolve(ctx, u, req, domainwf.TriggerReturn, entity.TaskStatusSkipped, en)
		}
	}

	tasks, err := e.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	release, done := progress(req, tasks)
	if done {
		return req, e.resolve(ctx, u, req, domainwf.TriggerApprove, entity.TaskStatusSkipped, en)
	}

	if err := e.record(ctx, u, req, en, req.Status, req.Status); err != nil {
		return nil, err
	}
	if len(release) > 0 {
		if err := e.release(ctx, u, req, slotsOf(tasks), release); err != nil {
			return nil, err
		}
		e.logger.Info("Sequence released",
			"request_id", req.ID,
			"sequence", req.CurrentSequence)
	}
	if err := e.syncDueDate(ctx, req); err != nil {
		return nil, err
	}
	req.UpdatedAt = u.now
	if err := e.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	return req, nil
}
