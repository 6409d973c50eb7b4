package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/idgen"
)

// Submit implements Engine
func (e *engineImpl) Submit(ctx context.Context, expense entity.ExpenseSnapshot, orgRules []*entity.ApprovalRule) (req *entity.ApprovalRequest, err error) {
	ctx, span := e.span(ctx, "Submit",
		attribute.String("expense.id", expense.ID),
		attribute.String("org.id", expense.OrgID))
	defer func() { endSpan(span, err) }()

	if err := validateExpense(expense); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(expenseKey(expense.ID))
	defer unlock()

	rule := matchRule(expense, orgRules)
	plan, err := e.buildPlan(ctx, expense, rule)
	if err != nil {
		return nil, err
	}

	now := e.now()
	req = &entity.ApprovalRequest{
		ID:          idgen.New(),
		OrgID:       expense.OrgID,
		ExpenseID:   expense.ID,
		SubmitterID: expense.SubmitterID,
		Status:      entity.RequestStatusPending,
		Priority:    plan.Priority,
		TotalAmount: expense.Amount,
		Currency:    expense.Currency,
		CategoryID:  expense.CategoryID,
		Plan:        plan,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rule != nil {
		req.RuleID = rule.ID
	}
	if e.requestTTL > 0 {
		due := now.Add(e.requestTTL)
		req.DueDate = &due
	}

	u := newUnit(now)
	err = e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		active, err := e.requests.FindActiveByExpense(ctx, expense.ID)
		if err != nil {
			return fmt.Errorf("failed to check active requests: %w", err)
		}
		if active != nil {
			return apperror.Conflict("expense", expense.ID, string(active.Status),
				fmt.Sprintf("request %s is already pending", active.ID))
		}

		if err := e.requests.Create(ctx, req); err != nil {
			return err
		}
		if rule != nil {
			if err := e.rules.RecordMatch(ctx, rule.ID, now); err != nil {
				return fmt.Errorf("failed to record rule match: %w", err)
			}
		}

		if plan.AutoApprove {
			return e.resolve(ctx, u, req, domainwf.TriggerApprove, entity.TaskStatusSkipped, entry{
				action:   entity.ActionApproved,
				comments: "auto-approved by " + ruleLabel(rule),
			})
		}

		err = e.record(ctx, u, req, entry{
			action:  entity.ActionSubmitted,
			actorID: req.SubmitterID,
		}, "", entity.RequestStatusPending)
		if err != nil {
			return err
		}
		u.emit(submittedEvent(req))
		return e.advance(ctx, u, req, nil)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, u)
	e.logger.Info("Approval request submitted",
		"request_id", req.ID,
		"expense_id", req.ExpenseID,
		"rule_id", req.RuleID,
		"status", req.Status)
	return req, nil
}
