package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ApprovalService is the submission path for expenses: it loads the
// organization's active rules and hands both to the engine
type ApprovalService interface {
	SubmitExpense(ctx context.Context, expense entity.ExpenseSnapshot) (*entity.ApprovalRequest, error)
}

type approvalServiceImpl struct {
	engine   workflow.Engine
	ruleRepo port.RuleRepository
	logger   Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(engine workflow.Engine, ruleRepo port.RuleRepository, logger Logger) ApprovalService {
	return &approvalServiceImpl{
		engine:   engine,
		ruleRepo: ruleRepo,
		logger:   logger,
	}
}

// SubmitExpense opens an approval request for the expense
func (s *approvalServiceImpl) SubmitExpense(ctx context.Context, expense entity.ExpenseSnapshot) (*entity.ApprovalRequest, error) {
	rules, err := s.ruleRepo.ListByOrg(ctx, expense.OrgID, true)
	if err != nil {
		s.logger.Error("Failed to load rules", "error", err, "org_id", expense.OrgID)
		return nil, fmt.Errorf("load rules: %w", err)
	}

	req, err := s.engine.Submit(ctx, expense, rules)
	if err != nil {
		s.logger.Error("Failed to submit expense", "error", err, "expense_id", expense.ID)
		return nil, err
	}
	return req, nil
}
