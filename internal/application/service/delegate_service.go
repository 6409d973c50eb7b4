package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/delegation"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/idgen"
)

// DelegateService administers approval delegations
type DelegateService interface {
	Create(ctx context.Context, d *entity.ApprovalDelegate) (*entity.ApprovalDelegate, error)
	Deactivate(ctx context.Context, id string) (*entity.ApprovalDelegate, error)
	Get(ctx context.Context, id string) (*entity.ApprovalDelegate, error)
	ListForUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error)
}

type delegateServiceImpl struct {
	delegateRepo port.DelegateRepository
	logger       Logger
}

// NewDelegateService creates a new DelegateService
func NewDelegateService(delegateRepo port.DelegateRepository, logger Logger) DelegateService {
	return &delegateServiceImpl{
		delegateRepo: delegateRepo,
		logger:       logger,
	}
}

// Create stores an active delegation. It only affects tasks created
// afterwards.
func (s *delegateServiceImpl) Create(ctx context.Context, d *entity.ApprovalDelegate) (*entity.ApprovalDelegate, error) {
	if d == nil {
		return nil, apperror.Validation("delegate is required")
	}
	if problems := delegation.Validate(d); len(problems) > 0 {
		return nil, apperror.Validation("invalid delegate: %s", strings.Join(problems, "; "))
	}

	if d.ID == "" {
		d.ID = idgen.New()
	}
	d.IsActive = true
	d.CreatedAt = time.Now().UTC()

	if err := s.delegateRepo.Create(ctx, d); err != nil {
		s.logger.Error("Failed to create delegate", "error", err, "delegator_id", d.DelegatorID)
		return nil, fmt.Errorf("create delegate: %w", err)
	}

	s.logger.Info("Delegate created",
		"delegate_id", d.ID,
		"delegator", d.DelegatorID,
		"delegate", d.DelegateID)
	return d, nil
}

// Deactivate ends a delegation. Tasks already assigned to the delegate keep
// their approver.
func (s *delegateServiceImpl) Deactivate(ctx context.Context, id string) (*entity.ApprovalDelegate, error) {
	if err := s.delegateRepo.Deactivate(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("Delegate deactivated", "delegate_id", id)
	return s.delegateRepo.GetByID(ctx, id)
}

// Get returns one delegation
func (s *delegateServiceImpl) Get(ctx context.Context, id string) (*entity.ApprovalDelegate, error) {
	return s.delegateRepo.GetByID(ctx, id)
}

// ListForUser returns delegations given or received by the user
func (s *delegateServiceImpl) ListForUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error) {
	if userID == "" {
		return nil, apperror.Validation("user id is required")
	}
	return s.delegateRepo.ListByUser(ctx, userID)
}
