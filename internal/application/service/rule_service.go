package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/rules"
	"github.com/garyjia/expense-approval/internal/idgen"
)

// RuleService administers an organization's approval rules
type RuleService interface {
	Create(ctx context.Context, rule *entity.ApprovalRule) (*entity.ApprovalRule, error)
	Update(ctx context.Context, rule *entity.ApprovalRule) (*entity.ApprovalRule, error)
	Deactivate(ctx context.Context, id string) (*entity.ApprovalRule, error)
	Get(ctx context.Context, id string) (*entity.ApprovalRule, error)
	List(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error)
}

type ruleServiceImpl struct {
	ruleRepo port.RuleRepository
	logger   Logger
}

// NewRuleService creates a new RuleService
func NewRuleService(ruleRepo port.RuleRepository, logger Logger) RuleService {
	return &ruleServiceImpl{
		ruleRepo: ruleRepo,
		logger:   logger,
	}
}

// Create validates and stores a new rule
func (s *ruleServiceImpl) Create(ctx context.Context, rule *entity.ApprovalRule) (*entity.ApprovalRule, error) {
	if err := rules.Validate(rule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = idgen.New()
	}
	rule.MatchCount = 0
	rule.LastMatchedAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		s.logger.Error("Failed to create rule", "error", err, "org_id", rule.OrgID)
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.warnSharedPriority(ctx, rule)

	s.logger.Info("Rule created", "rule_id", rule.ID, "org_id", rule.OrgID, "priority", rule.Priority)
	return rule, nil
}

// Update replaces a rule's definition. Match statistics are kept.
func (s *ruleServiceImpl) Update(ctx context.Context, rule *entity.ApprovalRule) (*entity.ApprovalRule, error) {
	existing, err := s.ruleRepo.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if rule.OrgID == "" {
		rule.OrgID = existing.OrgID
	}
	if rule.OrgID != existing.OrgID {
		return nil, apperror.Validation("a rule cannot move between organizations")
	}
	if err := rules.Validate(rule); err != nil {
		return nil, err
	}

	rule.UpdatedAt = time.Now().UTC()
	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		s.logger.Error("Failed to update rule", "error", err, "rule_id", rule.ID)
		return nil, fmt.Errorf("update rule: %w", err)
	}
	s.warnSharedPriority(ctx, rule)

	s.logger.Info("Rule updated", "rule_id", rule.ID)
	return s.ruleRepo.GetByID(ctx, rule.ID)
}

// Deactivate stops a rule from matching new submissions
func (s *ruleServiceImpl) Deactivate(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return rule, nil
	}

	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()
	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		s.logger.Error("Failed to deactivate rule", "error", err, "rule_id", id)
		return nil, fmt.Errorf("deactivate rule: %w", err)
	}

	s.logger.Info("Rule deactivated", "rule_id", id)
	return rule, nil
}

// Get returns one rule
func (s *ruleServiceImpl) Get(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	return s.ruleRepo.GetByID(ctx, id)
}

// List returns the rules of an organization in evaluation order
func (s *ruleServiceImpl) List(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, apperror.Validation("org id is required")
	}
	list, err := s.ruleRepo.ListByOrg(ctx, orgID, activeOnly)
	if err != nil {
		return nil, err
	}
	return rules.Sort(list), nil
}

// warnSharedPriority logs active rules that share the rule's priority.
// Creation order decides between them.
func (s *ruleServiceImpl) warnSharedPriority(ctx context.Context, rule *entity.ApprovalRule) {
	if !rule.IsActive {
		return
	}
	others, err := s.ruleRepo.ListByOrg(ctx, rule.OrgID, true)
	if err != nil {
		s.logger.Error("Failed to check rule priorities", "error", err, "org_id", rule.OrgID)
		return
	}
	var shared []string
	for _, o := range others {
		if o.ID != rule.ID && o.Priority == rule.Priority {
			shared = append(shared, o.ID)
		}
	}
	if len(shared) > 0 {
		s.logger.Info("Rule shares its priority with other active rules; creation order breaks the tie",
			"rule_id", rule.ID,
			"priority", rule.Priority,
			"shared_with", strings.Join(shared, ","))
	}
}
