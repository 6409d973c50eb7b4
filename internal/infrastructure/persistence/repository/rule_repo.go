package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const ruleColumns = `id, org_id, name, description, priority, is_active, conditions, actions,
	match_count, last_matched_at, created_at, updated_at`

// RuleRepository implements port.RuleRepository
type RuleRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sqldb.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

func (r *RuleRepository) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO approval_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.OrgID, rule.Name, rule.Description, rule.Priority, rule.IsActive,
		conditions, actions, rule.MatchCount, nullTime(rule.LastMatchedAt),
		utc(rule.CreatedAt), utc(rule.UpdatedAt),
	)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return apperror.Conflict("rule", rule.ID, "", "rule already exists")
		}
		r.logger.Error("Failed to create approval rule", zap.String("name", rule.Name), zap.Error(err))
		return fmt.Errorf("failed to create approval rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *entity.ApprovalRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE approval_rules SET
			name = ?, description = ?, priority = ?, is_active = ?,
			conditions = ?, actions = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.Description, rule.Priority, rule.IsActive,
		conditions, actions, utc(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("rule", rule.ID)
	}
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, "SELECT "+ruleColumns+" FROM approval_rules WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval rule: %w", err)
	}
	return rule, nil
}

// ListByOrg returns rules in evaluation order
func (r *RuleRepository) ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error) {
	query := "SELECT " + ruleColumns + " FROM approval_rules WHERE org_id = ?"
	args := []interface{}{orgID}
	if activeOnly {
		query += " AND is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY priority, created_at, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) RecordMatch(ctx context.Context, ruleID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE approval_rules SET match_count = match_count + 1, last_matched_at = ? WHERE id = ?",
		utc(at), ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule match: %w", err)
	}
	return nil
}

func encodeRule(rule *entity.ApprovalRule) (string, string, error) {
	conditions, err := rule.ConditionsJSON()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := rule.ActionsJSON()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode actions: %w", err)
	}
	return conditions, actions, nil
}

func scanRule(row rowScanner) (*entity.ApprovalRule, error) {
	var rule entity.ApprovalRule
	var conditions, actions string
	var lastMatched sql.NullTime

	if err := row.Scan(
		&rule.ID, &rule.OrgID, &rule.Name, &rule.Description, &rule.Priority, &rule.IsActive,
		&conditions, &actions, &rule.MatchCount, &lastMatched, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of rule %s: %w", rule.ID, err)
	}
	rule.LastMatchedAt = timePtr(lastMatched)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

var _ port.RuleRepository = (*RuleRepository)(nil)
