package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const requestColumns = `id, org_id, expense_id, submitter_id, rule_id, status, priority,
	total_amount, currency, category_id, plan, current_sequence,
	due_date, resolved_at, created_at, updated_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqldb.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	plan, err := marshalJSON(req.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.OrgID, req.ExpenseID, req.SubmitterID, req.RuleID,
		string(req.Status), string(req.Priority),
		req.TotalAmount, req.Currency, req.CategoryID, plan, req.CurrentSequence,
		nullTime(req.DueDate), nullTime(req.ResolvedAt), utc(req.CreatedAt), utc(req.UpdatedAt),
	)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return apperror.Conflict("expense", req.ExpenseID, string(entity.RequestStatusPending),
				"an approval request is already pending")
		}
		r.logger.Error("Failed to create approval request",
			zap.String("expense_id", req.ExpenseID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	return r.get(ctx, "SELECT "+requestColumns+" FROM approval_requests WHERE id = ?", id)
}

func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	return r.get(ctx, "SELECT "+requestColumns+" FROM approval_requests WHERE id = ?"+r.db.LockClause(), id)
}

func (r *RequestRepository) get(ctx context.Context, query, id string) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("request", id)
	}
	if err != nil {
		r.logger.Error("Failed to get approval request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return req, nil
}

func (r *RequestRepository) FindActiveByExpense(ctx context.Context, expenseID string) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM approval_requests WHERE expense_id = ? AND status = ?",
		expenseID, string(entity.RequestStatusPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active request: %w", err)
	}
	return req, nil
}

func (r *RequestRepository) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	plan, err := marshalJSON(req.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE approval_requests SET
			status = ?, priority = ?, plan = ?, current_sequence = ?,
			due_date = ?, resolved_at = ?, updated_at = ?
		WHERE id = ?`,
		string(req.Status), string(req.Priority), plan, req.CurrentSequence,
		nullTime(req.DueDate), nullTime(req.ResolvedAt), utc(req.UpdatedAt),
		req.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval request", zap.String("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("request", req.ID)
	}
	return nil
}

func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter, page port.Page) ([]*entity.ApprovalRequest, int, error) {
	page = page.Normalize()

	var where []string
	var args []interface{}
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, filter.SubmitterID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM approval_requests"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count approval requests: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+requestColumns+" FROM approval_requests"+clause+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

func (r *RequestRepository) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM approval_requests
		WHERE status = ? AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY id`,
		string(entity.RequestStatusPending), utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due requests: %w", err)
	}
	return collectIDs(rows)
}

func (r *RequestRepository) Stats(ctx context.Context, orgID string) (*port.RequestStats, error) {
	stats := &port.RequestStats{
		OrgID:      orgID,
		ByStatus:   make(map[entity.RequestStatus]int),
		ByPriority: make(map[entity.Priority]int),
	}

	rows, err := r.db.Query(ctx, `
		SELECT status, priority, COUNT(*) FROM approval_requests
		WHERE org_id = ?
		GROUP BY status, priority`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate requests: %w", err)
	}
	for rows.Next() {
		var status, priority string
		var n int
		if err := rows.Scan(&status, &priority, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[entity.RequestStatus(status)] += n
		stats.ByPriority[entity.Priority(priority)] += n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = r.db.Query(ctx, `
		SELECT created_at, resolved_at FROM approval_requests
		WHERE org_id = ? AND status = ? AND resolved_at IS NOT NULL`,
		orgID, string(entity.RequestStatusApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to load approval durations: %w", err)
	}
	defer rows.Close()

	var sum time.Duration
	var count int
	for rows.Next() {
		var created time.Time
		var resolved sql.NullTime
		if err := rows.Scan(&created, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			sum += resolved.Time.Sub(created)
			count++
		}
	}
	if count > 0 {
		stats.AverageApprovalDuration = sum / time.Duration(count)
	}
	return stats, rows.Err()
}

func scanRequest(row rowScanner) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var status, priority, plan string
	var dueDate, resolvedAt sql.NullTime

	if err := row.Scan(
		&req.ID, &req.OrgID, &req.ExpenseID, &req.SubmitterID, &req.RuleID,
		&status, &priority, &req.TotalAmount, &req.Currency, &req.CategoryID,
		&plan, &req.CurrentSequence, &dueDate, &resolvedAt, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	req.Status = entity.RequestStatus(status)
	req.Priority = entity.Priority(priority)
	req.DueDate = timePtr(dueDate)
	req.ResolvedAt = timePtr(resolvedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	if plan != "" {
		if err := json.Unmarshal([]byte(plan), &req.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan of request %s: %w", req.ID, err)
		}
	}
	return &req, nil
}

var _ port.RequestRepository = (*RequestRepository)(nil)
