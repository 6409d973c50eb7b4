package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const delegateColumns = `id, org_id, delegator_id, delegate_id, is_active,
	start_date, end_date, amount_limit, category_ids, created_at`

// DelegateRepository implements port.DelegateRepository
type DelegateRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDelegateRepository creates a new delegate repository
func NewDelegateRepository(db *sqldb.DB, logger *zap.Logger) *DelegateRepository {
	return &DelegateRepository{db: db, logger: logger}
}

func (r *DelegateRepository) Create(ctx context.Context, d *entity.ApprovalDelegate) error {
	categories := d.CategoryIDs
	if categories == nil {
		categories = []string{}
	}
	categoryJSON, err := marshalJSON(categories)
	if err != nil {
		return fmt.Errorf("failed to encode category ids: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO approval_delegates (`+delegateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrgID, d.DelegatorID, d.DelegateID, d.IsActive,
		nullTime(d.StartDate), nullTime(d.EndDate), decimal.NullDecimal{Decimal: derefDecimal(d.AmountLimit), Valid: d.AmountLimit != nil},
		categoryJSON, utc(d.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create delegate",
			zap.String("delegator_id", d.DelegatorID),
			zap.Error(err))
		return fmt.Errorf("failed to create delegate: %w", err)
	}
	return nil
}

func (r *DelegateRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalDelegate, error) {
	d, err := scanDelegate(r.db.QueryRow(ctx, "SELECT "+delegateColumns+" FROM approval_delegates WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("delegate", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegate: %w", err)
	}
	return d, nil
}

func (r *DelegateRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, "UPDATE approval_delegates SET is_active = ? WHERE id = ?", false, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate delegate: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("delegate", id)
	}
	return nil
}

func (r *DelegateRepository) ListActiveByDelegator(ctx context.Context, delegatorID string) ([]*entity.ApprovalDelegate, error) {
	return r.list(ctx,
		"SELECT "+delegateColumns+" FROM approval_delegates WHERE delegator_id = ? AND is_active = ? ORDER BY created_at DESC, id",
		delegatorID, true)
}

func (r *DelegateRepository) ListByUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error) {
	return r.list(ctx,
		"SELECT "+delegateColumns+" FROM approval_delegates WHERE delegator_id = ? OR delegate_id = ? ORDER BY created_at DESC, id",
		userID, userID)
}

func (r *DelegateRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalDelegate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegates: %w", err)
	}
	defer rows.Close()

	var delegates []*entity.ApprovalDelegate
	for rows.Next() {
		d, err := scanDelegate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegate: %w", err)
		}
		delegates = append(delegates, d)
	}
	return delegates, rows.Err()
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func scanDelegate(row rowScanner) (*entity.ApprovalDelegate, error) {
	var d entity.ApprovalDelegate
	var start, end sql.NullTime
	var limit decimal.NullDecimal
	var categories string

	if err := row.Scan(&d.ID, &d.OrgID, &d.DelegatorID, &d.DelegateID, &d.IsActive,
		&start, &end, &limit, &categories, &d.CreatedAt); err != nil {
		return nil, err
	}

	d.StartDate = timePtr(start)
	d.EndDate = timePtr(end)
	if limit.Valid {
		v := limit.Decimal
		d.AmountLimit = &v
	}
	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &d.CategoryIDs); err != nil {
			return nil, fmt.Errorf("failed to decode category ids of delegate %s: %w", d.ID, err)
		}
	}
	if len(d.CategoryIDs) == 0 {
		d.CategoryIDs = nil
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

var _ port.DelegateRepository = (*DelegateRepository)(nil)
