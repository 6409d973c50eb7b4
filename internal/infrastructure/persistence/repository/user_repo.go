package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// UserRepository implements port.UserRepository over org_users
type UserRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user directory repository
func NewUserRepository(db *sqldb.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

func (r *UserRepository) Upsert(ctx context.Context, u *entity.OrgUser) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO org_users (id, org_id, name, role, manager_id, lark_open_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			org_id = excluded.org_id, name = excluded.name, role = excluded.role,
			manager_id = excluded.manager_id, lark_open_id = excluded.lark_open_id`,
		u.ID, u.OrgID, u.Name, u.Role, u.ManagerID, u.LarkOpenID)
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.OrgUser, error) {
	var u entity.OrgUser
	err := r.db.QueryRow(ctx,
		"SELECT id, org_id, name, role, manager_id, lark_open_id FROM org_users WHERE id = ?", id,
	).Scan(&u.ID, &u.OrgID, &u.Name, &u.Role, &u.ManagerID, &u.LarkOpenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) ListByOrg(ctx context.Context, orgID string) ([]*entity.OrgUser, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, org_id, name, role, manager_id, lark_open_id FROM org_users WHERE org_id = ? ORDER BY id", orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.OrgUser
	for rows.Next() {
		var u entity.OrgUser
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Name, &u.Role, &u.ManagerID, &u.LarkOpenID); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *UserRepository) UsersWithRole(ctx context.Context, orgID, role string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id FROM org_users WHERE org_id = ? AND role = ? ORDER BY id", orgID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %s: %w", role, err)
	}
	return collectIDs(rows)
}

func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (string, error) {
	var manager string
	err := r.db.QueryRow(ctx, "SELECT manager_id FROM org_users WHERE id = ?", userID).Scan(&manager)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve manager of %s: %w", userID, err)
	}
	return manager, nil
}

func (r *UserRepository) RoleOf(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := r.db.QueryRow(ctx, "SELECT role FROM org_users WHERE id = ? AND org_id = ?", userID, orgID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve role of %s: %w", userID, err)
	}
	return role, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
