package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const taskColumns = `id, request_id, approver_id, sequence, status, decision, comments,
	is_required, delegated_from, escalated_from, escalation_time_hours,
	due_date, completed_at, completed_by, created_at, updated_at`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new approval task repository
func NewTaskRepository(db *sqldb.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) Create(ctx context.Context, task *entity.ApprovalTask) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO approval_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RequestID, task.ApproverID, task.Sequence,
		string(task.Status), string(task.Decision), task.Comments,
		task.IsRequired, task.DelegatedFrom, task.EscalatedFrom, task.EscalationTimeHours,
		nullTime(task.DueDate), nullTime(task.CompletedAt), task.CompletedBy,
		utc(task.CreatedAt), utc(task.UpdatedAt),
	)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return apperror.Conflict("task", task.ID, string(task.Status),
				fmt.Sprintf("approver %s already has a task at sequence %d", task.ApproverID, task.Sequence))
		}
		r.logger.Error("Failed to create approval task",
			zap.String("request_id", task.RequestID),
			zap.String("approver_id", task.ApproverID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval task: %w", err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	task, err := scanTask(r.db.QueryRow(ctx, "SELECT "+taskColumns+" FROM approval_tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("task", id)
	}
	if err != nil {
		r.logger.Error("Failed to get approval task by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return task, nil
}

func (r *TaskRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalTask, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+taskColumns+" FROM approval_tasks WHERE request_id = ? ORDER BY sequence, created_at, id",
		requestID)
	if err != nil {
		r.logger.Error("Failed to list approval tasks", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval tasks: %w", err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) Update(ctx context.Context, task *entity.ApprovalTask) error {
	result, err := r.db.Exec(ctx, `
		UPDATE approval_tasks SET
			approver_id = ?, status = ?, decision = ?, comments = ?,
			delegated_from = ?, due_date = ?, completed_at = ?, completed_by = ?, updated_at = ?
		WHERE id = ?`,
		task.ApproverID, string(task.Status), string(task.Decision), task.Comments,
		task.DelegatedFrom, nullTime(task.DueDate), nullTime(task.CompletedAt), task.CompletedBy, utc(task.UpdatedAt),
		task.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval task", zap.String("id", task.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("task", task.ID)
	}
	return nil
}

func (r *TaskRepository) ListPendingByApprover(ctx context.Context, approverID string, page port.Page) ([]*entity.ApprovalTask, int, error) {
	page = page.Normalize()
	pending := string(entity.TaskStatusPending)

	var total int
	if err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM approval_tasks WHERE approver_id = ? AND status = ?",
		approverID, pending).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM approval_tasks
		WHERE approver_id = ? AND status = ?
		ORDER BY CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date, created_at, id
		LIMIT ? OFFSET ?`,
		approverID, pending, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *TaskRepository) ListOverdueRequestIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT request_id FROM approval_tasks
		WHERE status = ? AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY request_id`,
		string(entity.TaskStatusPending), utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return collectIDs(rows)
}

func scanTask(row rowScanner) (*entity.ApprovalTask, error) {
	var t entity.ApprovalTask
	var status, decision string
	var dueDate, completedAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.RequestID, &t.ApproverID, &t.Sequence, &status, &decision, &t.Comments,
		&t.IsRequired, &t.DelegatedFrom, &t.EscalatedFrom, &t.EscalationTimeHours,
		&dueDate, &completedAt, &t.CompletedBy, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = entity.TaskStatus(status)
	t.Decision = entity.Decision(decision)
	t.DueDate = timePtr(dueDate)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*entity.ApprovalTask, error) {
	defer rows.Close()
	var tasks []*entity.ApprovalTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

var _ port.TaskRepository = (*TaskRepository)(nil)
