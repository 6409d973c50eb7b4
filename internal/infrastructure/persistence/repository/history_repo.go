package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqldb.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append stores the entry with the next sequence number of its request.
// Callers append inside the transaction that holds the request, so the
// max+1 read cannot race; the unique (request_id, seq) index backs that up.
func (r *HistoryRepository) Append(ctx context.Context, h *entity.ApprovalHistory) error {
	var seq int64
	if err := r.db.QueryRow(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM approval_history WHERE request_id = ?",
		h.RequestID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read history sequence: %w", err)
	}
	h.Seq = seq + 1

	_, err := r.db.Exec(ctx, `
		INSERT INTO approval_history (
			id, request_id, seq, task_id, actor_id, actor_type, action,
			from_status, to_status, comments, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RequestID, h.Seq, h.TaskID, h.ActorID, string(h.ActorType), string(h.Action),
		string(h.FromStatus), string(h.ToStatus), h.Comments, utc(h.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to append approval history",
			zap.String("request_id", h.RequestID),
			zap.String("action", string(h.Action)),
			zap.Error(err))
		return fmt.Errorf("failed to append approval history: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, seq, task_id, actor_id, actor_type, action,
			from_status, to_status, comments, created_at
		FROM approval_history
		WHERE request_id = ?
		ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalHistory
	for rows.Next() {
		var h entity.ApprovalHistory
		var actorType, action, from, to string
		if err := rows.Scan(&h.ID, &h.RequestID, &h.Seq, &h.TaskID, &h.ActorID, &actorType, &action,
			&from, &to, &h.Comments, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval history: %w", err)
		}
		h.ActorType = entity.ActorType(actorType)
		h.Action = entity.HistoryAction(action)
		h.FromStatus = entity.RequestStatus(from)
		h.ToStatus = entity.RequestStatus(to)
		h.CreatedAt = h.CreatedAt.UTC()
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
