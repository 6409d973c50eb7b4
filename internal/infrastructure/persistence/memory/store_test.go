package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_TransactionRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Requests().Create(ctx, &entity.ApprovalRequest{
			ID: "req-1", ExpenseID: "exp-1", Status: entity.RequestStatusPending,
		}))
		require.NoError(t, s.History().Append(ctx, &entity.ApprovalHistory{ID: "h-1", RequestID: "req-1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Requests().GetByID(ctx, "req-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	entries, err := s.History().ListByRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_NestedTransactionJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.WithTransaction(ctx, func(ctx context.Context) error {
			return s.Requests().Create(ctx, &entity.ApprovalRequest{ID: "req-1", ExpenseID: "exp-1"})
		})
	})
	require.NoError(t, err)

	_, err = s.Requests().GetByID(ctx, "req-1")
	assert.NoError(t, err)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	due := time.Now()

	require.NoError(t, s.Tasks().Create(ctx, &entity.ApprovalTask{ID: "t-1", RequestID: "r", ApproverID: "a", Sequence: 1, DueDate: &due}))

	got, err := s.Tasks().GetByID(ctx, "t-1")
	require.NoError(t, err)
	got.Status = entity.TaskStatusCompleted
	*got.DueDate = due.Add(time.Hour)

	again, err := s.Tasks().GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatus(""), again.Status)
	assert.True(t, again.DueDate.Equal(due))
}

func TestStore_UniqueConstraints(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Requests().Create(ctx, &entity.ApprovalRequest{ID: "r1", ExpenseID: "e", Status: entity.RequestStatusPending}))
	err := s.Requests().Create(ctx, &entity.ApprovalRequest{ID: "r2", ExpenseID: "e", Status: entity.RequestStatusPending})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	require.NoError(t, s.Tasks().Create(ctx, &entity.ApprovalTask{ID: "t1", RequestID: "r1", ApproverID: "a", Sequence: 1}))
	err = s.Tasks().Create(ctx, &entity.ApprovalTask{ID: "t2", RequestID: "r1", ApproverID: "a", Sequence: 1})
	assert.True(t, errors.Is(err, apperror.ErrConflict))
}
