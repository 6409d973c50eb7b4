package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDB(t *testing.T) *sqldb.DB {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	conn, err := database.Open(ctx, database.Config{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "approval.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = database.NewMigrator(conn, logger).Run(ctx)
	require.NoError(t, err)

	return sqldb.New(conn, logger)
}

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newRequest(id, expenseID string) *entity.ApprovalRequest {
	due := baseTime.Add(72 * time.Hour)
	return &entity.ApprovalRequest{
		ID:          id,
		OrgID:       "org-1",
		ExpenseID:   expenseID,
		SubmitterID: "emp-1",
		RuleID:      "rule-1",
		Status:      entity.RequestStatusPending,
		Priority:    entity.PriorityHigh,
		TotalAmount: decimal.RequireFromString("6000.50"),
		Currency:    "USD",
		CategoryID:  "travel",
		Plan: entity.Plan{
			Priority: entity.PriorityHigh,
			Groups: []entity.PlanGroup{
				{Sequence: 1, Approvers: []string{"mgr-1"}, Required: true, EscalationTimeHours: 24},
				{Sequence: 2, Approvers: []string{"admin-1"}, Required: true},
			},
		},
		CurrentSequence: 1,
		DueDate:         &due,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

func newTask(id, requestID, approver string, seq int, due *time.Time) *entity.ApprovalTask {
	return &entity.ApprovalTask{
		ID:         id,
		RequestID:  requestID,
		ApproverID: approver,
		Sequence:   seq,
		Status:     entity.TaskStatusPending,
		IsRequired: true,
		DueDate:    due,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

func TestRequestRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewRequestRepository(db, zap.NewNop())
	ctx := context.Background()

	req := newRequest("req-1", "exp-1")
	require.NoError(t, repo.Create(ctx, req))

	t.Run("round trips plan and amount", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "req-1")
		require.NoError(t, err)
		assert.True(t, req.TotalAmount.Equal(got.TotalAmount))
		assert.Equal(t, req.Plan, got.Plan)
		require.NotNil(t, got.DueDate)
		assert.True(t, req.DueDate.Equal(*got.DueDate))
		assert.Nil(t, got.ResolvedAt)
	})

	t.Run("second pending request for the expense conflicts", func(t *testing.T) {
		err := repo.Create(ctx, newRequest("req-2", "exp-1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrConflict))
	})

	t.Run("missing request is NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
	})

	t.Run("find active and list due", func(t *testing.T) {
		active, err := repo.FindActiveByExpense(ctx, "exp-1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "req-1", active.ID)

		due, err := repo.ListDue(ctx, baseTime.Add(71*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = repo.ListDue(ctx, baseTime.Add(72*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"req-1"}, due)
	})

	t.Run("resolved request frees the expense", func(t *testing.T) {
		resolved := baseTime.Add(2 * time.Hour)
		req.Status = entity.RequestStatusApproved
		req.ResolvedAt = &resolved
		req.UpdatedAt = resolved
		require.NoError(t, repo.Update(ctx, req))

		active, err := repo.FindActiveByExpense(ctx, "exp-1")
		require.NoError(t, err)
		assert.Nil(t, active)

		require.NoError(t, repo.Create(ctx, newRequest("req-3", "exp-1")))
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Total)
		assert.Equal(t, 1, stats.ByStatus[entity.RequestStatusApproved])
		assert.Equal(t, 1, stats.ByStatus[entity.RequestStatusPending])
		assert.Equal(t, 2, stats.ByPriority[entity.PriorityHigh])
		assert.Equal(t, 2*time.Hour, stats.AverageApprovalDuration)
	})

	t.Run("list with filter", func(t *testing.T) {
		items, total, err := repo.List(ctx, port.RequestFilter{OrgID: "org-1", Status: entity.RequestStatusPending}, port.Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, "req-3", items[0].ID)
	})
}

func TestTaskRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, NewRequestRepository(db, zap.NewNop()).Create(ctx, newRequest("req-1", "exp-1")))
	repo := NewTaskRepository(db, zap.NewNop())

	early := baseTime.Add(time.Hour)
	late := baseTime.Add(48 * time.Hour)
	require.NoError(t, repo.Create(ctx, newTask("t-late", "req-1", "mgr-1", 1, &late)))
	require.NoError(t, repo.Create(ctx, newTask("t-none", "req-1", "mgr-1", 2, nil)))
	require.NoError(t, repo.Create(ctx, newTask("t-early", "req-1", "mgr-1", 3, &early)))

	t.Run("duplicate slot conflicts", func(t *testing.T) {
		err := repo.Create(ctx, newTask("t-dup", "req-1", "mgr-1", 1, nil))
		assert.True(t, errors.Is(err, apperror.ErrConflict))
	})

	t.Run("pending ordered by due date with nulls last", func(t *testing.T) {
		page, total, err := repo.ListPendingByApprover(ctx, "mgr-1", port.Page{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "t-early", page[0].ID)
		assert.Equal(t, "t-late", page[1].ID)

		rest, _, err := repo.ListPendingByApprover(ctx, "mgr-1", port.Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "t-none", rest[0].ID)
	})

	t.Run("overdue request ids", func(t *testing.T) {
		ids, err := repo.ListOverdueRequestIDs(ctx, early)
		require.NoError(t, err)
		assert.Equal(t, []string{"req-1"}, ids)

		ids, err = repo.ListOverdueRequestIDs(ctx, baseTime)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("update completes task", func(t *testing.T) {
		task, err := repo.GetByID(ctx, "t-early")
		require.NoError(t, err)
		done := baseTime.Add(30 * time.Minute)
		task.Status = entity.TaskStatusCompleted
		task.Decision = entity.DecisionApproved
		task.CompletedAt = &done
		task.CompletedBy = "mgr-1"
		require.NoError(t, repo.Update(ctx, task))

		got, err := repo.GetByID(ctx, "t-early")
		require.NoError(t, err)
		assert.Equal(t, entity.TaskStatusCompleted, got.Status)
		assert.Equal(t, entity.DecisionApproved, got.Decision)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))

		tasks, err := repo.ListByRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
	})
}

func TestHistoryRepository_AssignsSequence(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, NewRequestRepository(db, zap.NewNop()).Create(ctx, newRequest("req-1", "exp-1")))
	repo := NewHistoryRepository(db, zap.NewNop())

	actions := []entity.HistoryAction{entity.ActionSubmitted, entity.ActionApproved, entity.ActionApproved}
	for i, action := range actions {
		h := &entity.ApprovalHistory{
			ID: "h-" + string(rune('a'+i)), RequestID: "req-1", ActorID: "mgr-1",
			ActorType: entity.ActorUser, Action: action,
			FromStatus: entity.RequestStatusPending, ToStatus: entity.RequestStatusPending,
			CreatedAt: baseTime,
		}
		require.NoError(t, repo.Append(ctx, h))
		assert.Equal(t, int64(i+1), h.Seq)
	}

	entries, err := repo.ListByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entity.ActionSubmitted, entries[0].Action)
	assert.Equal(t, int64(3), entries[2].Seq)
}

func TestRuleRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRuleRepository(db, zap.NewNop())

	rule := &entity.ApprovalRule{
		ID: "rule-1", OrgID: "org-1", Name: "Large travel", Priority: 10, IsActive: true,
		Conditions: []entity.Condition{
			{Field: entity.FieldAmount, Operator: entity.OpGT, Value: entity.NumberValue{Value: decimal.NewFromInt(5000)}},
			{Field: entity.FieldCategory, Operator: entity.OpIn, Value: entity.TextSetValue{Values: []string{"travel"}}},
		},
		Actions: []entity.Action{
			{Type: entity.ActionTypeRequireApproval, ApproverRoles: []string{"MANAGER"}, EscalationTimeHours: 24},
		},
		CreatedAt: baseTime, UpdatedAt: baseTime,
	}
	inactive := &entity.ApprovalRule{
		ID: "rule-0", OrgID: "org-1", Name: "Disabled", Priority: 1,
		Actions:   []entity.Action{{Type: entity.ActionTypeAutoApprove}},
		CreatedAt: baseTime, UpdatedAt: baseTime,
	}
	require.NoError(t, repo.Create(ctx, rule))
	require.NoError(t, repo.Create(ctx, inactive))

	got, err := repo.GetByID(ctx, "rule-1")
	require.NoError(t, err)
	require.Len(t, got.Conditions, 2)
	num, ok := got.Conditions[0].Value.(entity.NumberValue)
	require.True(t, ok)
	assert.True(t, num.Value.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, []string{"MANAGER"}, got.Actions[0].ApproverRoles)

	active, err := repo.ListByOrg(ctx, "org-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)

	all, err := repo.ListByOrg(ctx, "org-1", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "rule-0", all[0].ID, "lower priority value first")

	require.NoError(t, repo.RecordMatch(ctx, "rule-1", baseTime.Add(time.Minute)))
	got, err = repo.GetByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MatchCount)
	assert.NotNil(t, got.LastMatchedAt)
}

func TestDelegateAndUserRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	delegates := NewDelegateRepository(db, zap.NewNop())
	users := NewUserRepository(db, zap.NewNop())

	limit := decimal.NewFromInt(10000)
	end := baseTime.Add(7 * 24 * time.Hour)
	require.NoError(t, delegates.Create(ctx, &entity.ApprovalDelegate{
		ID: "d-1", OrgID: "org-1", DelegatorID: "mgr-1", DelegateID: "deputy-1", IsActive: true,
		StartDate: &baseTime, EndDate: &end, AmountLimit: &limit, CategoryIDs: []string{"travel"},
		CreatedAt: baseTime,
	}))
	require.NoError(t, delegates.Create(ctx, &entity.ApprovalDelegate{
		ID: "d-2", OrgID: "org-1", DelegatorID: "mgr-1", DelegateID: "deputy-2", IsActive: true,
		CreatedAt: baseTime.Add(time.Hour),
	}))

	list, err := delegates.ListActiveByDelegator(ctx, "mgr-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d-2", list[0].ID)
	assert.Nil(t, list[0].AmountLimit)
	require.NotNil(t, list[1].AmountLimit)
	assert.True(t, limit.Equal(*list[1].AmountLimit))
	assert.Equal(t, []string{"travel"}, list[1].CategoryIDs)

	require.NoError(t, delegates.Deactivate(ctx, "d-2"))
	list, err = delegates.ListActiveByDelegator(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	byUser, err := delegates.ListByUser(ctx, "deputy-2")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	require.NoError(t, users.Upsert(ctx, &entity.OrgUser{ID: "mgr-1", OrgID: "org-1", Role: "MANAGER", ManagerID: "dir-1"}))
	require.NoError(t, users.Upsert(ctx, &entity.OrgUser{ID: "mgr-2", OrgID: "org-1", Role: "MANAGER"}))
	require.NoError(t, users.Upsert(ctx, &entity.OrgUser{ID: "mgr-2", OrgID: "org-1", Role: "ADMIN"}))

	managers, err := users.UsersWithRole(ctx, "org-1", "MANAGER")
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1"}, managers)

	boss, err := users.ManagerOf(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, "dir-1", boss)

	boss, err = users.ManagerOf(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, boss)

	role, err := users.RoleOf(ctx, "org-1", "mgr-2")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", role)

	role, err = users.RoleOf(ctx, "org-2", "mgr-2")
	require.NoError(t, err)
	assert.Empty(t, role)
}

func TestTransaction_RollsBackAcrossRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	requests := NewRequestRepository(db, zap.NewNop())
	tasks := NewTaskRepository(db, zap.NewNop())

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		if err := requests.Create(ctx, newRequest("req-1", "exp-1")); err != nil {
			return err
		}
		if err := tasks.Create(ctx, newTask("t-1", "req-1", "mgr-1", 1, nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = requests.GetByID(ctx, "req-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	_, err = tasks.GetByID(ctx, "t-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = db.WithTransaction(ctx, func(ctx context.Context) error {
		return db.WithTransaction(ctx, func(inner context.Context) error {
			assert.Same(t, sqldb.TxFromContext(ctx), sqldb.TxFromContext(inner))
			return requests.Create(inner, newRequest("req-1", "exp-1"))
		})
	})
	require.NoError(t, err)
	_, err = requests.GetByID(ctx, "req-1")
	assert.NoError(t, err)
}
