package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	engine Engine
	now    time.Time
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	for _, u := range []*entity.OrgUser{
		{ID: "emp-1", OrgID: "org-1", Role: "EMPLOYEE", ManagerID: "mgr-1"},
		{ID: "mgr-1", OrgID: "org-1", Role: "MANAGER", ManagerID: "dir-1"},
		{ID: "dir-1", OrgID: "org-1", Role: "DIRECTOR"},
		{ID: "adm-1", OrgID: "org-1", Role: "ADMIN"},
		{ID: "ann", OrgID: "org-1", Role: "REVIEWER"},
		{ID: "bob", OrgID: "org-1", Role: "REVIEWER"},
	} {
		require.NoError(t, store.Users().Upsert(ctx, u))
	}

	f := &fixture{store: store, now: t0}
	opts = append([]EngineOption{WithClock(func() time.Time { return f.now })}, opts...)
	f.engine = NewEngine(store.Requests(), store.Tasks(), store.History(), store.Rules(),
		store.Delegates(), store.Users(), store, opts...)
	return f
}

func amountOver(v string) entity.Condition {
	return entity.Condition{
		Field:    entity.FieldAmount,
		Operator: entity.OpGT,
		Value:    entity.NumberValue{Value: decimal.RequireFromString(v)},
	}
}

func requireRoles(seq, hours int, roles ...string) entity.Action {
	return entity.Action{
		Type:                entity.ActionTypeRequireApproval,
		ApproverRoles:       roles,
		Sequence:            seq,
		EscalationTimeHours: hours,
	}
}

func requireUsers(seq int, users ...string) entity.Action {
	return entity.Action{
		Type:          entity.ActionTypeRequireApproval,
		ApproverUsers: users,
		Sequence:      seq,
	}
}

func newRule(id string, conditions []entity.Condition, actions ...entity.Action) *entity.ApprovalRule {
	return &entity.ApprovalRule{
		ID:         id,
		OrgID:      "org-1",
		Name:       id,
		Priority:   10,
		IsActive:   true,
		Conditions: conditions,
		Actions:    actions,
		CreatedAt:  t0.Add(-time.Hour),
	}
}

func newExpense(id, amount string) entity.ExpenseSnapshot {
	return entity.ExpenseSnapshot{
		ID:            id,
		OrgID:         "org-1",
		SubmitterID:   "emp-1",
		SubmitterRole: "EMPLOYEE",
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		CategoryID:    "travel",
		Vendor:        "Acme Airlines",
		Date:          t0,
	}
}

func (f *fixture) tasks(t *testing.T, requestID string) []*entity.ApprovalTask {
	t.Helper()
	tasks, err := f.engine.ListTasks(context.Background(), requestID)
	require.NoError(t, err)
	return tasks
}

func (f *fixture) taskOf(t *testing.T, requestID, approverID string) *entity.ApprovalTask {
	t.Helper()
	for _, task := range f.tasks(t, requestID) {
		if task.ApproverID == approverID && task.Status == entity.TaskStatusPending {
			return task
		}
	}
	t.Fatalf("no pending task for %s on request %s", approverID, requestID)
	return nil
}

func (f *fixture) history(t *testing.T, requestID string) []*entity.ApprovalHistory {
	t.Helper()
	entries, err := f.engine.History(context.Background(), requestID)
	require.NoError(t, err)
	return entries
}

func actions(entries []*entity.ApprovalHistory) []entity.HistoryAction {
	out := make([]entity.HistoryAction, len(entries))
	for i, h := range entries {
		out[i] = h.Action
	}
	return out
}

func TestSubmit_AmountOverThresholdCreatesManagerTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := newRule("manager-over-5000", []entity.Condition{amountOver("5000")}, requireRoles(0, 24, "MANAGER"))
	require.NoError(t, f.store.Rules().Create(ctx, rule))

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "6000"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)

	assert.Equal(t, entity.RequestStatusPending, req.Status)
	assert.Equal(t, "manager-over-5000", req.RuleID)
	assert.Equal(t, entity.PriorityNormal, req.Priority)
	assert.Equal(t, 1, req.CurrentSequence)
	assert.True(t, req.TotalAmount.Equal(decimal.NewFromInt(6000)))

	tasks := f.tasks(t, req.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "mgr-1", tasks[0].ApproverID)
	assert.Equal(t, 1, tasks[0].Sequence)
	assert.True(t, tasks[0].IsRequired)
	require.NotNil(t, tasks[0].DueDate)
	assert.True(t, tasks[0].DueDate.Equal(t0.Add(24*time.Hour)))
	require.NotNil(t, req.DueDate)
	assert.True(t, req.DueDate.Equal(t0.Add(24*time.Hour)))

	history := f.history(t, req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, entity.ActionSubmitted, history[0].Action)
	assert.Equal(t, entity.RequestStatusPending, history[0].ToStatus)
	assert.Equal(t, "emp-1", history[0].ActorID)
	assert.Equal(t, entity.ActorUser, history[0].ActorType)

	stored, err := f.store.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.MatchCount)
	require.NotNil(t, stored.LastMatchedAt)
}

func TestSubmit_NoRuleMatchedRejectsByDefault(t *testing.T) {
	f := newFixture(t)
	rule := newRule("manager-over-5000", []entity.Condition{amountOver("5000")}, requireRoles(0, 24, "MANAGER"))

	_, err := f.engine.Submit(context.Background(), newExpense("exp-1", "3000"), []*entity.ApprovalRule{rule})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRuleMatched))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	stats, err := f.engine.Stats(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestSubmit_NoMatchPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("auto approve", func(t *testing.T) {
		f := newFixture(t, WithNoMatchPolicy(NoMatchAutoApprove, nil, 0))
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "3000"), nil)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)
		assert.Empty(t, f.tasks(t, req.ID))
	})

	t.Run("default approvers", func(t *testing.T) {
		f := newFixture(t, WithNoMatchPolicy(NoMatchDefaultApprovers, []string{"ADMIN"}, 8))
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "3000"), nil)
		require.NoError(t, err)
		assert.Empty(t, req.RuleID)

		tasks := f.tasks(t, req.ID)
		require.Len(t, tasks, 1)
		assert.Equal(t, "adm-1", tasks[0].ApproverID)
		require.NotNil(t, tasks[0].DueDate)
		assert.True(t, tasks[0].DueDate.Equal(t0.Add(8*time.Hour)))
	})
}

func TestSubmit_AutoApproveRuleWritesSingleSystemEntry(t *testing.T) {
	f := newFixture(t)
	rule := newRule("small-spend", nil, entity.Action{Type: entity.ActionTypeAutoApprove})

	req, err := f.engine.Submit(context.Background(), newExpense("exp-1", "20"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)

	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	require.NotNil(t, req.ResolvedAt)
	assert.Empty(t, f.tasks(t, req.ID))

	history := f.history(t, req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, entity.ActionApproved, history[0].Action)
	assert.Equal(t, entity.ActorSystem, history[0].ActorType)
	assert.Empty(t, history[0].ActorID)
	assert.Equal(t, entity.RequestStatusPending, history[0].FromStatus)
	assert.Equal(t, entity.RequestStatusApproved, history[0].ToStatus)
}

func TestSubmit_PriorityFromMatchedAction(t *testing.T) {
	f := newFixture(t)
	action := requireRoles(0, 0, "MANAGER")
	action.Priority = entity.PriorityUrgent
	rule := newRule("urgent", nil, action)

	req, err := f.engine.Submit(context.Background(), newExpense("exp-1", "10"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)
	assert.Equal(t, entity.PriorityUrgent, req.Priority)
	assert.Nil(t, req.DueDate)
}

func TestSubmit_DuplicateActiveRequestConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	first, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, "PENDING", apperror.StatusOf(err))

	_, err = f.engine.Cancel(ctx, first.ID, "emp-1")
	require.NoError(t, err)

	second, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := newExpense("", "100")
	_, err := f.engine.Submit(ctx, bad, nil)
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	nobody := newRule("auditors", nil, requireRoles(0, 0, "AUDITOR"))
	_, err = f.engine.Submit(ctx, newExpense("exp-1", "100"), []*entity.ApprovalRule{nobody})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Contains(t, err.Error(), "no approvers")
}

func TestSubmit_IgnoresRulesOfOtherOrganizations(t *testing.T) {
	f := newFixture(t)
	foreign := newRule("foreign", nil, entity.Action{Type: entity.ActionTypeAutoApprove})
	foreign.OrgID = "org-2"

	_, err := f.engine.Submit(context.Background(), newExpense("exp-1", "100"), []*entity.ApprovalRule{foreign})
	assert.True(t, errors.Is(err, ErrNoRuleMatched))
}

func TestDecide_TwoSequencePlanReleasesNextSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := newRule("two-step", nil, requireRoles(1, 24, "MANAGER"), requireRoles(2, 48, "ADMIN"))

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "9000"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)
	require.Len(t, f.tasks(t, req.ID), 1, "second sequence stays dormant")

	f.now = t0.Add(2 * time.Hour)
	req, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "mgr-1").ID, entity.DecisionApproved, "ok", "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusPending, req.Status)
	assert.Equal(t, 2, req.CurrentSequence)

	admin := f.taskOf(t, req.ID, "adm-1")
	assert.Equal(t, 2, admin.Sequence)
	require.NotNil(t, admin.DueDate)
	assert.True(t, admin.DueDate.Equal(f.now.Add(48*time.Hour)))
	require.NotNil(t, req.DueDate)
	assert.True(t, req.DueDate.Equal(*admin.DueDate))

	f.now = t0.Add(3 * time.Hour)
	req, err = f.engine.Decide(ctx, admin.ID, entity.DecisionApproved, "", "adm-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	require.NotNil(t, req.ResolvedAt)
	assert.True(t, req.ResolvedAt.Equal(f.now))

	history := f.history(t, req.ID)
	assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionApproved, entity.ActionApproved}, actions(history))
	assert.Equal(t, entity.RequestStatusPending, history[1].ToStatus)
	assert.Equal(t, entity.RequestStatusApproved, history[2].ToStatus)
	for i, h := range history {
		assert.Equal(t, int64(i+1), h.Seq)
	}
}

func TestDecide_RejectFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := newRule("panel", nil, requireUsers(1, "ann", "bob"), requireRoles(2, 0, "ADMIN"))

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)
	bobTask := f.taskOf(t, req.ID, "bob")

	req, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "ann").ID, entity.DecisionRejected, "missing receipt", "ann")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusRejected, req.Status)

	tasks := f.tasks(t, req.ID)
	require.Len(t, tasks, 2, "dormant sequences are never released")
	for _, task := range tasks {
		if task.ID == bobTask.ID {
			assert.Equal(t, entity.TaskStatusSkipped, task.Status)
		} else {
			assert.Equal(t, entity.TaskStatusCompleted, task.Status)
			assert.Equal(t, entity.DecisionRejected, task.Decision)
		}
	}

	history := f.history(t, req.ID)
	last := history[len(history)-1]
	assert.Equal(t, entity.ActionRejected, last.Action)
	assert.Equal(t, entity.RequestStatusPending, last.FromStatus)
	assert.Equal(t, entity.RequestStatusRejected, last.ToStatus)
	assert.Equal(t, "missing receipt", last.Comments)

	_, err = f.engine.Decide(ctx, bobTask.ID, entity.DecisionApproved, "", "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
	assert.Equal(t, "REJECTED", apperror.StatusOf(err))
}

func TestDecide_ConcurrentSiblingApprovalsResolveOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		rule := newRule("panel", nil, requireUsers(1, "ann", "bob"))

		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), []*entity.ApprovalRule{rule})
		require.NoError(t, err)
		annTask := f.taskOf(t, req.ID, "ann")
		bobTask := f.taskOf(t, req.ID, "bob")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, d := range []struct{ task, user string }{{annTask.ID, "ann"}, {bobTask.ID, "bob"}} {
			wg.Add(1)
			go func(j int, task, user string) {
				defer wg.Done()
				_, errs[j] = f.engine.Decide(ctx, task, entity.DecisionApproved, "", user)
			}(j, d.task, d.user)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		final, err := f.engine.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusApproved, final.Status)

		terminal := 0
		for _, h := range f.history(t, req.ID) {
			if h.ToStatus == entity.RequestStatusApproved {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
	}
}

func TestDecide_ConcurrentApproveAndRejectHasOneOutcome(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		rule := newRule("panel", nil, requireUsers(1, "ann", "bob"))

		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), []*entity.ApprovalRule{rule})
		require.NoError(t, err)
		annTask := f.taskOf(t, req.ID, "ann")
		bobTask := f.taskOf(t, req.ID, "bob")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Decide(ctx, annTask.ID, entity.DecisionApproved, "", "ann")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.Decide(ctx, bobTask.ID, entity.DecisionRejected, "", "bob")
		}()
		wg.Wait()

		final, err := f.engine.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusRejected, final.Status)

		terminal := 0
		for _, h := range f.history(t, req.ID) {
			if h.ToStatus.IsTerminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
	}
}

func TestDecide_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := newRule("all", nil, requireRoles(0, 0, "MANAGER"))
	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), []*entity.ApprovalRule{rule})
	require.NoError(t, err)
	task := f.taskOf(t, req.ID, "mgr-1")

	_, err = f.engine.Decide(ctx, task.ID, entity.Decision("MAYBE"), "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.engine.Decide(ctx, task.ID, entity.DecisionApproved, "", "")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.engine.Decide(ctx, "missing", entity.DecisionApproved, "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = f.engine.Decide(ctx, task.ID, entity.DecisionApproved, "", "emp-1")
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
	assert.Equal(t, "PENDING", apperror.StatusOf(err))

	_, err = f.engine.Decide(ctx, task.ID, entity.DecisionApproved, "", "mgr-1")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, task.ID, entity.DecisionApproved, "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
	assert.Equal(t, "APPROVED", apperror.StatusOf(err))
}

// lockTracker flags when the request row has been locked
type lockTracker struct {
	port.RequestRepository
	locked bool
}

func (r *lockTracker) GetByIDForUpdate(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	r.locked = true
	return r.RequestRepository.GetByIDForUpdate(ctx, id)
}

// staleTasks serves an outdated copy of one task until the request is locked,
// as another process completing it concurrently would leave it
type staleTasks struct {
	port.TaskRepository
	lock  *lockTracker
	stale *entity.ApprovalTask
}

func (r *staleTasks) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	if id == r.stale.ID && !r.lock.locked {
		task := *r.stale
		return &task, nil
	}
	return r.TaskRepository.GetByID(ctx, id)
}

func TestDecide_RereadsTaskAfterLockingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("pair", nil, requireUsers(1, "ann", "bob"))}
	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)

	annTask := f.taskOf(t, req.ID, "ann")
	_, err = f.engine.Decide(ctx, annTask.ID, entity.DecisionApproved, "", "ann")
	require.NoError(t, err)

	lock := &lockTracker{RequestRepository: f.store.Requests()}
	tasks := &staleTasks{TaskRepository: f.store.Tasks(), lock: lock, stale: annTask}
	engine := NewEngine(lock, tasks, f.store.History(), f.store.Rules(),
		f.store.Delegates(), f.store.Users(), f.store, WithClock(func() time.Time { return f.now }))

	_, err = engine.Decide(ctx, annTask.ID, entity.DecisionRejected, "", "ann")
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
	assert.True(t, lock.locked)

	got, err := f.engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusPending, got.Status)
	assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionApproved}, actions(f.history(t, req.ID)))
}

func TestDecide_ReturnedCancelsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 0, "MANAGER"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)

	req, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "mgr-1").ID, entity.DecisionReturned, "attach the invoice", "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusCancelled, req.Status)

	history := f.history(t, req.ID)
	last := history[len(history)-1]
	assert.Equal(t, entity.ActionReturned, last.Action)
	assert.Equal(t, entity.RequestStatusCancelled, last.ToStatus)

	resubmitted, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusPending, resubmitted.Status)
}

func TestSubmit_RejectsPlanWithoutRequiredApprovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	optional := requireRoles(1, 0, "MANAGER")
	optional.Optional = true
	rules := []*entity.ApprovalRule{newRule("cc-only", nil, optional)}

	_, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	stats, err := f.engine.Stats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestDecide_OptionalTasksDoNotBlock(t *testing.T) {
	ctx := context.Background()
	optional := requireUsers(1, "ann")
	optional.Optional = true
	rules := []*entity.ApprovalRule{newRule("cc", nil, requireRoles(1, 0, "MANAGER"), optional)}

	t.Run("required approval resolves and skips optional", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)
		annTask := f.taskOf(t, req.ID, "ann")
		assert.False(t, annTask.IsRequired)

		req, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "mgr-1").ID, entity.DecisionApproved, "", "mgr-1")
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)

		for _, task := range f.tasks(t, req.ID) {
			if task.ID == annTask.ID {
				assert.Equal(t, entity.TaskStatusSkipped, task.Status)
			}
		}
	})

	t.Run("optional rejection is recorded only", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)

		req, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "ann").ID, entity.DecisionRejected, "", "ann")
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusPending, req.Status)

		history := f.history(t, req.ID)
		last := history[len(history)-1]
		assert.Equal(t, entity.ActionRejected, last.Action)
		assert.Equal(t, entity.RequestStatusPending, last.ToStatus)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 0, "MANAGER"))}

	t.Run("submitter", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)

		req, err = f.engine.Cancel(ctx, req.ID, "emp-1")
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusCancelled, req.Status)
		for _, task := range f.tasks(t, req.ID) {
			assert.Equal(t, entity.TaskStatusSkipped, task.Status)
		}

		history := f.history(t, req.ID)
		assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionCancelled}, actions(history))

		_, err = f.engine.Cancel(ctx, req.ID, "emp-1")
		assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
		assert.Equal(t, "CANCELLED", apperror.StatusOf(err))
	})

	t.Run("administrator", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)

		req, err = f.engine.Cancel(ctx, req.ID, "adm-1")
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusCancelled, req.Status)
	})

	t.Run("other users are refused", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)

		_, err = f.engine.Cancel(ctx, req.ID, "mgr-1")
		assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))
		assert.Equal(t, "PENDING", apperror.StatusOf(err))

		_, err = f.engine.Cancel(ctx, "missing", "emp-1")
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
	})

	t.Run("administrator of another org is refused", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Users().Upsert(ctx, &entity.OrgUser{ID: "adm-2", OrgID: "org-2", Role: "ADMIN"}))
		req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
		require.NoError(t, err)

		_, err = f.engine.Cancel(ctx, req.ID, "adm-2")
		assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))

		got, err := f.engine.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusPending, got.Status)
		assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted}, actions(f.history(t, req.ID)))
	})
}

func TestBulkDecide_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 0, "MANAGER"))}

	var ids []string
	for _, exp := range []string{"exp-1", "exp-2", "exp-3"} {
		req, err := f.engine.Submit(ctx, newExpense(exp, "100"), rules)
		require.NoError(t, err)
		ids = append(ids, f.taskOf(t, req.ID, "mgr-1").ID)
	}
	_, err := f.engine.Decide(ctx, ids[1], entity.DecisionApproved, "", "mgr-1")
	require.NoError(t, err)

	input := []string{ids[0], "missing", ids[1], ids[2]}
	result, err := f.engine.BulkDecide(ctx, input, entity.DecisionApproved, "batch", "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, []string{ids[0], ids[2]}, result.Success)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "missing", result.Failed[0].TaskID)
	assert.Equal(t, "NOT_FOUND", result.Failed[0].Kind)
	assert.Equal(t, ids[1], result.Failed[1].TaskID)
	assert.Equal(t, "INVALID_TRANSITION", result.Failed[1].Kind)
	assert.Equal(t, "APPROVED", result.Failed[1].Status)

	_, err = f.engine.BulkDecide(ctx, nil, entity.DecisionApproved, "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestBulkDecide_Limit(t *testing.T) {
	f := newFixture(t, WithBulkLimits(2, 2))
	_, err := f.engine.BulkDecide(context.Background(), []string{"a", "b", "c"}, entity.DecisionApproved, "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestTick_EscalatesOverdueTaskToManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	original := f.taskOf(t, req.ID, "mgr-1")

	changed, err := f.engine.Tick(ctx, t0.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)

	tickAt := t0.Add(25 * time.Hour)
	changed, err = f.engine.Tick(ctx, tickAt)
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, changed)

	escalated := f.taskOf(t, req.ID, "dir-1")
	assert.Equal(t, original.ID, escalated.EscalatedFrom)
	assert.Equal(t, original.Sequence, escalated.Sequence)
	assert.True(t, escalated.IsRequired)
	require.NotNil(t, escalated.DueDate)
	assert.True(t, escalated.DueDate.Equal(tickAt.Add(24*time.Hour)))

	for _, task := range f.tasks(t, req.ID) {
		if task.ID == original.ID {
			assert.Equal(t, entity.TaskStatusExpired, task.Status)
		}
	}

	current, err := f.engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusPending, current.Status)
	require.NotNil(t, current.DueDate)
	assert.True(t, current.DueDate.Equal(*escalated.DueDate))

	before := f.history(t, req.ID)
	assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionEscalated}, actions(before))

	changed, err = f.engine.Tick(ctx, tickAt)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Len(t, f.history(t, req.ID), len(before))
	assert.Len(t, f.tasks(t, req.ID), 2)

	req, err = f.engine.Decide(ctx, escalated.ID, entity.DecisionApproved, "", "dir-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
}

func TestTick_NoEscalationTargetExpiresRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("directors", nil, requireRoles(0, 24, "DIRECTOR"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)

	changed, err := f.engine.Tick(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, changed)

	current, err := f.engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusExpired, current.Status)

	history := f.history(t, req.ID)
	assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionEscalated, entity.ActionExpired}, actions(history))
	assert.Equal(t, entity.ActorSystem, history[2].ActorType)

	changed, err = f.engine.Tick(ctx, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Len(t, f.history(t, req.ID), 3)
}

func TestTick_RequestTTLExpiresRequest(t *testing.T) {
	f := newFixture(t, WithRequestTTL(48*time.Hour))
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 0, "MANAGER"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	require.NotNil(t, req.DueDate)
	assert.True(t, req.DueDate.Equal(t0.Add(48*time.Hour)))

	changed, err := f.engine.Tick(ctx, t0.Add(47*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = f.engine.Tick(ctx, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, changed)

	for _, task := range f.tasks(t, req.ID) {
		assert.Equal(t, entity.TaskStatusExpired, task.Status)
	}
	history := f.history(t, req.ID)
	last := history[len(history)-1]
	assert.Equal(t, entity.ActionExpired, last.Action)
	assert.Equal(t, entity.RequestStatusExpired, last.ToStatus)
}

func TestDelegation_AmountLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := decimal.NewFromInt(10000)
	require.NoError(t, f.store.Delegates().Create(ctx, &entity.ApprovalDelegate{
		ID:          "del-1",
		OrgID:       "org-1",
		DelegatorID: "mgr-1",
		DelegateID:  "ann",
		IsActive:    true,
		AmountLimit: &limit,
		CreatedAt:   t0.Add(-time.Hour),
	}))
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	small, err := f.engine.Submit(ctx, newExpense("exp-1", "6000"), rules)
	require.NoError(t, err)
	delegated := f.taskOf(t, small.ID, "ann")
	assert.Equal(t, "mgr-1", delegated.DelegatedFrom)
	assert.Equal(t, []entity.HistoryAction{entity.ActionSubmitted, entity.ActionDelegated}, actions(f.history(t, small.ID)))

	large, err := f.engine.Submit(ctx, newExpense("exp-2", "15000"), rules)
	require.NoError(t, err)
	kept := f.taskOf(t, large.ID, "mgr-1")
	assert.Empty(t, kept.DelegatedFrom)

	_, err = f.engine.Decide(ctx, delegated.ID, entity.DecisionApproved, "", "mgr-1")
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition), "only the acting delegate decides")

	req, err := f.engine.Decide(ctx, delegated.ID, entity.DecisionApproved, "", "ann")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
}

func TestDelegation_NotRetroactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)

	require.NoError(t, f.store.Delegates().Create(ctx, &entity.ApprovalDelegate{
		ID:          "del-1",
		OrgID:       "org-1",
		DelegatorID: "mgr-1",
		DelegateID:  "ann",
		IsActive:    true,
		CreatedAt:   t0,
	}))
	assert.Equal(t, "mgr-1", f.taskOf(t, req.ID, "mgr-1").ApproverID)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	var requests []*entity.ApprovalRequest
	for i, exp := range []string{"exp-1", "exp-2", "exp-3"} {
		f.now = t0.Add(time.Duration(i) * time.Hour)
		req, err := f.engine.Submit(ctx, newExpense(exp, "100"), rules)
		require.NoError(t, err)
		requests = append(requests, req)
	}

	page, err := f.engine.PendingTasks(ctx, "mgr-1", port.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, requests[0].ID, page.Items[0].RequestID)
	assert.Equal(t, requests[1].ID, page.Items[1].RequestID)

	page, err = f.engine.PendingTasks(ctx, "mgr-1", port.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	f.now = t0.Add(5 * time.Hour)
	_, err = f.engine.Decide(ctx, f.taskOf(t, requests[0].ID, "mgr-1").ID, entity.DecisionApproved, "", "mgr-1")
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, requests[1].ID, "emp-1")
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[entity.RequestStatusApproved])
	assert.Equal(t, 1, stats.ByStatus[entity.RequestStatusCancelled])
	assert.Equal(t, 1, stats.ByStatus[entity.RequestStatusPending])
	assert.Equal(t, 3, stats.ByPriority[entity.PriorityNormal])
	assert.Equal(t, 5*time.Hour, stats.AverageApprovalDuration)

	_, err = f.engine.History(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var mu sync.Mutex
	var received []*event.Event
	record := func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
		return nil
	}
	for _, typ := range []event.Type{event.TypeRequestSubmitted, event.TypeTaskAssigned, event.TypeRequestResolved, event.TypeExpenseStatusChanged} {
		d.Subscribe(typ, record)
	}

	f := newFixture(t, WithDispatcher(d))
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	req, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, f.taskOf(t, req.ID, "mgr-1").ID, entity.DecisionApproved, "", "mgr-1")
	require.NoError(t, err)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	byType := make(map[event.Type]*event.Event)
	for _, evt := range received {
		byType[evt.Type] = evt
	}
	require.Len(t, byType, 4)

	resolved := byType[event.TypeRequestResolved]
	assert.Equal(t, req.ID, resolved.RequestID)
	assert.Equal(t, "APPROVED", resolved.GetPayloadString(event.KeyToStatus))
	assert.Equal(t, "exp-1", resolved.GetPayloadString(event.KeyExpenseID))
	assert.Equal(t, "mgr-1", byType[event.TypeTaskAssigned].GetPayloadString(event.KeyApproverID))
	assert.Equal(t, "APPROVED", byType[event.TypeExpenseStatusChanged].GetPayloadString(event.KeyToStatus))
}

func TestEvents_NotPublishedOnRollback(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var mu sync.Mutex
	count := 0
	d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	f := newFixture(t, WithDispatcher(d))
	ctx := context.Background()
	rules := []*entity.ApprovalRule{newRule("all", nil, requireRoles(0, 24, "MANAGER"))}

	_, err := f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, newExpense("exp-1", "100"), rules)
	require.Error(t, err)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
