package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

type mockLogger struct {
	mu    sync.Mutex
	infos []string
	errs  []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, msg)
}

func (m *mockLogger) hasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.infos {
		if i == msg {
			return true
		}
	}
	return false
}

type mockRuleRepo struct {
	createFunc      func(ctx context.Context, rule *entity.ApprovalRule) error
	updateFunc      func(ctx context.Context, rule *entity.ApprovalRule) error
	getByIDFunc     func(ctx context.Context, id string) (*entity.ApprovalRule, error)
	listByOrgFunc   func(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error)
	recordMatchFunc func(ctx context.Context, ruleID string, at time.Time) error
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepo) Update(ctx context.Context, rule *entity.ApprovalRule) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, apperror.NotFound("rule", id)
}

func (m *mockRuleRepo) ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error) {
	if m.listByOrgFunc != nil {
		return m.listByOrgFunc(ctx, orgID, activeOnly)
	}
	return nil, nil
}

func (m *mockRuleRepo) RecordMatch(ctx context.Context, ruleID string, at time.Time) error {
	if m.recordMatchFunc != nil {
		return m.recordMatchFunc(ctx, ruleID, at)
	}
	return nil
}

type mockDelegateRepo struct {
	createFunc     func(ctx context.Context, d *entity.ApprovalDelegate) error
	getByIDFunc    func(ctx context.Context, id string) (*entity.ApprovalDelegate, error)
	deactivateFunc func(ctx context.Context, id string) error
	listByUserFunc func(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error)
}

func (m *mockDelegateRepo) Create(ctx context.Context, d *entity.ApprovalDelegate) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, d)
	}
	return nil
}

func (m *mockDelegateRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalDelegate, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, apperror.NotFound("delegate", id)
}

func (m *mockDelegateRepo) Deactivate(ctx context.Context, id string) error {
	if m.deactivateFunc != nil {
		return m.deactivateFunc(ctx, id)
	}
	return nil
}

func (m *mockDelegateRepo) ListActiveByDelegator(ctx context.Context, delegatorID string) ([]*entity.ApprovalDelegate, error) {
	return nil, nil
}

func (m *mockDelegateRepo) ListByUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID)
	}
	return nil, nil
}

type mockNotifier struct {
	mu         sync.Mutex
	notifyFunc func(ctx context.Context, n port.Notification) error
	sent       []port.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n port.Notification) error {
	if m.notifyFunc != nil {
		if err := m.notifyFunc(ctx, n); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

type mockExpenseUpdater struct {
	updateFunc func(ctx context.Context, expenseID string, status entity.RequestStatus) error
	updates    map[string]entity.RequestStatus
}

func (m *mockExpenseUpdater) UpdateExpenseStatus(ctx context.Context, expenseID string, status entity.RequestStatus) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, expenseID, status)
	}
	if m.updates == nil {
		m.updates = make(map[string]entity.RequestStatus)
	}
	m.updates[expenseID] = status
	return nil
}

// mockOutbox keeps entries in a map keyed by idempotency key
type mockOutbox struct {
	mu          sync.Mutex
	entries     map[string]port.OutboxEntry
	enqueueFunc func(ctx context.Context, entry port.OutboxEntry) (bool, error)
}

func (m *mockOutbox) Enqueue(ctx context.Context, entry port.OutboxEntry) (bool, error) {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]port.OutboxEntry)
	}
	if _, ok := m.entries[entry.Key]; ok {
		return false, nil
	}
	m.entries[entry.Key] = entry
	return true, nil
}

func (m *mockOutbox) Due(ctx context.Context, now time.Time, limit int) ([]port.OutboxEntry, error) {
	return nil, nil
}

func (m *mockOutbox) Ack(ctx context.Context, key string) error { return nil }

func (m *mockOutbox) Retry(ctx context.Context, key string, next time.Time, lastErr string) error {
	return nil
}

func (m *mockOutbox) DeadLetter(ctx context.Context, key string, lastErr string) error {
	return fmt.Errorf("not supported")
}

func (m *mockOutbox) DeadLetters(ctx context.Context) ([]port.OutboxEntry, error) {
	return nil, nil
}
