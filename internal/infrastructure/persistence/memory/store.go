// Package memory is an in-process implementation of every workflow
// repository, used for tests and the "memory" database driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

type txKey struct{}

type tables struct {
	requests  map[string]*entity.ApprovalRequest
	tasks     map[string]*entity.ApprovalTask
	history   map[string][]*entity.ApprovalHistory
	rules     map[string]*entity.ApprovalRule
	delegates map[string]*entity.ApprovalDelegate
	users     map[string]*entity.OrgUser
}

func newTables() tables {
	return tables{
		requests:  make(map[string]*entity.ApprovalRequest),
		tasks:     make(map[string]*entity.ApprovalTask),
		history:   make(map[string][]*entity.ApprovalHistory),
		rules:     make(map[string]*entity.ApprovalRule),
		delegates: make(map[string]*entity.ApprovalDelegate),
		users:     make(map[string]*entity.OrgUser),
	}
}

// clone copies the maps; stored values are immutable copies so sharing them is safe
func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.requests {
		c.requests[k] = v
	}
	for k, v := range t.tasks {
		c.tasks[k] = v
	}
	for k, v := range t.history {
		c.history[k] = append([]*entity.ApprovalHistory(nil), v...)
	}
	for k, v := range t.rules {
		c.rules[k] = v
	}
	for k, v := range t.delegates {
		c.delegates[k] = v
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	return c
}

// Store holds all tables. Transactions are serialized and roll back by
// restoring a snapshot taken at begin.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	t    tables
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{t: newTables()}
}

// WithTransaction implements port.TransactionManager
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.t.clone()
	s.mu.RUnlock()

	rollback := func() {
		s.mu.Lock()
		s.t = snapshot
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		rollback()
		return err
	}
	return nil
}

// Requests returns the request repository view
func (s *Store) Requests() *RequestRepository { return &RequestRepository{s} }

// Tasks returns the task repository view
func (s *Store) Tasks() *TaskRepository { return &TaskRepository{s} }

// History returns the history repository view
func (s *Store) History() *HistoryRepository { return &HistoryRepository{s} }

// Rules returns the rule repository view
func (s *Store) Rules() *RuleRepository { return &RuleRepository{s} }

// Delegates returns the delegate repository view
func (s *Store) Delegates() *DelegateRepository { return &DelegateRepository{s} }

// Users returns the user directory view
func (s *Store) Users() *UserRepository { return &UserRepository{s} }

// RequestRepository implements port.RequestRepository
type RequestRepository struct{ s *Store }

func cloneRequest(r *entity.ApprovalRequest) *entity.ApprovalRequest {
	c := *r
	c.Plan.Groups = make([]entity.PlanGroup, len(r.Plan.Groups))
	for i, g := range r.Plan.Groups {
		g.Approvers = append([]string(nil), g.Approvers...)
		c.Plan.Groups[i] = g
	}
	c.DueDate = cloneTime(r.DueDate)
	c.ResolvedAt = cloneTime(r.ResolvedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.requests[req.ID]; ok {
		return apperror.Conflict("request", req.ID, string(req.Status), "request already exists")
	}
	if req.Status == entity.RequestStatusPending {
		for _, existing := range r.s.t.requests {
			if existing.ExpenseID == req.ExpenseID && existing.Status == entity.RequestStatusPending {
				return apperror.Conflict("expense", req.ExpenseID, string(existing.Status),
					"an approval request is already pending")
			}
		}
	}
	r.s.t.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.t.requests[id]
	if !ok {
		return nil, apperror.NotFound("request", id)
	}
	return cloneRequest(req), nil
}

func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *RequestRepository) FindActiveByExpense(ctx context.Context, expenseID string) (*entity.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, req := range r.s.t.requests {
		if req.ExpenseID == expenseID && req.Status == entity.RequestStatusPending {
			return cloneRequest(req), nil
		}
	}
	return nil, nil
}

func (r *RequestRepository) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.requests[req.ID]; !ok {
		return apperror.NotFound("request", req.ID)
	}
	r.s.t.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter, page port.Page) ([]*entity.ApprovalRequest, int, error) {
	page = page.Normalize()
	r.s.mu.RLock()
	var matched []*entity.ApprovalRequest
	for _, req := range r.s.t.requests {
		if filter.OrgID != "" && req.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.SubmitterID != "" && req.SubmitterID != filter.SubmitterID {
			continue
		}
		matched = append(matched, cloneRequest(req))
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return window(matched, page), len(matched), nil
}

func (r *RequestRepository) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for _, req := range r.s.t.requests {
		if req.Status == entity.RequestStatusPending && req.DueDate != nil && !now.Before(*req.DueDate) {
			ids = append(ids, req.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RequestRepository) Stats(ctx context.Context, orgID string) (*port.RequestStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &port.RequestStats{
		OrgID:      orgID,
		ByStatus:   make(map[entity.RequestStatus]int),
		ByPriority: make(map[entity.Priority]int),
	}
	var sum time.Duration
	var approved int
	for _, req := range r.s.t.requests {
		if req.OrgID != orgID {
			continue
		}
		stats.Total++
		stats.ByStatus[req.Status]++
		stats.ByPriority[req.Priority]++
		if req.Status == entity.RequestStatusApproved && req.ResolvedAt != nil {
			sum += req.ResolvedAt.Sub(req.CreatedAt)
			approved++
		}
	}
	if approved > 0 {
		stats.AverageApprovalDuration = sum / time.Duration(approved)
	}
	return stats, nil
}

func window[T any](items []T, page port.Page) []T {
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

// TaskRepository implements port.TaskRepository
type TaskRepository struct{ s *Store }

func cloneTask(t *entity.ApprovalTask) *entity.ApprovalTask {
	c := *t
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func (r *TaskRepository) Create(ctx context.Context, task *entity.ApprovalTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.tasks[task.ID]; ok {
		return apperror.Conflict("task", task.ID, string(task.Status), "task already exists")
	}
	for _, existing := range r.s.t.tasks {
		if existing.RequestID == task.RequestID && existing.ApproverID == task.ApproverID && existing.Sequence == task.Sequence {
			return apperror.Conflict("task", existing.ID, string(existing.Status), "approver already has a task at this sequence")
		}
	}
	r.s.t.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	task, ok := r.s.t.tasks[id]
	if !ok {
		return nil, apperror.NotFound("task", id)
	}
	return cloneTask(task), nil
}

func (r *TaskRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalTask, error) {
	r.s.mu.RLock()
	var tasks []*entity.ApprovalTask
	for _, t := range r.s.t.tasks {
		if t.RequestID == requestID {
			tasks = append(tasks, cloneTask(t))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Sequence != tasks[j].Sequence {
			return tasks[i].Sequence < tasks[j].Sequence
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (r *TaskRepository) Update(ctx context.Context, task *entity.ApprovalTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.tasks[task.ID]; !ok {
		return apperror.NotFound("task", task.ID)
	}
	r.s.t.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *TaskRepository) ListPendingByApprover(ctx context.Context, approverID string, page port.Page) ([]*entity.ApprovalTask, int, error) {
	page = page.Normalize()
	r.s.mu.RLock()
	var tasks []*entity.ApprovalTask
	for _, t := range r.s.t.tasks {
		if t.ApproverID == approverID && t.Status == entity.TaskStatusPending {
			tasks = append(tasks, cloneTask(t))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return window(tasks, page), len(tasks), nil
}

func (r *TaskRepository) ListOverdueRequestIDs(ctx context.Context, now time.Time) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, t := range r.s.t.tasks {
		if t.IsOverdue(now) && !seen[t.RequestID] {
			seen[t.RequestID] = true
			ids = append(ids, t.RequestID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct{ s *Store }

func (r *HistoryRepository) Append(ctx context.Context, h *entity.ApprovalHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.t.history[h.RequestID]
	h.Seq = int64(len(entries)) + 1
	c := *h
	r.s.t.history[h.RequestID] = append(entries, &c)
	return nil
}

func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entries := r.s.t.history[requestID]
	out := make([]*entity.ApprovalHistory, len(entries))
	for i, h := range entries {
		c := *h
		out[i] = &c
	}
	return out, nil
}

// RuleRepository implements port.RuleRepository
type RuleRepository struct{ s *Store }

func cloneRule(r *entity.ApprovalRule) *entity.ApprovalRule {
	c := *r
	c.Conditions = append([]entity.Condition(nil), r.Conditions...)
	c.Actions = make([]entity.Action, len(r.Actions))
	for i, a := range r.Actions {
		a.ApproverRoles = append([]string(nil), a.ApproverRoles...)
		a.ApproverUsers = append([]string(nil), a.ApproverUsers...)
		c.Actions[i] = a
	}
	c.LastMatchedAt = cloneTime(r.LastMatchedAt)
	return &c
}

func (r *RuleRepository) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.rules[rule.ID]; ok {
		return apperror.Conflict("rule", rule.ID, "", "rule already exists")
	}
	r.s.t.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *entity.ApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.t.rules[rule.ID]
	if !ok {
		return apperror.NotFound("rule", rule.ID)
	}
	c := cloneRule(rule)
	c.MatchCount = existing.MatchCount
	c.LastMatchedAt = cloneTime(existing.LastMatchedAt)
	c.CreatedAt = existing.CreatedAt
	r.s.t.rules[rule.ID] = c
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rule, ok := r.s.t.rules[id]
	if !ok {
		return nil, apperror.NotFound("rule", id)
	}
	return cloneRule(rule), nil
}

func (r *RuleRepository) ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error) {
	r.s.mu.RLock()
	var rules []*entity.ApprovalRule
	for _, rule := range r.s.t.rules {
		if rule.OrgID != orgID || (activeOnly && !rule.IsActive) {
			continue
		}
		rules = append(rules, cloneRule(rule))
	}
	r.s.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (r *RuleRepository) RecordMatch(ctx context.Context, ruleID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.t.rules[ruleID]
	if !ok {
		return nil
	}
	c := cloneRule(rule)
	c.MatchCount++
	c.LastMatchedAt = &at
	r.s.t.rules[ruleID] = c
	return nil
}

// DelegateRepository implements port.DelegateRepository
type DelegateRepository struct{ s *Store }

func cloneDelegate(d *entity.ApprovalDelegate) *entity.ApprovalDelegate {
	c := *d
	c.StartDate = cloneTime(d.StartDate)
	c.EndDate = cloneTime(d.EndDate)
	if d.AmountLimit != nil {
		v := *d.AmountLimit
		c.AmountLimit = &v
	}
	c.CategoryIDs = append([]string(nil), d.CategoryIDs...)
	return &c
}

func (r *DelegateRepository) Create(ctx context.Context, d *entity.ApprovalDelegate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.t.delegates[d.ID]; ok {
		return apperror.Conflict("delegate", d.ID, "", "delegate already exists")
	}
	r.s.t.delegates[d.ID] = cloneDelegate(d)
	return nil
}

func (r *DelegateRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalDelegate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.t.delegates[id]
	if !ok {
		return nil, apperror.NotFound("delegate", id)
	}
	return cloneDelegate(d), nil
}

func (r *DelegateRepository) Deactivate(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.t.delegates[id]
	if !ok {
		return apperror.NotFound("delegate", id)
	}
	c := cloneDelegate(d)
	c.IsActive = false
	r.s.t.delegates[id] = c
	return nil
}

func (r *DelegateRepository) ListActiveByDelegator(ctx context.Context, delegatorID string) ([]*entity.ApprovalDelegate, error) {
	return r.list(func(d *entity.ApprovalDelegate) bool {
		return d.DelegatorID == delegatorID && d.IsActive
	}), nil
}

func (r *DelegateRepository) ListByUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error) {
	return r.list(func(d *entity.ApprovalDelegate) bool {
		return d.DelegatorID == userID || d.DelegateID == userID
	}), nil
}

func (r *DelegateRepository) list(keep func(*entity.ApprovalDelegate) bool) []*entity.ApprovalDelegate {
	r.s.mu.RLock()
	var out []*entity.ApprovalDelegate
	for _, d := range r.s.t.delegates {
		if keep(d) {
			out = append(out, cloneDelegate(d))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UserRepository implements port.UserRepository
type UserRepository struct{ s *Store }

func (r *UserRepository) Upsert(ctx context.Context, u *entity.OrgUser) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *u
	r.s.t.users[u.ID] = &c
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.OrgUser, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.t.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) ListByOrg(ctx context.Context, orgID string) ([]*entity.OrgUser, error) {
	r.s.mu.RLock()
	var users []*entity.OrgUser
	for _, u := range r.s.t.users {
		if u.OrgID == orgID {
			c := *u
			users = append(users, &c)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *UserRepository) UsersWithRole(ctx context.Context, orgID, role string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for _, u := range r.s.t.users {
		if u.OrgID == orgID && u.Role == role {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if u, ok := r.s.t.users[userID]; ok {
		return u.ManagerID, nil
	}
	return "", nil
}

func (r *UserRepository) RoleOf(ctx context.Context, orgID, userID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if u, ok := r.s.t.users[userID]; ok && u.OrgID == orgID {
		return u.Role, nil
	}
	return "", nil
}

var (
	_ port.TransactionManager = (*Store)(nil)
	_ port.RequestRepository  = (*RequestRepository)(nil)
	_ port.TaskRepository     = (*TaskRepository)(nil)
	_ port.HistoryRepository  = (*HistoryRepository)(nil)
	_ port.RuleRepository     = (*RuleRepository)(nil)
	_ port.DelegateRepository = (*DelegateRepository)(nil)
	_ port.UserRepository     = (*UserRepository)(nil)
)
