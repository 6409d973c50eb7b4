package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/report"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// UserHeader carries the id of the user acting on a request or task
const UserHeader = "X-User-ID"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportPageSize bounds each page read while building the stats workbook
const exportPageSize = 500

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    workflow.Engine
	approvals service.ApprovalService
	rules     service.RuleService
	delegates service.DelegateService
	reports   port.ReportWriter
	archive   Archiver
	health    HealthFunc
	webhook   WebhookVerifier
	logger    Logger
	now       func() time.Time

	webhookSkew time.Duration
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		engine:    deps.Engine,
		approvals: deps.Approvals,
		rules:     deps.Rules,
		delegates: deps.Delegates,
		reports:   deps.Reports,
		archive:   deps.Archive,
		health:    deps.Health,
		webhook:   deps.Webhook,
		logger:    deps.Logger,
		now:       time.Now,

		webhookSkew: 5 * time.Minute,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Kind and Status describe a failed operation; Status is the current
	// status of the resource so the caller can re-sync
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /requests
type SubmitRequest struct {
	ExpenseID     string          `json:"expense_id"`
	OrgID         string          `json:"org_id"`
	SubmitterID   string          `json:"submitter_id"`
	SubmitterRole string          `json:"submitter_role"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CategoryID    string          `json:"category_id"`
	Vendor        string          `json:"vendor"`
	PaymentMethod string          `json:"payment_method"`
	Date          string          `json:"date"`
}

// DecisionRequest is the body of POST /tasks/:id/decision
type DecisionRequest struct {
	Decision entity.Decision `json:"decision"`
	Comments string          `json:"comments"`
}

// BulkDecisionRequest is the body of POST /tasks/bulk-decision
type BulkDecisionRequest struct {
	TaskIDs  []string        `json:"task_ids"`
	Decision entity.Decision `json:"decision"`
	Comments string          `json:"comments"`
}

// RuleRequest is the body of rule create and update calls
type RuleRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Priority    int                `json:"priority"`
	IsActive    *bool              `json:"is_active"`
	Conditions  []entity.Condition `json:"conditions"`
	Actions     []entity.Action    `json:"actions"`
}

// DelegateRequest is the body of POST /delegates
type DelegateRequest struct {
	OrgID       string           `json:"org_id"`
	DelegatorID string           `json:"delegator_id"`
	DelegateID  string           `json:"delegate_id"`
	StartDate   string           `json:"start_date"`
	EndDate     string           `json:"end_date"`
	AmountLimit *decimal.Decimal `json:"amount_limit"`
	CategoryIDs []string         `json:"category_ids"`
}

// TickRequest is the optional body of POST /admin/tick
type TickRequest struct {
	At string `json:"at"`
}

// StatsResponse is an organization's request statistics
type StatsResponse struct {
	*port.RequestStats
	AverageApprovalHours float64 `json:"average_approval_hours"`
}

// PageQuery holds paging query parameters
type PageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ListRequestsQuery holds the filters of GET /requests
type ListRequestsQuery struct {
	PageQuery
	OrgID       string `form:"org_id"`
	Status      string `form:"status"`
	SubmitterID string `form:"submitter_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    response,
	})
}

// SubmitRequest handles POST /api/v1/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequest
	if !h.bindJSON(c, &body) {
		return
	}

	expense, err := body.toSnapshot()
	if err != nil {
		h.writeError(c, err)
		return
	}

	req, err := h.approvals.SubmitExpense(c.Request.Context(), expense)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

func (b SubmitRequest) toSnapshot() (entity.ExpenseSnapshot, error) {
	var problems []string
	for _, check := range []struct{ field, value string }{
		{"expense_id", b.ExpenseID},
		{"org_id", b.OrgID},
		{"submitter_id", b.SubmitterID},
	} {
		if err := utils.ValidateIdentifier(check.field, check.value); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if err := utils.ValidateAmount(b.Amount); err != nil {
		problems = append(problems, err.Error())
	}
	if err := utils.ValidateCurrency(b.Currency); err != nil {
		problems = append(problems, err.Error())
	}

	date := time.Now().UTC()
	if b.Date != "" {
		d, err := entity.ParseDate(b.Date)
		if err != nil {
			problems = append(problems, err.Error())
		}
		date = d
	}

	if len(problems) > 0 {
		return entity.ExpenseSnapshot{}, apperror.Validation("invalid expense: %s", strings.Join(problems, "; "))
	}

	return entity.ExpenseSnapshot{
		ID:            b.ExpenseID,
		OrgID:         b.OrgID,
		SubmitterID:   b.SubmitterID,
		SubmitterRole: utils.SanitizeString(b.SubmitterRole),
		Amount:        b.Amount,
		Currency:      b.Currency,
		CategoryID:    utils.SanitizeString(b.CategoryID),
		Vendor:        utils.SanitizeString(b.Vendor),
		PaymentMethod: utils.SanitizeString(b.PaymentMethod),
		Date:          entity.TruncateDay(date),
	}, nil
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.writeError(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	items, total, err := h.engine.ListRequests(c.Request.Context(), port.RequestFilter{
		OrgID:       q.OrgID,
		Status:      entity.RequestStatus(strings.ToUpper(q.Status)),
		SubmitterID: q.SubmitterID,
	}, port.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []*entity.ApprovalRequest{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"items": items, "total": total},
	})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.engine.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// ListRequestTasks handles GET /api/v1/requests/:id/tasks
func (h *Handlers) ListRequestTasks(c *gin.Context) {
	tasks, err := h.engine.ListTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// CancelRequest handles POST /api/v1/requests/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	userID, ok := h.actingUser(c)
	if !ok {
		return
	}

	req, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Decide handles POST /api/v1/tasks/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	userID, ok := h.actingUser(c)
	if !ok {
		return
	}
	var body DecisionRequest
	if !h.bindJSON(c, &body) {
		return
	}

	req, err := h.engine.Decide(c.Request.Context(), c.Param("id"), normalizeDecision(body.Decision), body.Comments, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// BulkDecide handles POST /api/v1/tasks/bulk-decision
func (h *Handlers) BulkDecide(c *gin.Context) {
	userID, ok := h.actingUser(c)
	if !ok {
		return
	}
	var body BulkDecisionRequest
	if !h.bindJSON(c, &body) {
		return
	}

	result, err := h.engine.BulkDecide(c.Request.Context(), body.TaskIDs, normalizeDecision(body.Decision), body.Comments, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// PendingTasks handles GET /api/v1/approvers/:user/tasks
func (h *Handlers) PendingTasks(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.writeError(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	page, err := h.engine.PendingTasks(c.Request.Context(), c.Param("user"), port.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: page})
}

// Stats handles GET /api/v1/orgs/:org/stats
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context(), c.Param("org"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: StatsResponse{
			RequestStats:         stats,
			AverageApprovalHours: stats.AverageApprovalDuration.Hours(),
		},
	})
}

// ExportRequest handles GET /api/v1/requests/:id/export.xlsx
func (h *Handlers) ExportRequest(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	req, err := h.engine.GetRequest(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	tasks, err := h.engine.ListTasks(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	history, err := h.engine.History(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	data, err := h.reports.WriteRequest(req, tasks, history)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.sendWorkbook(c, report.Filename("request", id), data)
}

// ExportStats handles GET /api/v1/orgs/:org/stats.xlsx
func (h *Handlers) ExportStats(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := c.Param("org")

	stats, err := h.engine.Stats(ctx, orgID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var requests []*entity.ApprovalRequest
	for offset := 0; ; offset += exportPageSize {
		page, total, err := h.engine.ListRequests(ctx, port.RequestFilter{OrgID: orgID}, port.Page{Limit: exportPageSize, Offset: offset})
		if err != nil {
			h.writeError(c, err)
			return
		}
		requests = append(requests, page...)
		if len(page) < exportPageSize || len(requests) >= total {
			break
		}
	}

	data, err := h.reports.WriteStats(stats, requests)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.sendWorkbook(c, report.Filename("stats", orgID), data)
}

func (h *Handlers) sendWorkbook(c *gin.Context, filename string, data []byte) {
	if h.archive != nil {
		// a failed archive copy does not fail the download
		if path, err := h.archive.Store(context.WithoutCancel(c.Request.Context()), filename, data); err != nil {
			h.logger.Error("Failed to archive report", "filename", filename, "error", err)
		} else {
			h.logger.Info("Report archived", "path", path)
		}
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// CreateRule handles POST /api/v1/orgs/:org/rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var body RuleRequest
	if !h.bindJSON(c, &body) {
		return
	}

	rule := body.toEntity(c.Param("org"))
	if body.IsActive == nil {
		rule.IsActive = true
	}

	created, err := h.rules.Create(c.Request.Context(), rule)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ListRules handles GET /api/v1/orgs/:org/rules
func (h *Handlers) ListRules(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	list, err := h.rules.List(c.Request.Context(), c.Param("org"), activeOnly)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*entity.ApprovalRule{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// GetRule handles GET /api/v1/rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	var body RuleRequest
	if !h.bindJSON(c, &body) {
		return
	}

	ctx := c.Request.Context()
	existing, err := h.rules.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	rule := body.toEntity(existing.OrgID)
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.MatchCount = existing.MatchCount
	rule.LastMatchedAt = existing.LastMatchedAt
	if body.IsActive == nil {
		rule.IsActive = existing.IsActive
	}

	updated, err := h.rules.Update(ctx, rule)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DeactivateRule handles DELETE /api/v1/rules/:id
func (h *Handlers) DeactivateRule(c *gin.Context) {
	rule, err := h.rules.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

func (b RuleRequest) toEntity(orgID string) *entity.ApprovalRule {
	rule := &entity.ApprovalRule{
		OrgID:       orgID,
		Name:        strings.TrimSpace(b.Name),
		Description: b.Description,
		Priority:    b.Priority,
		Conditions:  b.Conditions,
		Actions:     b.Actions,
	}
	if b.IsActive != nil {
		rule.IsActive = *b.IsActive
	}
	return rule
}

// CreateDelegate handles POST /api/v1/delegates
func (h *Handlers) CreateDelegate(c *gin.Context) {
	var body DelegateRequest
	if !h.bindJSON(c, &body) {
		return
	}

	d := &entity.ApprovalDelegate{
		OrgID:       body.OrgID,
		DelegatorID: body.DelegatorID,
		DelegateID:  body.DelegateID,
		AmountLimit: body.AmountLimit,
		CategoryIDs: body.CategoryIDs,
	}
	var err error
	if d.StartDate, err = parseOptionalInstant("start_date", body.StartDate); err != nil {
		h.writeError(c, err)
		return
	}
	if d.EndDate, err = parseOptionalInstant("end_date", body.EndDate); err != nil {
		h.writeError(c, err)
		return
	}

	created, err := h.delegates.Create(c.Request.Context(), d)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ListDelegates handles GET /api/v1/users/:user/delegates
func (h *Handlers) ListDelegates(c *gin.Context) {
	list, err := h.delegates.ListForUser(c.Request.Context(), c.Param("user"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*entity.ApprovalDelegate{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// DeactivateDelegate handles DELETE /api/v1/delegates/:id
func (h *Handlers) DeactivateDelegate(c *gin.Context) {
	d, err := h.delegates.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: d})
}

// Tick handles POST /api/v1/admin/tick. The body may name the instant to
// evaluate; it defaults to now.
func (h *Handlers) Tick(c *gin.Context) {
	at := h.now().UTC()

	var body TickRequest
	if c.Request.ContentLength > 0 {
		if !h.bindJSON(c, &body) {
			return
		}
	}
	if body.At != "" {
		t, err := time.Parse(time.RFC3339, body.At)
		if err != nil {
			h.writeError(c, apperror.Validation("invalid at %q: expected RFC3339", body.At))
			return
		}
		at = t.UTC()
	}

	changed, err := h.engine.Tick(c.Request.Context(), at)
	if changed == nil {
		changed = []string{}
	}
	data := gin.H{"at": at.Format(time.RFC3339), "changed": changed}
	if err != nil {
		// some requests failed; the rest were processed
		h.logger.Error("Tick finished with errors", "error", err, "changed", len(changed))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Data:    data,
			Error:   err.Error(),
			Kind:    apperror.KindOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handlers) actingUser(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetHeader(UserHeader))
	if userID == "" {
		h.writeError(c, apperror.Validation("%s header is required", UserHeader))
		return "", false
	}
	return userID, true
}

func (h *Handlers) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, apperror.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *Handlers) writeError(c *gin.Context, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(code, Response{
		Success: false,
		Error:   err.Error(),
		Kind:    apperror.KindOf(err),
		Status:  apperror.StatusOf(err),
	})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrInvalidTransition), errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func normalizeDecision(d entity.Decision) entity.Decision {
	return entity.Decision(strings.ToUpper(strings.TrimSpace(string(d))))
}

func parseOptionalInstant(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := entity.ParseDate(s)
	if err != nil {
		return nil, apperror.Validation("invalid %s: %v", field, err)
	}
	return &d, nil
}
