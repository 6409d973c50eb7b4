// Package expense reports final approval outcomes back to the expense system.
package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/idgen"
)

// Config holds the callback endpoint settings
type Config struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

// StatusUpdate is the callback body
type StatusUpdate struct {
	ExpenseID string               `json:"expense_id"`
	Status    entity.RequestStatus `json:"status"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// WebhookClient posts status updates to the expense system
type WebhookClient struct {
	url    string
	signer *Signer
	http   *http.Client
	now    func() time.Time
	logger *zap.Logger
}

var _ port.ExpenseStatusUpdater = (*WebhookClient)(nil)

// NewWebhookClient creates a client for cfg.WebhookURL
func NewWebhookClient(cfg Config, logger *zap.Logger) *WebhookClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url:    cfg.WebhookURL,
		signer: NewSigner(cfg.Secret),
		http:   &http.Client{Timeout: timeout},
		now:    time.Now,
		logger: logger,
	}
}

// UpdateExpenseStatus implements port.ExpenseStatusUpdater. Any non-2xx
// response is an error so the outbox retries it.
func (c *WebhookClient) UpdateExpenseStatus(ctx context.Context, expenseID string, status entity.RequestStatus) error {
	now := c.now().UTC()
	body, err := json.Marshal(StatusUpdate{ExpenseID: expenseID, Status: status, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer.Enabled() {
		timestamp := strconv.FormatInt(now.Unix(), 10)
		nonce := idgen.New()
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderNonce, nonce)
		req.Header.Set(HeaderSignature, c.signer.Sign(timestamp, nonce, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call expense webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("expense webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	c.logger.Info("Expense status reported",
		zap.String("expense_id", expenseID),
		zap.String("status", string(status)))
	return nil
}

// LogUpdater only logs status updates. Used when no webhook is configured.
type LogUpdater struct {
	logger *zap.Logger
}

var _ port.ExpenseStatusUpdater = (*LogUpdater)(nil)

// NewLogUpdater creates a LogUpdater
func NewLogUpdater(logger *zap.Logger) *LogUpdater {
	return &LogUpdater{logger: logger}
}

// UpdateExpenseStatus implements port.ExpenseStatusUpdater
func (u *LogUpdater) UpdateExpenseStatus(ctx context.Context, expenseID string, status entity.RequestStatus) error {
	u.logger.Info("Expense status changed",
		zap.String("expense_id", expenseID),
		zap.String("status", string(status)))
	return nil
}
