package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Signature headers of inbound expense webhooks. They match the headers the
// status callback client sends, so both directions share one secret.
const (
	HeaderWebhookTimestamp = "X-Approval-Timestamp"
	HeaderWebhookNonce     = "X-Approval-Nonce"
	HeaderWebhookSignature = "X-Approval-Signature"
)

// maxWebhookBody bounds the size of an inbound webhook payload
const maxWebhookBody = 1 << 20

// WebhookVerifier checks the signature of an inbound webhook body
type WebhookVerifier interface {
	Verify(timestamp, nonce, signature string, body []byte) bool
}

// ExpenseSubmitted handles POST /webhooks/expense-submitted. The expense
// system retries deliveries, so a submission for an expense that already has
// an active request is acknowledged rather than refused.
func (h *Handlers) ExpenseSubmitted(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		h.writeError(c, apperror.Validation("failed to read request body"))
		return
	}

	timestamp := c.GetHeader(HeaderWebhookTimestamp)
	nonce := c.GetHeader(HeaderWebhookNonce)
	signature := c.GetHeader(HeaderWebhookSignature)

	if !h.freshTimestamp(timestamp) {
		h.logger.Info("Rejected stale webhook", "timestamp", timestamp)
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "stale or missing timestamp"})
		return
	}
	if !h.webhook.Verify(timestamp, nonce, signature, body) {
		h.logger.Info("Rejected webhook with bad signature", "nonce", nonce)
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid signature"})
		return
	}

	var payload SubmitRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(c, apperror.Validation("invalid request body: %v", err))
		return
	}
	expense, err := payload.toSnapshot()
	if err != nil {
		h.writeError(c, err)
		return
	}

	req, err := h.approvals.SubmitExpense(c.Request.Context(), expense)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) && apperror.StatusOf(err) == string(entity.RequestStatusPending) {
			h.logger.Info("Duplicate expense webhook acknowledged", "expense_id", expense.ID)
			c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"expense_id": expense.ID, "duplicate": true}})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

func (h *Handlers) freshTimestamp(raw string) bool {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	skew := h.now().Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= h.webhookSkew
}
