package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// Delivery kinds stored in the outbox
const (
	KindNotification  = "notification"
	KindExpenseStatus = "expense_status"
)

// NotificationService turns committed workflow events into notifications and
// expense status updates. With an outbox configured deliveries are queued
// and retried by the outbox worker; without one they are attempted once.
type NotificationService interface {
	// Register subscribes the service to the dispatcher
	Register(d dispatcher.Dispatcher)
	// Handle converts one event into deliveries
	Handle(ctx context.Context, evt *event.Event) error
	// Deliver performs one queued delivery
	Deliver(ctx context.Context, entry port.OutboxEntry) error
}

type expenseStatusPayload struct {
	ExpenseID string               `json:"expense_id"`
	Status    entity.RequestStatus `json:"status"`
}

type notificationServiceImpl struct {
	notifier port.Notifier
	expenses port.ExpenseStatusUpdater
	outbox   port.Outbox
	logger   Logger
}

// NewNotificationService creates a new NotificationService. notifier,
// expenses and outbox may each be nil.
func NewNotificationService(
	notifier port.Notifier,
	expenses port.ExpenseStatusUpdater,
	outbox port.Outbox,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notifier: notifier,
		expenses: expenses,
		outbox:   outbox,
		logger:   logger,
	}
}

// Register subscribes the service to every event it turns into a delivery
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeTaskAssigned,
		event.TypeTaskEscalated,
		event.TypeRequestResolved,
		event.TypeExpenseStatusChanged,
	} {
		d.SubscribeNamed(t, "notification-service", s.Handle)
	}
}

// Handle implements NotificationService
func (s *notificationServiceImpl) Handle(ctx context.Context, evt *event.Event) error {
	entries, err := s.entriesFor(evt)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if s.outbox != nil {
			created, err := s.outbox.Enqueue(ctx, entry)
			if err != nil {
				s.logger.Error("Failed to enqueue delivery", "error", err, "key", entry.Key)
				return fmt.Errorf("enqueue %s: %w", entry.Key, err)
			}
			if !created {
				s.logger.Info("Delivery already queued", "key", entry.Key)
			}
			continue
		}
		if err := s.Deliver(ctx, entry); err != nil {
			s.logger.Error("Delivery failed", "error", err, "key", entry.Key, "kind", entry.Kind)
		}
	}
	return nil
}

// entriesFor maps an event to its deliveries. The key is stable per event
// and sink, so a replayed event is not delivered twice.
func (s *notificationServiceImpl) entriesFor(evt *event.Event) ([]port.OutboxEntry, error) {
	var entries []port.OutboxEntry
	var err error
	add := func(sink, kind string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		entries = append(entries, port.OutboxEntry{
			Key:           evt.ID + ":" + sink,
			Kind:          kind,
			Payload:       data,
			NextAttemptAt: evt.Timestamp,
			CreatedAt:     evt.Timestamp,
		})
		return nil
	}

	switch evt.Type {
	case event.TypeTaskAssigned:
		if s.notifier == nil && s.outbox == nil {
			return nil, nil
		}
		n := port.Notification{
			RecipientID: evt.GetPayloadString(event.KeyApproverID),
			Title:       "Expense awaiting your approval",
			Body: fmt.Sprintf("Expense %s (%s %s) needs your decision.",
				evt.GetPayloadString(event.KeyExpenseID),
				evt.GetPayloadString(event.KeyAmount),
				evt.GetPayloadString(event.KeyCurrency)),
			RequestID: evt.RequestID,
			TaskID:    evt.GetPayloadString(event.KeyTaskID),
			Fields:    map[string]string{"sequence": fmt.Sprint(evt.GetPayloadInt(event.KeySequence))},
		}
		if due := evt.GetPayloadString(event.KeyDueDate); due != "" {
			n.Fields["due_date"] = due
		}
		err = add("approver", KindNotification, n)

	case event.TypeTaskEscalated:
		if s.notifier == nil && s.outbox == nil {
			return nil, nil
		}
		err = add("escalation", KindNotification, port.Notification{
			RecipientID: evt.GetPayloadString(event.KeySubmitterID),
			Title:       "Approval escalated",
			Body: fmt.Sprintf("An approval step on expense %s passed its deadline and moved to %s.",
				evt.GetPayloadString(event.KeyExpenseID),
				evt.GetPayloadString(event.KeyApproverID)),
			RequestID: evt.RequestID,
			TaskID:    evt.GetPayloadString(event.KeyTaskID),
		})

	case event.TypeRequestResolved:
		if s.notifier == nil && s.outbox == nil {
			return nil, nil
		}
		status := evt.GetPayloadString(event.KeyToStatus)
		err = add("submitter", KindNotification, port.Notification{
			RecipientID: evt.GetPayloadString(event.KeySubmitterID),
			Title:       "Expense approval " + status,
			Body: fmt.Sprintf("The approval request for expense %s is now %s.",
				evt.GetPayloadString(event.KeyExpenseID), status),
			RequestID: evt.RequestID,
			Fields: map[string]string{
				"request_id": evt.RequestID,
				"expense_id": evt.GetPayloadString(event.KeyExpenseID),
				"status":     status,
			},
		})

	case event.TypeExpenseStatusChanged:
		if s.expenses == nil && s.outbox == nil {
			return nil, nil
		}
		err = add("expense", KindExpenseStatus, expenseStatusPayload{
			ExpenseID: evt.GetPayloadString(event.KeyExpenseID),
			Status:    entity.RequestStatus(evt.GetPayloadString(event.KeyToStatus)),
		})
	}
	return entries, err
}

// Deliver implements NotificationService
func (s *notificationServiceImpl) Deliver(ctx context.Context, entry port.OutboxEntry) error {
	switch entry.Kind {
	case KindNotification:
		if s.notifier == nil {
			return nil
		}
		var n port.Notification
		if err := json.Unmarshal(entry.Payload, &n); err != nil {
			return fmt.Errorf("decode notification %s: %w", entry.Key, err)
		}
		if n.RecipientID == "" {
			return fmt.Errorf("notification %s has no recipient", entry.Key)
		}
		start := time.Now()
		if err := s.notifier.Notify(ctx, n); err != nil {
			return fmt.Errorf("notify %s: %w", n.RecipientID, err)
		}
		s.logger.Info("Notification delivered",
			"key", entry.Key,
			"recipient_id", n.RecipientID,
			"elapsed", time.Since(start))
		return nil

	case KindExpenseStatus:
		if s.expenses == nil {
			return nil
		}
		var p expenseStatusPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode expense status %s: %w", entry.Key, err)
		}
		if err := s.expenses.UpdateExpenseStatus(ctx, p.ExpenseID, p.Status); err != nil {
			return fmt.Errorf("update expense %s: %w", p.ExpenseID, err)
		}
		s.logger.Info("Expense status updated", "expense_id", p.ExpenseID, "status", p.Status)
		return nil
	}
	return fmt.Errorf("unknown delivery kind %q", entry.Kind)
}
