package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

func resolvedEvent(status entity.RequestStatus) *event.Event {
	return event.NewEvent(event.TypeRequestResolved, "req-1", map[string]interface{}{
		event.KeyExpenseID:   "exp-1",
		event.KeySubmitterID: "emp-1",
		event.KeyToStatus:    string(status),
	})
}

func TestNotificationService_DirectDelivery(t *testing.T) {
	notifier := &mockNotifier{}
	expenses := &mockExpenseUpdater{}
	service := NewNotificationService(notifier, expenses, nil, &mockLogger{})
	ctx := context.Background()

	require.NoError(t, service.Handle(ctx, resolvedEvent(entity.RequestStatusApproved)))
	require.NoError(t, service.Handle(ctx, event.NewEvent(event.TypeExpenseStatusChanged, "req-1", map[string]interface{}{
		event.KeyExpenseID: "exp-1",
		event.KeyToStatus:  "APPROVED",
	})))
	require.NoError(t, service.Handle(ctx, event.NewEvent(event.TypeTaskAssigned, "req-1", map[string]interface{}{
		event.KeyApproverID: "mgr-1",
		event.KeyTaskID:     "task-1",
		event.KeyExpenseID:  "exp-1",
		event.KeySequence:   2,
		event.KeyDueDate:    "2024-03-16T09:00:00Z",
	})))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "emp-1", notifier.sent[0].RecipientID)
	assert.Equal(t, "Expense approval APPROVED", notifier.sent[0].Title)
	assert.Equal(t, "mgr-1", notifier.sent[1].RecipientID)
	assert.Equal(t, "task-1", notifier.sent[1].TaskID)
	assert.Equal(t, "2", notifier.sent[1].Fields["sequence"])
	assert.Equal(t, "2024-03-16T09:00:00Z", notifier.sent[1].Fields["due_date"])

	assert.Equal(t, entity.RequestStatusApproved, expenses.updates["exp-1"])
}

func TestNotificationService_CollaboratorFailureIsNotPropagated(t *testing.T) {
	notifier := &mockNotifier{
		notifyFunc: func(ctx context.Context, n port.Notification) error {
			return errors.New("lark unavailable")
		},
	}
	logger := &mockLogger{}
	service := NewNotificationService(notifier, nil, nil, logger)

	err := service.Handle(context.Background(), resolvedEvent(entity.RequestStatusRejected))
	assert.NoError(t, err)
	assert.Len(t, logger.errs, 1)
}

func TestNotificationService_EnqueuesIdempotently(t *testing.T) {
	outbox := &mockOutbox{}
	notifier := &mockNotifier{}
	service := NewNotificationService(notifier, &mockExpenseUpdater{}, outbox, &mockLogger{})
	ctx := context.Background()

	evt := resolvedEvent(entity.RequestStatusApproved)
	require.NoError(t, service.Handle(ctx, evt))
	require.NoError(t, service.Handle(ctx, evt))

	require.Len(t, outbox.entries, 1)
	entry, ok := outbox.entries[evt.ID+":submitter"]
	require.True(t, ok)
	assert.Equal(t, KindNotification, entry.Kind)
	assert.Empty(t, notifier.sent, "queued entries are delivered by the outbox worker")

	require.NoError(t, service.Deliver(ctx, entry))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "emp-1", notifier.sent[0].RecipientID)
}

func TestNotificationService_EnqueueFailureIsReturned(t *testing.T) {
	outbox := &mockOutbox{
		enqueueFunc: func(ctx context.Context, entry port.OutboxEntry) (bool, error) {
			return false, errors.New("disk full")
		},
	}
	service := NewNotificationService(&mockNotifier{}, nil, outbox, &mockLogger{})

	err := service.Handle(context.Background(), resolvedEvent(entity.RequestStatusApproved))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestNotificationService_Deliver(t *testing.T) {
	expenses := &mockExpenseUpdater{}
	service := NewNotificationService(&mockNotifier{}, expenses, nil, &mockLogger{})
	ctx := context.Background()

	err := service.Deliver(ctx, port.OutboxEntry{
		Key:     "evt-1:expense",
		Kind:    KindExpenseStatus,
		Payload: []byte(`{"expense_id":"exp-9","status":"REJECTED"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusRejected, expenses.updates["exp-9"])

	err = service.Deliver(ctx, port.OutboxEntry{Key: "evt-2:x", Kind: "carrier-pigeon"})
	assert.Error(t, err)

	err = service.Deliver(ctx, port.OutboxEntry{Key: "evt-3:approver", Kind: KindNotification, Payload: []byte(`{}`)})
	assert.Error(t, err, "notifications need a recipient")
}

func TestNotificationService_Register(t *testing.T) {
	d := dispatcher.NewDispatcher()
	notifier := &mockNotifier{}
	service := NewNotificationService(notifier, nil, nil, &mockLogger{})
	service.Register(d)

	assert.Len(t, d.ListHandlers(event.TypeRequestResolved), 1)
	assert.Len(t, d.ListHandlers(event.TypeTaskAssigned), 1)

	require.NoError(t, d.Dispatch(context.Background(), resolvedEvent(entity.RequestStatusExpired)))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Expense approval EXPIRED", notifier.sent[0].Title)
}
