package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/idgen"
)

// unit collects what one engine operation produces inside its transaction.
// Events are published only after the transaction commits.
type unit struct {
	now    time.Time
	events []*event.Event
}

func newUnit(now time.Time) *unit {
	return &unit{now: now}
}

func (u *unit) emit(evt *event.Event) {
	evt.Timestamp = u.now
	u.events = append(u.events, evt)
}

// entry describes the history line written for a transition
type entry struct {
	action   entity.HistoryAction
	actorID  string
	taskID   string
	comments string
}

// record appends one history entry. An empty actor marks a system action.
func (e *engineImpl) record(ctx context.Context, u *unit, req *entity.ApprovalRequest, en entry, from, to entity.RequestStatus) error {
	actorType := entity.ActorUser
	if en.actorID == "" {
		actorType = entity.ActorSystem
	}
	h := &entity.ApprovalHistory{
		ID:         idgen.New(),
		RequestID:  req.ID,
		TaskID:     en.taskID,
		ActorID:    en.actorID,
		ActorType:  actorType,
		Action:     en.action,
		FromStatus: from,
		ToStatus:   to,
		Comments:   en.comments,
		CreatedAt:  u.now,
	}
	if err := e.history.Append(ctx, h); err != nil {
		return fmt.Errorf("failed to append %s history for request %s: %w", en.action, req.ID, err)
	}
	return nil
}

func decisionAction(d entity.Decision) entity.HistoryAction {
	switch d {
	case entity.DecisionRejected:
		return entity.ActionRejected
	case entity.DecisionReturned:
		return entity.ActionReturned
	default:
		return entity.ActionApproved
	}
}
