package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Tick implements Engine. Each request is handled in its own transaction;
// a failure on one request is reported and the others still run.
func (e *engineImpl) Tick(ctx context.Context, now time.Time) (changed []string, err error) {
	ctx, span := e.span(ctx, "Tick", attribute.String("now", now.UTC().Format(time.RFC3339)))
	defer func() { endSpan(span, err) }()

	now = now.UTC()
	due, err := e.requests.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due requests: %w", err)
	}
	overdue, err := e.tasks.ListOverdueRequestIDs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	var errs []error
	for _, id := range unionSorted(due, overdue) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		touched, err := e.tickRequest(ctx, id, now)
		if err != nil {
			e.logger.Error("Tick failed for request", "request_id", id, "error", err)
			errs = append(errs, fmt.Errorf("request %s: %w", id, err))
			continue
		}
		if touched {
			changed = append(changed, id)
		}
	}

	if len(changed) > 0 || len(errs) > 0 {
		e.logger.Info("Tick completed",
			"now", now,
			"changed", len(changed),
			"failed", len(errs))
	}
	return changed, errors.Join(errs...)
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var ids []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// tickRequest escalates the overdue tasks of one request and expires it when
// due. Everything is re-read under the request lock, so a second call with
// the same now finds nothing left to do.
func (e *engineImpl) tickRequest(ctx context.Context, requestID string, now time.Time) (bool, error) {
	unlock := e.locks.Lock(requestKey(requestID))
	defer unlock()

	u := newUnit(now)
	touched := false
	err := e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		req, err := e.requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != entity.RequestStatusPending {
			return nil
		}
		if e.requestTTL > 0 && isDue(req, now) {
			touched = true
			return e.expire(ctx, u, req)
		}

		tasks, err := e.tasks.ListByRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		existing := slotsOf(tasks)
		for _, t := range tasks {
			if req.Status != entity.RequestStatusPending {
				break
			}
			if !t.IsOverdue(now) {
				continue
			}
			touched = true
			if err := e.escalate(ctx, u, req, t, existing); err != nil {
				return err
			}
		}
		if req.Status != entity.RequestStatusPending {
			return nil
		}

		if touched {
			tasks, err = e.tasks.ListByRequest(ctx, req.ID)
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			if err := e.advance(ctx, u, req, tasks); err != nil {
				return err
			}
			if req.Status != entity.RequestStatusPending {
				return nil
			}
		}

		before := req.DueDate
		if err := e.syncDueDate(ctx, req); err != nil {
			return err
		}
		if isDue(req, now) {
			touched = true
			return e.expire(ctx, u, req)
		}
		if touched || !sameTime(before, req.DueDate) {
			req.UpdatedAt = now
			return e.requests.Update(ctx, req)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	e.publish(ctx, u)
	return touched, nil
}

// escalate expires an overdue task and hands its slot to the nominal
// approver's manager. A required task with nobody to escalate to expires the
// whole request.
func (e *engineImpl) escalate(ctx context.Context, u *unit, req *entity.ApprovalRequest, task *entity.ApprovalTask, existing slots) error {
	task.Status = entity.TaskStatusExpired
	task.UpdatedAt = u.now
	if err := e.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("failed to expire task %s: %w", task.ID, err)
	}

	nominal := task.NominalApprover()
	target, err := e.directory.ManagerOf(ctx, nominal)
	if err != nil {
		return fmt.Errorf("failed to resolve manager of %s: %w", nominal, err)
	}
	if target == nominal || target == task.ApproverID {
		target = ""
	}
	if target != "" {
		if holder := existing.get(target, task.Sequence); holder != nil && !holdsSeat(holder) {
			target = ""
		}
	}

	if target == "" {
		err := e.record(ctx, u, req, entry{
			action:   entity.ActionEscalated,
			taskID:   task.ID,
			comments: fmt.Sprintf("no escalation target for %s", nominal),
		}, req.Status, req.Status)
		if err != nil {
			return err
		}
		e.logger.Info("Task expired without escalation target",
			"request_id", req.ID,
			"task_id", task.ID,
			"required", task.IsRequired)
		if !task.IsRequired {
			return nil
		}
		return e.resolve(ctx, u, req, domainwf.TriggerExpire, entity.TaskStatusExpired, entry{
			action:   entity.ActionExpired,
			taskID:   task.ID,
			comments: "required task expired with no escalation target",
		})
	}

	err = e.record(ctx, u, req, entry{
		action:   entity.ActionEscalated,
		taskID:   task.ID,
		comments: fmt.Sprintf("escalated from %s to %s", task.ApproverID, target),
	}, req.Status, req.Status)
	if err != nil {
		return err
	}
	u.emit(taskEscalatedEvent(req, task, target))

	if existing.get(target, task.Sequence) != nil {
		return nil
	}
	created, err := e.createTask(ctx, u, req, existing, target, task.Sequence, task.IsRequired, task.EscalationTimeHours, task.ID)
	if err != nil {
		return err
	}
	if created != nil {
		e.logger.Info("Task escalated",
			"request_id", req.ID,
			"from_task", task.ID,
			"to_task", created.ID,
			"approver_id", created.ApproverID)
	}
	return nil
}

// holdsSeat reports whether an existing task of the escalation target
// already covers the expired task's slot
func holdsSeat(t *entity.ApprovalTask) bool {
	switch t.Status {
	case entity.TaskStatusPending:
		return true
	case entity.TaskStatusCompleted:
		return t.Decision == entity.DecisionApproved
	}
	return false
}

func (e *engineImpl) expire(ctx context.Context, u *unit, req *entity.ApprovalRequest) error {
	return e.resolve(ctx, u, req, domainwf.TriggerExpire, entity.TaskStatusExpired, entry{
		action:   entity.ActionExpired,
		comments: "request passed its due date",
	})
}

func isDue(req *entity.ApprovalRequest, now time.Time) bool {
	return req.DueDate != nil && !now.Before(*req.DueDate)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
