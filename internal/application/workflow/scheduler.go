package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/idgen"
)

type slotKey struct {
	approverID string
	sequence   int
}

// slots indexes the tasks of a request by (approver, sequence)
type slots map[slotKey]*entity.ApprovalTask

func slotsOf(tasks []*entity.ApprovalTask) slots {
	s := make(slots, len(tasks))
	for _, t := range tasks {
		s[slotKey{t.ApproverID, t.Sequence}] = t
	}
	return s
}

func (s slots) get(approverID string, sequence int) *entity.ApprovalTask {
	return s[slotKey{approverID, sequence}]
}

// progress works out which dormant sequences become active given the
// current tasks, and whether nothing is left to approve. It returns nothing
// while a required task of the active sequence is still pending.
func progress(req *entity.ApprovalRequest, tasks []*entity.ApprovalTask) (release []int, done bool) {
	for _, t := range tasks {
		if t.IsRequired && t.Status == entity.TaskStatusPending && t.Sequence <= req.CurrentSequence {
			return nil, false
		}
	}

	seq := req.CurrentSequence
	for {
		next, ok := req.Plan.NextSequence(seq)
		if !ok {
			return release, true
		}
		release = append(release, next)
		if requiresApproval(req.Plan, next) {
			return release, false
		}
		seq = next
	}
}

// release materializes the tasks of the given sequences and moves the
// request's active sequence to the last of them.
func (e *engineImpl) release(ctx context.Context, u *unit, req *entity.ApprovalRequest, existing slots, sequences []int) error {
	for _, seq := range sequences {
		for _, s := range seatsAt(req.Plan, seq) {
			if _, err := e.createTask(ctx, u, req, existing, s.approverID, seq, s.required, s.hours, ""); err != nil {
				return err
			}
		}
		req.CurrentSequence = seq
	}
	return nil
}

// createTask creates a pending task for the nominal approver, substituting
// the current delegate when one applies. It returns nil when the slot is
// already taken.
func (e *engineImpl) createTask(ctx context.Context, u *unit, req *entity.ApprovalRequest, existing slots, nominalID string, sequence int, required bool, hours int, escalatedFrom string) (*entity.ApprovalTask, error) {
	approverID, delegatedFrom, err := e.resolveApprover(ctx, nominalID, req, u.now)
	if err != nil {
		return nil, err
	}
	if delegatedFrom != "" && existing.get(approverID, sequence) != nil {
		approverID, delegatedFrom = nominalID, ""
	}
	if existing.get(approverID, sequence) != nil {
		return nil, nil
	}

	task := &entity.ApprovalTask{
		ID:                  idgen.New(),
		RequestID:           req.ID,
		ApproverID:          approverID,
		Sequence:            sequence,
		Status:              entity.TaskStatusPending,
		IsRequired:          required,
		DelegatedFrom:       delegatedFrom,
		EscalatedFrom:       escalatedFrom,
		EscalationTimeHours: hours,
		CreatedAt:           u.now,
		UpdatedAt:           u.now,
	}
	if hours > 0 {
		due := u.now.Add(time.Duration(hours) * time.Hour)
		task.DueDate = &due
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task for %s: %w", approverID, err)
	}
	existing[slotKey{approverID, sequence}] = task

	if delegatedFrom != "" {
		err := e.record(ctx, u, req, entry{
			action:   entity.ActionDelegated,
			taskID:   task.ID,
			comments: fmt.Sprintf("delegated from %s to %s", delegatedFrom, approverID),
		}, req.Status, req.Status)
		if err != nil {
			return nil, err
		}
	}
	u.emit(taskAssignedEvent(req, task))
	return task, nil
}

// syncDueDate keeps the request due date on the earliest pending task when
// no request ttl is configured
func (e *engineImpl) syncDueDate(ctx context.Context, req *entity.ApprovalRequest) error {
	if e.requestTTL > 0 {
		return nil
	}
	tasks, err := e.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	req.DueDate = earliestDue(tasks)
	return nil
}

func earliestDue(tasks []*entity.ApprovalTask) *time.Time {
	var due *time.Time
	for _, t := range tasks {
		if t.Status != entity.TaskStatusPending || t.DueDate == nil {
			continue
		}
		if due == nil || t.DueDate.Before(*due) {
			d := *t.DueDate
			due = &d
		}
	}
	return due
}

// resolve fires a terminal trigger on the request, settles its pending
// tasks with pendingTo and writes the single history entry of the
// transition.
func (e *engineImpl) resolve(ctx context.Context, u *unit, req *entity.ApprovalRequest, trigger domainwf.Trigger, pendingTo entity.TaskStatus, en entry) error {
	sm := domainwf.BuildRequestStateMachine(req.Status)
	tr, err := sm.Fire(ctx, trigger)
	if err != nil {
		return apperror.InvalidTransition("request", req.ID, string(req.Status), err.Error())
	}

	tasks, err := e.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status != entity.TaskStatusPending {
			continue
		}
		t.Status = pendingTo
		t.UpdatedAt = u.now
		if err := e.tasks.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to update task %s: %w", t.ID, err)
		}
	}

	from := req.Status
	resolvedAt := u.now
	req.Status = tr.To.Status()
	req.ResolvedAt = &resolvedAt
	req.UpdatedAt = u.now
	if err := e.requests.Update(ctx, req); err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if err := e.record(ctx, u, req, en, from, req.Status); err != nil {
		return err
	}

	u.emitTerminal(req, from, en.actorID)
	e.logger.Info("Request transitioned",
		"request_id", req.ID,
		"from", from,
		"to", req.Status,
		"action", en.action)
	return nil
}

// advance releases whatever the current tasks allow, approving the request
// when no required work is left. The caller has already written the history
// of the event that triggered it.
func (e *engineImpl) advance(ctx context.Context, u *unit, req *entity.ApprovalRequest, tasks []*entity.ApprovalTask) error {
	release, done := progress(req, tasks)
	if done {
		return e.resolve(ctx, u, req, domainwf.TriggerApprove, entity.TaskStatusSkipped, entry{
			action:   entity.ActionApproved,
			comments: "all required approvals complete",
		})
	}
	if len(release) == 0 {
		return nil
	}
	if err := e.release(ctx, u, req, slotsOf(tasks), release); err != nil {
		return err
	}
	if err := e.syncDueDate(ctx, req); err != nil {
		return err
	}
	req.UpdatedAt = u.now
	return e.requests.Update(ctx, req)
}
