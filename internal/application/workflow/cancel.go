package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Cancel implements Engine
func (e *engineImpl) Cancel(ctx context.Context, requestID, actingUserID string) (req *entity.ApprovalRequest, err error) {
	ctx, span := e.span(ctx, "Cancel", attribute.String("request.id", requestID))
	defer func() { endSpan(span, err) }()

	if requestID == "" {
		return nil, apperror.Validation("request id is required")
	}
	if actingUserID == "" {
		return nil, apperror.Validation("acting user is required")
	}

	unlock := e.locks.Lock(requestKey(requestID))
	defer unlock()

	u := newUnit(e.now())
	err = e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		req, err = e.requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != entity.RequestStatusPending {
			return apperror.InvalidTransition("request", req.ID, string(req.Status), "only pending requests can be cancelled")
		}
		if req.SubmitterID != actingUserID {
			role, err := e.directory.RoleOf(ctx, req.OrgID, actingUserID)
			if err != nil {
				return fmt.Errorf("failed to resolve role of %s: %w", actingUserID, err)
			}
			if e.adminRole == "" || role != e.adminRole {
				return apperror.InvalidTransition("request", req.ID, string(req.Status),
					fmt.Sprintf("user %s may not cancel this request", actingUserID))
			}
		}

		return e.resolve(ctx, u, req, domainwf.TriggerCancel, entity.TaskStatusSkipped, entry{
			action:  entity.ActionCancelled,
			actorID: actingUserID,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, u)
	return req, nil
}
