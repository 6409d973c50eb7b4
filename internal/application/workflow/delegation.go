package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/delegation"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// resolveApprover returns the user who acts for nominalID on req at now.
// delegatedFrom is set to nominalID when a delegate was substituted.
func (e *engineImpl) resolveApprover(ctx context.Context, nominalID string, req *entity.ApprovalRequest, now time.Time) (approverID, delegatedFrom string, err error) {
	if e.delegates == nil {
		return nominalID, "", nil
	}
	delegates, err := e.delegates.ListActiveByDelegator(ctx, nominalID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load delegates of %s: %w", nominalID, err)
	}

	scoped := delegates[:0:0]
	for _, d := range delegates {
		if d.OrgID == "" || d.OrgID == req.OrgID {
			scoped = append(scoped, d)
		}
	}

	d := delegation.Select(scoped, nominalID, now, req.TotalAmount, req.CategoryID)
	if d == nil {
		return nominalID, "", nil
	}
	return d.DelegateID, nominalID, nil
}
