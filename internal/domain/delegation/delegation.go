// Package delegation decides which delegate, if any, acts for an approver.
package delegation

import (
	"sort"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Applies reports whether the delegation covers an expense of the given
// amount and category at time now.
func Applies(d *entity.ApprovalDelegate, now time.Time, amount decimal.Decimal, categoryID string) bool {
	if d == nil || !d.IsActive || d.DelegateID == "" {
		return false
	}
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return false
	}
	if d.EndDate != nil && !now.Before(*d.EndDate) {
		return false
	}
	if d.AmountLimit != nil && amount.GreaterThan(*d.AmountLimit) {
		return false
	}
	if len(d.CategoryIDs) > 0 {
		for _, id := range d.CategoryIDs {
			if id == categoryID {
				return true
			}
		}
		return false
	}
	return true
}

// Select picks the delegate for the approver. When several delegations
// apply, the most recently created one wins. Delegation is not transitive:
// the returned delegate is used as-is.
func Select(delegates []*entity.ApprovalDelegate, approverID string, now time.Time, amount decimal.Decimal, categoryID string) *entity.ApprovalDelegate {
	var candidates []*entity.ApprovalDelegate
	for _, d := range delegates {
		if d == nil || d.DelegatorID != approverID || d.DelegateID == approverID {
			continue
		}
		if Applies(d, now, amount, categoryID) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0]
}

// Validate checks a delegation before it is stored
func Validate(d *entity.ApprovalDelegate) []string {
	var problems []string
	if d.OrgID == "" {
		problems = append(problems, "org_id is required")
	}
	if d.DelegatorID == "" {
		problems = append(problems, "delegator_id is required")
	}
	if d.DelegateID == "" {
		problems = append(problems, "delegate_id is required")
	}
	if d.DelegatorID != "" && d.DelegatorID == d.DelegateID {
		problems = append(problems, "a user cannot delegate to themselves")
	}
	if d.StartDate != nil && d.EndDate != nil && !d.EndDate.After(*d.StartDate) {
		problems = append(problems, "end_date must be after start_date")
	}
	if d.AmountLimit != nil && d.AmountLimit.IsNegative() {
		problems = append(problems, "amount_limit must not be negative")
	}
	return problems
}
