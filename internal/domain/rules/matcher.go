package rules

import (
	"sort"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Sort orders rules by priority ascending, then creation time, then id.
// The input slice is not modified.
func Sort(rules []*entity.ApprovalRule) []*entity.ApprovalRule {
	sorted := make([]*entity.ApprovalRule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted
}

// Match returns the first active rule, in Sort order, whose conditions all
// hold for the expense, or nil when none does.
func Match(e entity.ExpenseSnapshot, rules []*entity.ApprovalRule) *entity.ApprovalRule {
	for _, r := range Sort(rules) {
		if !r.IsActive {
			continue
		}
		if MatchesAll(r.Conditions, e) {
			return r
		}
	}
	return nil
}
