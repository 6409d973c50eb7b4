package rulefile

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// UserStore receives directory entries
type UserStore interface {
	Upsert(ctx context.Context, u *entity.OrgUser) error
}

// RuleStore creates and lists rules
type RuleStore interface {
	Create(ctx context.Context, rule *entity.ApprovalRule) (*entity.ApprovalRule, error)
	List(ctx context.Context, orgID string, activeOnly bool) ([]*entity.ApprovalRule, error)
}

// DelegateStore creates and lists delegations
type DelegateStore interface {
	Create(ctx context.Context, d *entity.ApprovalDelegate) (*entity.ApprovalDelegate, error)
	ListForUser(ctx context.Context, userID string) ([]*entity.ApprovalDelegate, error)
}

// Summary counts what a seed run changed
type Summary struct {
	Users            int
	RulesCreated     int
	RulesSkipped     int
	DelegatesCreated int
	DelegatesSkipped int
}

// Seed writes the file's contents. Users are upserted. A rule is skipped
// when the organization already has a rule of the same name, and a delegate
// when an active delegation between the same two users exists, so seeding
// twice changes nothing.
func Seed(ctx context.Context, f *File, users UserStore, ruleStore RuleStore, delegates DelegateStore) (Summary, error) {
	var s Summary

	for _, u := range f.Users {
		if err := users.Upsert(ctx, u); err != nil {
			return s, fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
		s.Users++
	}

	existing, err := ruleStore.List(ctx, f.OrgID, false)
	if err != nil {
		return s, fmt.Errorf("list rules: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}
	for _, r := range f.Rules {
		if names[r.Name] {
			s.RulesSkipped++
			continue
		}
		if _, err := ruleStore.Create(ctx, r); err != nil {
			return s, fmt.Errorf("create rule %q: %w", r.Name, err)
		}
		names[r.Name] = true
		s.RulesCreated++
	}

	for _, d := range f.Delegates {
		current, err := delegates.ListForUser(ctx, d.DelegatorID)
		if err != nil {
			return s, fmt.Errorf("list delegates of %s: %w", d.DelegatorID, err)
		}
		if hasActive(current, d) {
			s.DelegatesSkipped++
			continue
		}
		if _, err := delegates.Create(ctx, d); err != nil {
			return s, fmt.Errorf("create delegate %s->%s: %w", d.DelegatorID, d.DelegateID, err)
		}
		s.DelegatesCreated++
	}
	return s, nil
}

func hasActive(current []*entity.ApprovalDelegate, d *entity.ApprovalDelegate) bool {
	for _, c := range current {
		if c.IsActive && c.DelegatorID == d.DelegatorID && c.DelegateID == d.DelegateID {
			return true
		}
	}
	return false
}
