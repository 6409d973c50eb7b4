package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/rules"
)

// matchRule returns the first matching active rule of the expense's
// organization. Rules of other organizations are ignored.
func matchRule(expense entity.ExpenseSnapshot, orgRules []*entity.ApprovalRule) *entity.ApprovalRule {
	scoped := make([]*entity.ApprovalRule, 0, len(orgRules))
	for _, r := range orgRules {
		if r != nil && (r.OrgID == "" || r.OrgID == expense.OrgID) {
			scoped = append(scoped, r)
		}
	}
	return rules.Match(expense, scoped)
}

// buildPlan resolves the actions of the matched rule, or of the no-match
// policy when rule is nil, into concrete approver groups.
func (e *engineImpl) buildPlan(ctx context.Context, expense entity.ExpenseSnapshot, rule *entity.ApprovalRule) (entity.Plan, error) {
	var actions []entity.Action
	if rule != nil {
		actions = rule.Actions
	} else {
		switch e.noMatch {
		case NoMatchAutoApprove:
			return entity.Plan{AutoApprove: true, Priority: entity.PriorityNormal}, nil
		case NoMatchDefaultApprovers:
			actions = []entity.Action{{
				Type:                entity.ActionTypeRequireApproval,
				ApproverRoles:       e.defaultRoles,
				EscalationTimeHours: e.defaultHours,
			}}
		default:
			return entity.Plan{}, ErrNoRuleMatched
		}
	}

	var plan entity.Plan
	for _, a := range actions {
		if a.Priority.IsValid() && a.Priority.Rank() > plan.Priority.Rank() {
			plan.Priority = a.Priority
		}
	}
	if plan.Priority == "" {
		plan.Priority = entity.PriorityNormal
	}
	for _, a := range actions {
		if a.Type == entity.ActionTypeAutoApprove {
			plan.AutoApprove = true
			plan.Groups = nil
			return plan, nil
		}
	}

	for i, a := range actions {
		if a.Type != entity.ActionTypeRequireApproval {
			continue
		}
		approvers, err := e.resolveApprovers(ctx, expense.OrgID, a)
		if err != nil {
			return entity.Plan{}, err
		}
		if len(approvers) == 0 {
			if a.Optional {
				continue
			}
			return entity.Plan{}, apperror.Validation("action %d of %s resolves to no approvers", i+1, ruleLabel(rule))
		}
		seq := a.Sequence
		if seq <= 0 {
			seq = i + 1
		}
		plan.Groups = append(plan.Groups, entity.PlanGroup{
			Sequence:            seq,
			Approvers:           approvers,
			Required:            !a.Optional,
			EscalationTimeHours: a.EscalationTimeHours,
		})
	}
	if len(plan.Groups) == 0 {
		return entity.Plan{}, apperror.Validation("%s produces no approval tasks", ruleLabel(rule))
	}
	if !plan.HasRequired() {
		return entity.Plan{}, apperror.Validation("%s has no required approvers", ruleLabel(rule))
	}
	return plan, nil
}

// resolveApprovers unions the users holding the action's roles with its
// explicit users, keeping first-seen order.
func (e *engineImpl) resolveApprovers(ctx context.Context, orgID string, a entity.Action) ([]string, error) {
	seen := make(map[string]bool)
	var approvers []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			approvers = append(approvers, id)
		}
	}

	for _, role := range a.ApproverRoles {
		users, err := e.directory.UsersWithRole(ctx, orgID, role)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %s: %w", role, err)
		}
		for _, id := range users {
			add(id)
		}
	}
	for _, id := range a.ApproverUsers {
		add(id)
	}
	return approvers, nil
}

func ruleLabel(rule *entity.ApprovalRule) string {
	if rule == nil {
		return "the default approver policy"
	}
	return fmt.Sprintf("rule %s", rule.ID)
}

// seat is one approver slot of a sequence after merging overlapping groups
type seat struct {
	approverID string
	required   bool
	hours      int
}

// seatsAt merges the groups of one sequence: an approver named by several
// groups is required if any group requires them and escalates on the
// shortest positive budget.
func seatsAt(plan entity.Plan, sequence int) []seat {
	index := make(map[string]int)
	var seats []seat
	for _, g := range plan.GroupsAt(sequence) {
		for _, id := range g.Approvers {
			i, ok := index[id]
			if !ok {
				index[id] = len(seats)
				seats = append(seats, seat{approverID: id, required: g.Required, hours: g.EscalationTimeHours})
				continue
			}
			s := &seats[i]
			s.required = s.required || g.Required
			if g.EscalationTimeHours > 0 && (s.hours == 0 || g.EscalationTimeHours < s.hours) {
				s.hours = g.EscalationTimeHours
			}
		}
	}
	return seats
}

func requiresApproval(plan entity.Plan, sequence int) bool {
	for _, g := range plan.GroupsAt(sequence) {
		if g.Required {
			return true
		}
	}
	return false
}

func validateExpense(expense entity.ExpenseSnapshot) error {
	switch {
	case expense.ID == "":
		return apperror.Validation("expense id is required")
	case expense.OrgID == "":
		return apperror.Validation("expense org_id is required")
	case expense.SubmitterID == "":
		return apperror.Validation("expense submitter_id is required")
	case expense.Currency == "":
		return apperror.Validation("expense currency is required")
	case expense.Amount.IsNegative():
		return apperror.Validation("expense amount must not be negative")
	}
	return nil
}
