package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalRequest is the approval case for one expense submission
type ApprovalRequest struct {
	ID              string          `json:"id"`
	OrgID           string          `json:"org_id"`
	ExpenseID       string          `json:"expense_id"`
	SubmitterID     string          `json:"submitter_id"`
	RuleID          string          `json:"rule_id,omitempty"`
	Status          RequestStatus   `json:"status"`
	Priority        Priority        `json:"priority"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	CategoryID      string          `json:"category_id,omitempty"`
	Plan            Plan            `json:"plan"`
	CurrentSequence int             `json:"current_sequence"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Plan is the resolved approver plan of a matched rule. Only the groups of
// the current sequence have materialized tasks; later groups stay dormant in
// the plan until released.
type Plan struct {
	AutoApprove bool        `json:"auto_approve,omitempty"`
	Priority    Priority    `json:"priority"`
	Groups      []PlanGroup `json:"groups,omitempty"`
}

// PlanGroup is a set of approvers acting in parallel at one sequence
type PlanGroup struct {
	Sequence            int      `json:"sequence"`
	Approvers           []string `json:"approvers"`
	Required            bool     `json:"required"`
	EscalationTimeHours int      `json:"escalation_time_hours,omitempty"`
}

// GroupsAt returns the groups scheduled at the given sequence
func (p Plan) GroupsAt(sequence int) []PlanGroup {
	var groups []PlanGroup
	for _, g := range p.Groups {
		if g.Sequence == sequence {
			groups = append(groups, g)
		}
	}
	return groups
}

// FirstSequence returns the lowest sequence in the plan, or 0 for an empty plan
func (p Plan) FirstSequence() int {
	first := 0
	for _, g := range p.Groups {
		if first == 0 || g.Sequence < first {
			first = g.Sequence
		}
	}
	return first
}

// NextSequence returns the smallest sequence greater than current
func (p Plan) NextSequence(current int) (int, bool) {
	next, found := 0, false
	for _, g := range p.Groups {
		if g.Sequence > current && (!found || g.Sequence < next) {
			next, found = g.Sequence, true
		}
	}
	return next, found
}

// HasRequired reports whether any group must approve
func (p Plan) HasRequired() bool {
	for _, g := range p.Groups {
		if g.Required {
			return true
		}
	}
	return false
}
