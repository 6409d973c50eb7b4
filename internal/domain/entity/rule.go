package entity

import (
	"encoding/json"
	"time"
)

// ApprovalRule is an organization-scoped policy rule. Lower Priority evaluates
// first; MatchCount and LastMatchedAt are bookkeeping only and never read by
// the matcher.
type ApprovalRule struct {
	ID            string      `json:"id"`
	OrgID         string      `json:"org_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Priority      int         `json:"priority"`
	IsActive      bool        `json:"is_active"`
	Conditions    []Condition `json:"conditions"`
	Actions       []Action    `json:"actions"`
	MatchCount    int64       `json:"match_count"`
	LastMatchedAt *time.Time  `json:"last_matched_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ActionType is the kind of a rule action
type ActionType string

const (
	ActionTypeRequireApproval ActionType = "require_approval"
	ActionTypeAutoApprove     ActionType = "auto_approve"
)

// IsValid reports whether t is a known action type
func (t ActionType) IsValid() bool {
	return t == ActionTypeRequireApproval || t == ActionTypeAutoApprove
}

// Action is one step of a rule's outcome. Actions without an explicit
// Sequence take their 1-based position in the action list.
type Action struct {
	Type                ActionType `json:"type"`
	ApproverRoles       []string   `json:"approver_roles,omitempty"`
	ApproverUsers       []string   `json:"approver_users,omitempty"`
	Sequence            int        `json:"sequence,omitempty"`
	EscalationTimeHours int        `json:"escalation_time_hours,omitempty"`
	Priority            Priority   `json:"priority,omitempty"`
	Optional            bool       `json:"optional,omitempty"`
}

// ConditionsJSON encodes the rule's conditions for storage
func (r *ApprovalRule) ConditionsJSON() (string, error) {
	conditions := r.Conditions
	if conditions == nil {
		conditions = []Condition{}
	}
	b, err := json.Marshal(conditions)
	return string(b), err
}

// ActionsJSON encodes the rule's actions for storage
func (r *ApprovalRule) ActionsJSON() (string, error) {
	actions := r.Actions
	if actions == nil {
		actions = []Action{}
	}
	b, err := json.Marshal(actions)
	return string(b), err
}
