package rules

import (
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Validate checks a rule's shape and returns a ValidationError listing every
// problem found.
func Validate(r *entity.ApprovalRule) error {
	if r == nil {
		return apperror.Validation("rule is required")
	}

	var problems []string
	if strings.TrimSpace(r.OrgID) == "" {
		problems = append(problems, "org_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if r.Priority < 0 {
		problems = append(problems, "priority must not be negative")
	}

	for i, c := range r.Conditions {
		problems = append(problems, conditionProblems(i, c)...)
	}

	if len(r.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	autoApprove, required := false, false
	for i, a := range r.Actions {
		problems = append(problems, actionProblems(i, a)...)
		switch {
		case a.Type == entity.ActionTypeAutoApprove:
			autoApprove = true
		case a.Type == entity.ActionTypeRequireApproval && !a.Optional:
			required = true
		}
	}
	if autoApprove && len(r.Actions) > 1 {
		problems = append(problems, "auto_approve must be the only action of a rule")
	}
	if !autoApprove && !required && len(r.Actions) > 0 {
		problems = append(problems, "at least one require_approval action must not be optional")
	}

	if len(problems) > 0 {
		return apperror.Validation("invalid rule: %s", strings.Join(problems, "; "))
	}
	return nil
}

func conditionProblems(i int, c entity.Condition) []string {
	var problems []string
	prefix := fmt.Sprintf("conditions[%d]", i)

	kind := c.Field.Kind()
	if kind == entity.KindUnknown {
		problems = append(problems, fmt.Sprintf("%s: unknown field %q", prefix, c.Field))
	}
	if !c.Operator.IsValid() {
		problems = append(problems, fmt.Sprintf("%s: unknown operator %q", prefix, c.Operator))
		return problems
	}
	if kind == entity.KindUnknown {
		return problems
	}

	switch c.Operator {
	case entity.OpContains, entity.OpStartsWith:
		if kind != entity.KindText {
			problems = append(problems, fmt.Sprintf("%s: %s applies to text fields only", prefix, c.Operator))
		}
	case entity.OpGT, entity.OpGTE, entity.OpLT, entity.OpLTE:
		if kind == entity.KindText {
			problems = append(problems, fmt.Sprintf("%s: %s is not defined for text field %s", prefix, c.Operator, c.Field))
		}
	case entity.OpIn, entity.OpNotIn:
		if kind == entity.KindDate {
			problems = append(problems, fmt.Sprintf("%s: %s is not defined for date fields", prefix, c.Operator))
		}
	}

	if c.Value == nil {
		problems = append(problems, fmt.Sprintf("%s: value missing or not valid for %s", prefix, c.Field))
	}
	return problems
}

func actionProblems(i int, a entity.Action) []string {
	var problems []string
	prefix := fmt.Sprintf("actions[%d]", i)

	if !a.Type.IsValid() {
		problems = append(problems, fmt.Sprintf("%s: unknown type %q", prefix, a.Type))
	}
	if a.Type == entity.ActionTypeRequireApproval && len(a.ApproverRoles) == 0 && len(a.ApproverUsers) == 0 {
		problems = append(problems, fmt.Sprintf("%s: approver_roles or approver_users is required", prefix))
	}
	if a.Sequence < 0 {
		problems = append(problems, fmt.Sprintf("%s: sequence must not be negative", prefix))
	}
	if a.EscalationTimeHours < 0 {
		problems = append(problems, fmt.Sprintf("%s: escalation_time_hours must not be negative", prefix))
	}
	if a.Priority != "" && !a.Priority.IsValid() {
		problems = append(problems, fmt.Sprintf("%s: unknown priority %q", prefix, a.Priority))
	}
	return problems
}
