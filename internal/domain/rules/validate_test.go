package rules

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *entity.ApprovalRule)
		wantErr string
	}{
		{"valid", func(r *entity.ApprovalRule) {}, ""},
		{"missing name", func(r *entity.ApprovalRule) { r.Name = "" }, "name is required"},
		{"missing org", func(r *entity.ApprovalRule) { r.OrgID = "" }, "org_id is required"},
		{"no actions", func(r *entity.ApprovalRule) { r.Actions = nil }, "at least one action"},
		{"unknown field", func(r *entity.ApprovalRule) {
			r.Conditions = []entity.Condition{{Field: "department", Operator: entity.OpEQ, Value: entity.TextValue{Value: "x"}}}
		}, "unknown field"},
		{"contains on amount", func(r *entity.ApprovalRule) {
			r.Conditions = []entity.Condition{{Field: entity.FieldAmount, Operator: entity.OpContains, Value: entity.TextValue{Value: "5"}}}
		}, "text fields only"},
		{"missing value", func(r *entity.ApprovalRule) {
			r.Conditions = []entity.Condition{{Field: entity.FieldAmount, Operator: entity.OpGT}}
		}, "value missing"},
		{"approval without approvers", func(r *entity.ApprovalRule) {
			r.Actions = []entity.Action{{Type: entity.ActionTypeRequireApproval}}
		}, "approver_roles or approver_users"},
		{"unknown action type", func(r *entity.ApprovalRule) {
			r.Actions = []entity.Action{{Type: "notify", ApproverUsers: []string{"u"}}}
		}, "unknown type"},
		{"auto approve mixed with approvals", func(r *entity.ApprovalRule) {
			r.Actions = append(r.Actions, entity.Action{Type: entity.ActionTypeAutoApprove})
		}, "only action"},
		{"bad priority", func(r *entity.ApprovalRule) { r.Actions[0].Priority = "CRITICAL" }, "unknown priority"},
		{"only optional approvals", func(r *entity.ApprovalRule) { r.Actions[0].Optional = true }, "must not be optional"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := managerRule("r", 1, time.Now())
			tt.mutate(r)

			err := Validate(r)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Validate() error kind = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
