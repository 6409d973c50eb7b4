package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func TestSeatsAt_MergesOverlappingGroups(t *testing.T) {
	plan := entity.Plan{Groups: []entity.PlanGroup{
		{Sequence: 1, Approvers: []string{"ann", "bob"}, Required: false, EscalationTimeHours: 48},
		{Sequence: 1, Approvers: []string{"bob"}, Required: true, EscalationTimeHours: 12},
		{Sequence: 2, Approvers: []string{"cat"}, Required: true},
	}}

	seats := seatsAt(plan, 1)
	assert.Equal(t, []seat{
		{approverID: "ann", required: false, hours: 48},
		{approverID: "bob", required: true, hours: 12},
	}, seats)
	assert.Len(t, seatsAt(plan, 2), 1)
	assert.Empty(t, seatsAt(plan, 3))
}

func TestProgress(t *testing.T) {
	plan := entity.Plan{Groups: []entity.PlanGroup{
		{Sequence: 1, Approvers: []string{"ann"}, Required: true},
		{Sequence: 2, Approvers: []string{"bob"}, Required: false},
		{Sequence: 3, Approvers: []string{"cat"}, Required: true},
	}}

	tests := []struct {
		name        string
		current     int
		tasks       []*entity.ApprovalTask
		wantRelease []int
		wantDone    bool
	}{
		{
			name:        "fresh request releases first sequence",
			current:     0,
			wantRelease: []int{1},
		},
		{
			name:    "waits on pending required task",
			current: 1,
			tasks: []*entity.ApprovalTask{
				{Sequence: 1, IsRequired: true, Status: entity.TaskStatusPending},
			},
		},
		{
			name:    "optional-only sequence is passed through",
			current: 1,
			tasks: []*entity.ApprovalTask{
				{Sequence: 1, IsRequired: true, Status: entity.TaskStatusCompleted},
			},
			wantRelease: []int{2, 3},
		},
		{
			name:    "last sequence done",
			current: 3,
			tasks: []*entity.ApprovalTask{
				{Sequence: 2, IsRequired: false, Status: entity.TaskStatusPending},
				{Sequence: 3, IsRequired: true, Status: entity.TaskStatusCompleted},
			},
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &entity.ApprovalRequest{Plan: plan, CurrentSequence: tt.current}
			release, done := progress(req, tt.tasks)
			assert.Equal(t, tt.wantRelease, release)
			assert.Equal(t, tt.wantDone, done)
		})
	}
}
