package entity

import "time"

// ApprovalTask is one approver's unit of work within a request.
// DelegatedFrom holds the nominal approver id when the task was delegated;
// EscalatedFrom holds the id of the expired task this one replaces.
type ApprovalTask struct {
	ID                  string     `json:"id"`
	RequestID           string     `json:"request_id"`
	ApproverID          string     `json:"approver_id"`
	Sequence            int        `json:"sequence"`
	Status              TaskStatus `json:"status"`
	Decision            Decision   `json:"decision,omitempty"`
	Comments            string     `json:"comments,omitempty"`
	IsRequired          bool       `json:"is_required"`
	DelegatedFrom       string     `json:"delegated_from,omitempty"`
	EscalatedFrom       string     `json:"escalated_from,omitempty"`
	EscalationTimeHours int        `json:"escalation_time_hours,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CompletedBy         string     `json:"completed_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NominalApprover returns the approver the plan originally named
func (t *ApprovalTask) NominalApprover() string {
	if t.DelegatedFrom != "" {
		return t.DelegatedFrom
	}
	return t.ApproverID
}

// IsOverdue reports whether a pending task has passed its due date
func (t *ApprovalTask) IsOverdue(now time.Time) bool {
	return t.Status == TaskStatusPending && t.DueDate != nil && !now.Before(*t.DueDate)
}
