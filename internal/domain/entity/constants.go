package entity

// RequestStatus is the lifecycle status of an ApprovalRequest
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
	RequestStatusExpired   RequestStatus = "EXPIRED"
)

// IsTerminal returns true for statuses that allow no further transitions
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled, RequestStatusExpired:
		return true
	}
	return false
}

// TaskStatus is the status of an ApprovalTask
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusSkipped   TaskStatus = "SKIPPED"
	TaskStatusExpired   TaskStatus = "EXPIRED"
)

// Decision is an approver's verdict on a task
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionReturned Decision = "RETURNED"
)

// IsValid reports whether d is a known decision
func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionReturned:
		return true
	}
	return false
}

// HistoryAction is the action recorded in an ApprovalHistory entry
type HistoryAction string

const (
	ActionSubmitted HistoryAction = "SUBMITTED"
	ActionApproved  HistoryAction = "APPROVED"
	ActionRejected  HistoryAction = "REJECTED"
	ActionReturned  HistoryAction = "RETURNED"
	ActionCancelled HistoryAction = "CANCELLED"
	ActionEscalated HistoryAction = "ESCALATED"
	ActionDelegated HistoryAction = "DELEGATED"
	ActionExpired   HistoryAction = "EXPIRED"
)

// ActorType distinguishes user-driven history entries from system ones
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorSystem ActorType = "SYSTEM"
)

// Priority of an approval request
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRank = map[Priority]int{
	PriorityLow:    1,
	PriorityNormal: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank orders priorities, LOW lowest. Unknown priorities rank 0.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// AllRequestStatuses lists request statuses in display order
var AllRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusApproved,
	RequestStatusRejected,
	RequestStatusCancelled,
	RequestStatusExpired,
}

// AllPriorities lists priorities from lowest to highest
var AllPriorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
