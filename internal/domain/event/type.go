package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted     Type = "request.submitted"
	TypeRequestResolved      Type = "request.resolved"
	TypeExpenseStatusChanged Type = "expense.status_changed"
	TypeTaskAssigned         Type = "task.assigned"
	TypeTaskEscalated        Type = "task.escalated"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeRequestResolved,
		TypeExpenseStatusChanged,
		TypeTaskAssigned,
		TypeTaskEscalated:
		return true
	default:
		return false
	}
}
