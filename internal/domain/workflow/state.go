package workflow

import "github.com/garyjia/expense-approval/internal/domain/entity"

// State is a node of the approval request lifecycle
type State string

const (
	StatePending   State = State(entity.RequestStatusPending)
	StateApproved  State = State(entity.RequestStatusApproved)
	StateRejected  State = State(entity.RequestStatusRejected)
	StateCancelled State = State(entity.RequestStatusCancelled)
	StateExpired   State = State(entity.RequestStatusExpired)
)

// IsTerminal reports whether no trigger can leave the state
func (s State) IsTerminal() bool {
	return s.IsValid() && s != StatePending
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Status converts the state to the persisted request status
func (s State) Status() entity.RequestStatus {
	return entity.RequestStatus(s)
}

// StateOf converts a persisted request status to a state
func StateOf(status entity.RequestStatus) State {
	return State(status)
}
