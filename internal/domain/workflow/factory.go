package workflow

import "github.com/garyjia/expense-approval/internal/domain/entity"

var requestLifecycle = func() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerReturn, StateCancelled).
		Permit(TriggerExpire, StateExpired)
	b.Configure(StateApproved)
	b.Configure(StateRejected)
	b.Configure(StateCancelled)
	b.Configure(StateExpired)
	return b
}()

// BuildRequestStateMachine returns a machine positioned at the request's current status.
// Only PENDING has outgoing transitions.
func BuildRequestStateMachine(status entity.RequestStatus) StateMachine {
	return requestLifecycle.Build(StateOf(status))
}
