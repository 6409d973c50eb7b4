package workflow

// Trigger is an event that moves a request between states
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerCancel  Trigger = "CANCEL"
	TriggerReturn  Trigger = "RETURN"
	TriggerExpire  Trigger = "EXPIRE"
)

func (t Trigger) String() string {
	return string(t)
}
