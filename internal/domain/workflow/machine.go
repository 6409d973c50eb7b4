package workflow

import "context"

// Transition records a state change produced by Fire
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// StateMachine tracks the state of one request and validates transitions
type StateMachine interface {
	State() State

	// CanFire reports whether any transition is configured for the trigger.
	// Guards are not evaluated.
	CanFire(trigger Trigger) bool

	// Fire executes the trigger and returns the transition taken
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns the configured triggers in lexical order
	PermittedTriggers() []Trigger
}
