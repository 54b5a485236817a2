package order

import "fmt"

// StateMachine validates and executes order state transitions.
// Completed, failed and cancelled are terminal; there is no reopening path.
type StateMachine struct {
	transitions map[OrderStatus][]OrderStatus
}

// NewStateMachine creates a new order state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[OrderStatus][]OrderStatus{
			OrderStatusPending:    {OrderStatusProcessing, OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
			OrderStatusProcessing: {OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
			OrderStatusCompleted:  {},
			OrderStatusFailed:     {},
			OrderStatusCancelled:  {},
		},
	}
}

// CanTransition checks if a transition from `from` to `to` is valid.
func (sm *StateMachine) CanTransition(from, to OrderStatus) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition an order to a new state.
func (sm *StateMachine) Transition(o *Order, to OrderStatus) error {
	if o.Status == to {
		return nil
	}
	if !sm.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// AllowedTransitions returns all allowed transitions from the current state.
func (sm *StateMachine) AllowedTransitions(from OrderStatus) []OrderStatus {
	allowed, ok := sm.transitions[from]
	if !ok {
		return []OrderStatus{}
	}
	result := make([]OrderStatus, len(allowed))
	copy(result, allowed)
	return result
}
