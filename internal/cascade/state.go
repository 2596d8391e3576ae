package cascade

import (
	"errors"
	"fmt"
)

// State is a step of a single deletion attempt.
type State string

// Attempt states.
const (
	StateIdle             State = "idle"
	StatePreviewRequested State = "preview_requested"
	StatePreviewReady     State = "preview_ready"
	StateConfirmed        State = "confirmed"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// ErrInvalidTransition is wrapped when an attempt is driven out of order.
var ErrInvalidTransition = errors.New("invalid deletion attempt transition")

var transitions = map[State][]State{
	StateIdle:             {StatePreviewRequested, StateCancelled},
	StatePreviewRequested: {StatePreviewReady, StateIdle, StateCancelled},
	StatePreviewReady:     {StateConfirmed, StatePreviewRequested, StateCancelled},
	StateConfirmed:        {StateExecuting, StateCancelled},
	StateExecuting:        {StateCompleted, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s State) next(to State) error {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}
