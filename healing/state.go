package healing

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a healing session.
type State string

const (
	// StateGenerating is the initial state: the first candidate is requested.
	StateGenerating State = "generating"
	// StateRunning means the current candidate is being executed.
	StateRunning State = "running"
	// StateFailedRetryable means an attempt failed with budget left.
	StateFailedRetryable State = "failed_retryable"
	// StateHealing means a repair strategy is producing the next candidate.
	StateHealing State = "healing"
	// StatePassed is terminal: an attempt passed.
	StatePassed State = "passed"
	// StateFailedTerminal is terminal: the last permitted attempt failed.
	StateFailedTerminal State = "failed_terminal"
	// StateAborted is terminal: no candidate could be produced.
	StateAborted State = "aborted"
)

// ErrIllegalTransition is returned when a session is asked to move to a state
// its current state does not permit.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateGenerating:      {StateRunning, StateAborted},
	StateRunning:         {StatePassed, StateFailedRetryable, StateFailedTerminal, StateAborted},
	StateFailedRetryable: {StateHealing, StateAborted},
	StateHealing:         {StateRunning, StateAborted},
	StatePassed:          nil,
	StateFailedTerminal:  nil,
	StateAborted:         nil,
}

// States lists every state.
func States() []State {
	return []State{
		StateGenerating, StateRunning, StateFailedRetryable, StateHealing,
		StatePassed, StateFailedTerminal, StateAborted,
	}
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StatePassed || s == StateFailedTerminal || s == StateAborted
}

// CanTransitionTo returns true if the state can move to target.
func (s State) CanTransitionTo(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition returns target, or ErrIllegalTransition when s does not permit it.
func (s State) Transition(target State) (State, error) {
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, target)
	}
	return target, nil
}

// Result is the coarse session outcome used in metrics and summaries.
func (s State) Result() string {
	switch s {
	case StatePassed:
		return "passed"
	case StateFailedTerminal:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return string(s)
	}
}

func (s State) String() string {
	return string(s)
}
