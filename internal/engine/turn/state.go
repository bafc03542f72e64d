// Package turn models per-tenant turn batches and their lifecycle.
package turn

// State is the lifecycle state of a turn batch.
type State string

const (
	// StateCollecting accepts staged intents.
	StateCollecting State = "collecting"
	// StateDetecting scans the staged batch for conflicts.
	StateDetecting State = "detecting"
	// StateResolving resolves identified conflicts.
	StateResolving State = "resolving"
	// StateApplying hands outcomes to the applier.
	StateApplying State = "applying"
	// StateClosed is the terminal state of a completed turn.
	StateClosed State = "closed"
	// StateFailed is the terminal state of an abandoned turn.
	StateFailed State = "failed"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateCollecting, StateDetecting, StateResolving, StateApplying, StateClosed, StateFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends the batch lifecycle.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// transitions lists the allowed forward edges of the lifecycle.
var transitions = map[State][]State{
	StateCollecting: {StateDetecting, StateClosed, StateFailed},
	StateDetecting:  {StateResolving, StateFailed},
	StateResolving:  {StateApplying, StateFailed},
	StateApplying:   {StateClosed, StateFailed},
}

// CanTransition reports whether a batch may move from one state to another.
// Collecting may close directly only through an abort.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
