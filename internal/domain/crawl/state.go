package crawl

import "fmt"

// State is the lifecycle state of a crawl job's scan.
type State string

const (
	// StateIdle indicates no scan has run in this process yet.
	StateIdle State = "IDLE"

	// StateRunning indicates the walker is producing items.
	StateRunning State = "RUNNING"

	// StatePaused indicates the scan is parked at a directory or batch
	// boundary with its in-flight batch flushed and its checkpoint persisted.
	StatePaused State = "PAUSED"

	// StateCompleted indicates the last scan exhausted the tree.
	StateCompleted State = "COMPLETED"

	// StateCancelled indicates the scan was interrupted by a fatal error or
	// by shutdown. It is terminal for the lifetime of the process.
	StateCancelled State = "CANCELLED"
)

func (s State) String() string { return string(s) }

// ParseState converts a string to a State. Unknown values map to StateIdle
// so that a checkpoint written by a newer version never blocks startup.
func ParseState(s string) State {
	switch State(s) {
	case StateRunning, StatePaused, StateCompleted, StateCancelled:
		return State(s)
	default:
		return StateIdle
	}
}

// ValidateTransition checks if a state transition is valid and returns an
// ErrInvalidState wrapped in a *TransitionError if not. Starting a scan that
// is already running yields ErrAlreadyRunning instead.
func (s State) ValidateTransition(target State) error {
	if s == StateRunning && target == StateRunning {
		return &TransitionError{From: s, To: target, Err: ErrAlreadyRunning}
	}
	if !s.isValidTransition(target) {
		return &TransitionError{From: s, To: target, Err: ErrInvalidState}
	}
	return nil
}

func (s State) isValidTransition(target State) bool {
	switch s {
	case StateIdle, StateCompleted:
		return target == StateRunning
	case StateRunning:
		return target == StatePaused || target == StateCompleted || target == StateCancelled
	case StatePaused:
		// A paused scan can also be cancelled by shutdown.
		return target == StateRunning || target == StateCancelled
	case StateCancelled:
		return false
	default:
		return false
	}
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	From State
	To   State
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid crawl state transition from %s to %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
