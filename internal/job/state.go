package job

import (
	"errors"
	"fmt"

	"optibatch/internal/quota"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	StateQuotaBlocked State = "quota_blocked"
	StateCompleted    State = "completed"
)

var transitions = map[State]map[State]bool{
	StateIdle:         {StateRunning: true, StatePaused: true, StateQuotaBlocked: true},
	StateRunning:      {StatePaused: true, StateStopping: true, StateQuotaBlocked: true, StateCompleted: true},
	StatePaused:       {StateRunning: true, StateIdle: true},
	StateStopping:     {StateCompleted: true},
	StateQuotaBlocked: {StateRunning: true, StateIdle: true},
	StateCompleted:    {StateRunning: true},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the table allows s -> to.
func (s State) CanTransition(to State) bool {
	return transitions[s][to]
}

// Resumable reports whether a live checkpoint can be resumed from s.
func (s State) Resumable() bool {
	return s == StatePaused || s == StateQuotaBlocked
}

var (
	// ErrInvalidTransition reports a control operation the current state does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBusy reports an operation refused while the worker is mid-item or a start is in progress.
	ErrBusy = errors.New("job is busy")
	// ErrClosed reports use of a controller after Shutdown.
	ErrClosed = errors.New("job controller closed")
	// ErrQuotaExhausted reports a resume refused because the refreshed quota is still empty.
	ErrQuotaExhausted = fmt.Errorf("%w: no operations remaining", quota.ErrQuotaExceeded)
)

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
