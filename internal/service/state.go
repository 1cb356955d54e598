package service

import (
	"errors"
	"time"
)

// State is the lifecycle state of the supervised worker.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// StatusError is the Result.Status of a failed operation.
const StatusError = "error"

var (
	ErrProcessSpawn       = errors.New("process spawn failed")
	ErrStartupTimeout     = errors.New("startup timeout")
	ErrAlreadyRunning     = errors.New("already running")
	ErrTerminationTimeout = errors.New("termination timeout")
	ErrTermination        = errors.New("termination failed")
	ErrTransitionInFlight = errors.New("transition in flight")
	ErrSupervisorClosed   = errors.New("supervisor shut down")
)

// Result is returned by Start, Stop and Restart. Err classifies failures
// and the no-op outcomes (ErrAlreadyRunning, ErrTransitionInFlight).
type Result struct {
	Status  string
	PID     *int
	Message string
	Err     error
}

func (r Result) Failed() bool {
	return r.Status == StatusError
}

type StatusReport struct {
	State     State
	PID       *int
	Uptime    *float64 // seconds
	LastError string
}

// Transition is delivered to observers on every state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	PID  int       `json:"pid,omitempty"`
	At   time.Time `json:"at"`
}
