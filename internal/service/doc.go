// Package service supervises the single assistant worker process.
//
// Overview
// The Supervisor owns the authoritative lifecycle State and at most one
// Handle. Callers drive it with Start, Stop and Restart; Status is the only
// operation that reconciles the believed state with the OS and may declare
// the worker crashed.
//
// Spawn is a thin, opinionated wrapper around os/exec:
//   - starts the worker in its own process group
//   - forwards stdout and stderr to slog, line by line
//   - watches stdout for the ready line
//   - reaps the process in a goroutine and exposes Done
//
// State machine:
//
//	stopped --Start--> starting --ready--> running --Stop--> stopping --exit--> stopped
//	             |                  |                                   |
//	             | spawn error      | timeout / early exit              | Status finds
//	             v                  v                                   | the pid gone
//	          stopped            crashed <------------------------------+
//
// Stop on a crashed supervisor acknowledges the crash and returns to stopped.
//
// Invariants:
//   - A Handle exists iff the state is starting, running or stopping.
//   - One transition in flight; concurrent callers get the current state
//     back with ErrTransitionInFlight.
//   - Every wait is bounded: startup timeout, grace period, kill timeout.
//   - Restart never starts when its stop failed.
package service
