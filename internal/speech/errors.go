package speech

import (
	"errors"
	"fmt"
	"os/exec"
)

var ErrNoOutput = errors.New("synthesizer produced no output file")

// SynthesisError reports a failed synthesizer run.
type SynthesisError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SynthesisError) Error() string {
	return describe("synthesis", e.ExitCode, e.Stderr, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// PlaybackError reports a failed player run.
type PlaybackError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *PlaybackError) Error() string {
	return describe("playback", e.ExitCode, e.Stderr, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

func describe(what string, code int, stderr string, err error) string {
	msg := what + " failed"
	if code > 0 {
		msg += fmt.Sprintf(" with exit code %d", code)
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	if stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// exitCode returns the exit code carried by err, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
