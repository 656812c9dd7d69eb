package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a build id is unknown.
	ErrNotFound = errors.New("build not found")

	// ErrBuildTerminal is returned when an operation requires a build that
	// is still in progress.
	ErrBuildTerminal = errors.New("build is already in a terminal state")

	// ErrBuildRunning is returned when an operation requires a terminal
	// build, such as downloading its artifact bundle.
	ErrBuildRunning = errors.New("build is still in progress")

	// ErrUnknownWorker is returned for heartbeats from workers that never
	// registered (or were evicted after a previous process restart).
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrShuttingDown is returned for submissions after Shutdown.
	ErrShuttingDown = errors.New("scheduler is shutting down")
)

// AtomizationError means a job cannot produce any work: its atomizer command
// failed or emitted zero atoms. The owning build goes to ERROR.
type AtomizationError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *AtomizationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("atomizer command %q failed: %s", e.Command, e.Err)
	case e.ExitCode != 0:
		return fmt.Sprintf("atomizer command %q exited with code %d", e.Command, e.ExitCode)
	default:
		return fmt.Sprintf("atomizer command %q failed: %s", e.Command, e.Output)
	}
}

func (e *AtomizationError) Unwrap() error { return e.Err }
