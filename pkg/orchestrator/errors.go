package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoFreePort is returned when every port in the scan window is taken.
var ErrNoFreePort = errors.New("orchestrator: no free port in scan window")

// StartupTimeoutError reports that no port in the health window answered
// 200 before the startup timeout. The child has been terminated.
type StartupTimeoutError struct {
	Timeout time.Duration
	Port    int
	Window  int
	LastErr error
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("server did not become healthy on ports %d-%d within %s", e.Port, e.Port+e.Window-1, e.Timeout)
	if e.LastErr != nil {
		msg += fmt.Sprintf(": last error: %v", e.LastErr)
	}
	return msg
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.LastErr
}

// ChildExitedError reports that the child process exited before it became
// healthy.
type ChildExitedError struct {
	Err error
}

func (e *ChildExitedError) Error() string {
	if e.Err == nil {
		return "server process exited during startup"
	}
	return fmt.Sprintf("server process exited during startup: %v", e.Err)
}

func (e *ChildExitedError) Unwrap() error {
	return e.Err
}
