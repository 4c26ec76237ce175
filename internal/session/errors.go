package session

import (
	"fmt"
	"strings"
)

// LaunchFailedError reports that the target process failed to produce its
// first window before its own startup failed or the launch deadline passed.
type LaunchFailedError struct {
	Reason     string
	ExitErr    error
	StderrTail []string
}

func (e *LaunchFailedError) Error() string {
	message := fmt.Sprintf("launch failed: %s", e.Reason)
	if e.ExitErr != nil {
		message = fmt.Sprintf("%s (%v)", message, e.ExitErr)
	}
	if len(e.StderrTail) > 0 {
		message = fmt.Sprintf("%s\nstderr tail:\n%s", message, strings.Join(e.StderrTail, "\n"))
	}
	return message
}

// Unwrap exposes the underlying process exit error, when any.
func (e *LaunchFailedError) Unwrap() error {
	return e.ExitErr
}

// Is enables errors.Is checks for launch failures.
func (e *LaunchFailedError) Is(target error) bool {
	_, ok := target.(*LaunchFailedError)
	return ok
}

// InvalidTransitionError is returned for a disallowed lifecycle transition.
type InvalidTransitionError struct {
	SessionID string
	FromState State
	ToState   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf(
		"cannot transition session %q from %q to %q",
		e.SessionID,
		e.FromState,
		e.ToState,
	)
}

// Is enables errors.Is checks for invalid transition failures.
func (e *InvalidTransitionError) Is(target error) bool {
	_, ok := target.(*InvalidTransitionError)
	return ok
}
