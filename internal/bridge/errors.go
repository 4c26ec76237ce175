package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChannelClosed reports that the transport to the target process is
// severed. It is fatal for the remainder of the session; no further bridge
// calls are attempted once it has been observed.
var ErrChannelClosed = errors.New("bridge channel closed")

// SessionNotReadyError is returned when a bridge call is attempted while the
// owning session is outside the launched/ready states. This is a programmer
// error and is never retried.
type SessionNotReadyError struct {
	State string
}

func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("bridge call attempted in session state %q", e.State)
}

// Is enables errors.Is checks for session readiness failures.
func (e *SessionNotReadyError) Is(target error) bool {
	_, ok := target.(*SessionNotReadyError)
	return ok
}

// RemoteExecutionError is returned when the evaluated code ran inside the
// target process but threw. The original remote message is surfaced verbatim.
type RemoteExecutionError struct {
	Message    string
	Expression string
}

func (e *RemoteExecutionError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "remote evaluation threw"
	}
	return fmt.Sprintf("remote execution failed: %s", message)
}

// Is enables errors.Is checks for remote execution failures.
func (e *RemoteExecutionError) Is(target error) bool {
	_, ok := target.(*RemoteExecutionError)
	return ok
}
