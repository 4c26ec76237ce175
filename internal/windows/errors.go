package windows

import (
	"fmt"
	"time"
)

// WindowNotFoundError reports that no open window matched the tag before the
// wait deadline. This is recoverable; the caller decides whether to retry or
// fail the test.
type WindowNotFoundError struct {
	Tag     string
	Timeout time.Duration
}

func (e *WindowNotFoundError) Error() string {
	return fmt.Sprintf("no window matched tag %q within %v", e.Tag, e.Timeout)
}

// Is enables errors.Is checks for window lookup timeouts.
func (e *WindowNotFoundError) Is(target error) bool {
	_, ok := target.(*WindowNotFoundError)
	return ok
}
