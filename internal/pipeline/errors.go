package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError reports a run parameter that is missing or malformed.
// It is raised before any backend call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ErrTaskTimeout marks a task whose backend call exceeded the task timeout.
var ErrTaskTimeout = errors.New("task timed out")

// Failure describes why a run stopped before its last task finished.
type Failure struct {
	TaskIndex int
	Role      string
	Err       error
	Cancelled bool
}

func (f *Failure) Error() string {
	if f.Cancelled {
		return fmt.Sprintf("pipeline cancelled at %s (task %d): %v", f.Role, f.TaskIndex, f.Err)
	}
	return fmt.Sprintf("pipeline failed at %s (task %d): %v", f.Role, f.TaskIndex, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
