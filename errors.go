package optimistic

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a misuse of the registration or configuration surface.
	ErrConfiguration = errors.New("optimistic: configuration error")

	// ErrState reports an operation that is invalid for the entity's current state.
	ErrState = errors.New("optimistic: invalid operation")
)

// BackendError wraps a failure returned by the backend collaborator.
// The original error is reachable through errors.Is and errors.As.
type BackendError struct {
	Operation Operation
	Method    string
	URL       string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("optimistic: %s %s %s: %v", e.Operation, e.Method, e.URL, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

func stateError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrState}, args...)...)
}
