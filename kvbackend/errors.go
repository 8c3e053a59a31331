package kvbackend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("kvbackend: not found")
	// ErrConflict reports a create over an existing identity.
	ErrConflict = errors.New("kvbackend: conflict")
	// ErrBadRequest reports a request the backend cannot route or decode.
	ErrBadRequest = errors.New("kvbackend: bad request")
)

// StatusError is an HTTP-shaped failure so callers can treat the kv backend
// and a remote backend alike.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("kvbackend: %s %s: status %d", e.Method, e.URL, e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrNotFound, ErrConflict and ErrBadRequest by status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrConflict:
		return e.Code == http.StatusConflict
	case ErrBadRequest:
		return e.Code == http.StatusBadRequest
	}
	return false
}
