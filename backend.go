package optimistic

import "context"

// HTTP methods issued to the backend.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// Operation names the call site that issued a backend request.
type Operation string

const (
	OpGetAll  Operation = "getAll"
	OpGet     Operation = "get"
	OpUpdate  Operation = "update"
	OpCreate  Operation = "create"
	OpDestroy Operation = "destroy"
)

// Request is a single backend call.
type Request struct {
	Method string
	URL    string
	// Body is the raw request payload (nil for GET and DELETE).
	Body any
	// Operation identifies the call site for backend-side logging or branching.
	Operation Operation
	// Instance is the entity that triggered the call, when there is one.
	Instance any
}

// Backend performs CRUD calls against the remote system and returns the
// decoded response body (objects as map[string]any, lists as []any, or any
// value that encodes to JSON).
type Backend interface {
	Do(ctx context.Context, req Request) (any, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) (any, error)

// Do implements Backend.
func (f BackendFunc) Do(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}
