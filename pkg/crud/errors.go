package crud

import (
	"errors"
	"fmt"
)

var (
	// ErrUniqueViolation is matched (errors.Is) by every unique constraint
	// violation surfaced by a Session.
	ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")
	// ErrMalformedBody is returned when the request body is not valid JSON
	// of the expected kind (object or array).
	ErrMalformedBody = errors.New("malformed request body")
	// ErrNoRowReturned is a fault: an insert reported success without
	// returning the inserted row.
	ErrNoRowReturned = errors.New("statement returned no row")
	// ErrExecutorClosed is returned by TaskExecutor.Run after Close.
	ErrExecutorClosed = errors.New("executor closed")
)

// UniqueViolationError is the structured signal a Session returns when a
// statement violates a unique constraint.
type UniqueViolationError struct {
	Constraint string
	Table      string
	Detail     string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	if e.Constraint == "" {
		return ErrUniqueViolation.Error()
	}
	return fmt.Sprintf("%s %q", ErrUniqueViolation, e.Constraint)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// Is makes every UniqueViolationError match ErrUniqueViolation.
func (e *UniqueViolationError) Is(target error) bool { return target == ErrUniqueViolation }

// ArgumentError reports a request argument that does not satisfy its schema
// binding or cannot be turned into a statement.
type ArgumentError struct {
	Source string // "body", "query", "path" or "statement"
	Err    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s arguments: %v", e.Source, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// ShapeError reports rows that do not conform to the declared response
// schema. It indicates a configuration defect.
type ShapeError struct {
	Err error
}

func (e *ShapeError) Error() string { return fmt.Sprintf("response shape mismatch: %v", e.Err) }

func (e *ShapeError) Unwrap() error { return e.Err }

// RedirectError is returned by the post-redirect-get flow when no GET route
// is registered for the created row.
type RedirectError struct {
	Path   string // expected route, eg /users/{id}
	Method string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("End Point %s with %s method not found", e.Path, e.Method)
}
