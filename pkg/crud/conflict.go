package crud

import "errors"

// Failure classifies an execution error.
type Failure int

const (
	// FailureNone is returned for a nil error.
	FailureNone Failure = iota
	// FailureConflict is a unique constraint violation, answered with 409.
	FailureConflict
	// FailureFault is any other error; it propagates unchanged.
	FailureFault
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureConflict:
		return "conflict"
	default:
		return "fault"
	}
}

// Classify inspects an execution error for the structured unique violation
// signal. Message text is never inspected.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var uv *UniqueViolationError
	if errors.As(err, &uv) || errors.Is(err, ErrUniqueViolation) {
		return FailureConflict
	}
	return FailureFault
}
