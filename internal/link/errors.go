package link

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("timeout")
	ErrIO               = errors.New("i/o error")
)

// Error describes a failed link operation.
type Error struct {
	Kind    error
	Op      string
	Command string
	Err     error
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Command, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// KindName returns a short label for err's kind, for metrics and logs.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrConnectionFailed):
		return "connection_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}
