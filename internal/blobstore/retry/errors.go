package retry

import (
	"errors"
	"fmt"
)

// ErrRetryExhausted indicates every attempt of an operation failed.
var ErrRetryExhausted = errors.New("retries exhausted")

// ExhaustedError reports the final state of an operation that ran out of
// attempts. It matches ErrRetryExhausted and unwraps to the last failure.
type ExhaustedError struct {
	Op          string
	Attempts    int
	LastBackend string
	Cause       error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("%s: %v after %d attempts", e.Op, ErrRetryExhausted, e.Attempts)
	if e.LastBackend != "" {
		msg += " (last backend " + e.LastBackend + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}
