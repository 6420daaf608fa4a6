package mgmt

import (
	"errors"
	"fmt"
)

// PortError reports a register access that could not complete.
type PortError struct {
	Code    PortErrorCode
	Message string
	Err     error
}

// PortErrorCode categorizes port errors.
type PortErrorCode string

const (
	// ErrCodeNotRunning indicates no goroutine is driving the domain.
	ErrCodeNotRunning PortErrorCode = "NOT_RUNNING"

	// ErrCodeCancelled indicates the caller's context ended first.
	ErrCodeCancelled PortErrorCode = "CANCELLED"

	// ErrCodeEmpty indicates a record read found the queue empty.
	ErrCodeEmpty PortErrorCode = "EMPTY"

	// ErrCodePartialRecord indicates a record read that could not return
	// all four words.
	ErrCodePartialRecord PortErrorCode = "PARTIAL_RECORD"

	// ErrCodeAlreadyRunning indicates a second goroutine tried to drive the domain.
	ErrCodeAlreadyRunning PortErrorCode = "ALREADY_RUNNING"

	// ErrCodeInvalidRate indicates a non-positive clock rate.
	ErrCodeInvalidRate PortErrorCode = "INVALID_RATE"
)

// Error implements the error interface.
func (e *PortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PortError) Unwrap() error { return e.Err }

// IsEmpty returns true if the error reports an empty log.
func IsEmpty(err error) bool {
	return hasCode(err, ErrCodeEmpty)
}

// IsNotRunning returns true if the error reports an undriven domain.
func IsNotRunning(err error) bool {
	return hasCode(err, ErrCodeNotRunning)
}

func hasCode(err error, code PortErrorCode) bool {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
