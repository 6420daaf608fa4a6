package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while driving the engine.
//
// Protocol-level failures (bad symbols, unknown opcodes, lost training) are
// never returned as errors: the engine discards the frame and recovers on
// its own. RuntimeError only covers misuse of the Go API.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoLink indicates Run was called without a symbol source.
	ErrCodeNoLink RuntimeErrorCode = "NO_LINK"

	// ErrCodeAlreadyRunning indicates a second goroutine tried to drive the engine.
	ErrCodeAlreadyRunning RuntimeErrorCode = "ALREADY_RUNNING"

	// ErrCodeInvalidRate indicates a non-positive clock rate.
	ErrCodeInvalidRate RuntimeErrorCode = "INVALID_RATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAlreadyRunning returns true if the error reports concurrent driving.
// Uses errors.As to handle wrapped errors.
func IsAlreadyRunning(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeAlreadyRunning
	}
	return false
}

// IsNoLink returns true if the error reports a missing symbol source.
func IsNoLink(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNoLink
	}
	return false
}
