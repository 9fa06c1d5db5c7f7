package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)

// EngineError wraps errors with operation context, making error messages
// more informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Save",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "recall: Save: invalid input"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message of the form "recall: <Op>: <Err>".
func (e *EngineError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates an EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Save", err)
//	}
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
