package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur during a run
type ErrorType string

const (
	ErrorTypeEmptySource       ErrorType = "empty_source"
	ErrorTypeCollaborator      ErrorType = "collaborator"
	ErrorTypeCheckpointIO      ErrorType = "checkpoint_io"
	ErrorTypeCorruptCheckpoint ErrorType = "corrupt_checkpoint"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// Error represents a training error with type information
type Error struct {
	Type ErrorType
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Type, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error for the given operation
func New(errorType ErrorType, op string, err error) *Error {
	return &Error{Type: errorType, Op: op, Err: err}
}

// Newf creates a typed error with a formatted cause
func Newf(errorType ErrorType, op string, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Op: op, Err: fmt.Errorf(format, args...)}
}

// TypeOf returns the type of the first typed error in the chain
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// IsType checks whether any error in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Type == errorType {
			return true
		}
		err = typed.Err
	}
	return false
}
