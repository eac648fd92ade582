package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLength indicates a sequence was declared with a negative or inconsistent length
	ErrInvalidLength = errors.New("invalid sequence length")

	// ErrConsumed indicates a single-pass sequence was entered a second time
	ErrConsumed = errors.New("sequence already consumed")

	// ErrEmptySequence indicates a collector that requires at least one item received none
	ErrEmptySequence = errors.New("sequence is empty")

	// ErrCancelled indicates the iteration was stopped by its caller between items
	ErrCancelled = errors.New("iteration cancelled")

	// ErrInvalidArgument indicates a node or transform received an unusable argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNodeNotFound indicates a node id is not part of the graph
	ErrNodeNotFound = errors.New("node not found")
)

// Error codes attached to structured errors.
const (
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeItem          = "ITEM_ERROR"
	CodeEmpty         = "EMPTY_SEQUENCE_ERROR"
	CodeCancelled     = "CANCELLED_ERROR"
	CodeTimeout       = "TIMEOUT_ERROR"
	CodeResource      = "RESOURCE_ERROR"
	CodeUnknown       = "UNKNOWN_ERROR"
)

// Error represents a structured runtime error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Configuration creates a configuration error. Configuration errors are raised
// before any iteration starts and are never retried.
func Configuration(err error, format string, args ...any) *Error {
	return NewError(CodeConfiguration, fmt.Sprintf(format, args...), err)
}

// Empty creates an error for a collector that received no items
func Empty(collector string) *Error {
	return NewError(CodeEmpty, collector+" requires at least one item", ErrEmptySequence)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeConfiguration
}

// IsEmpty checks if an error reports an empty sequence
func IsEmpty(err error) bool {
	return errors.Is(err, ErrEmptySequence)
}

// IsCancelled checks if an error reports a caller cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
