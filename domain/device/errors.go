package device

import (
	"errors"
	"fmt"
)

// Domain errors for device operations.
var (
	// ErrCommunication indicates the device could not be reached.
	ErrCommunication = errors.New("device communication failed")

	// ErrElementNotFound indicates a locator matched nothing.
	ErrElementNotFound = errors.New("element not found")

	// ErrUnsupportedCommand indicates the surface cannot execute a command.
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrForegroundLogs indicates the log buffer held unexpected entries.
	ErrForegroundLogs = errors.New("log buffer contains foreground entries")
)

// Error wraps a failure of a device operation.
type Error struct {
	Op  string
	Err error
}

// NewError creates a device error for the given operation.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
