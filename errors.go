package fluid

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents an engine error. Collection, Operation and ID are filled in
// by the repository so store failures can be traced back to the call that
// produced them.
type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	Collection string
	Operation  string
	ID         interface{}
}

// Error implements the error interface
func (e Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Collection != "" {
		scope := e.Collection
		if e.Operation != "" {
			scope += "." + e.Operation
		}
		msg = scope + ": " + msg
	}
	if e.ID != nil {
		msg += fmt.Sprintf(" (id=%v)", e.ID)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error of the same type
func (e Error) Is(target error) bool {
	if t, ok := target.(Error); ok {
		return e.Type == t.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// configError is shorthand for registration and request validation failures.
func configError(format string, args ...interface{}) Error {
	return NewError(ErrorTypeConfiguration, fmt.Sprintf(format, args...))
}

// withContext returns err annotated with the collection, operation and id.
// Errors that are not an Error are wrapped as database failures. When err
// wraps an Error, the result keeps that Error's type and carries err as its
// cause so the outer wrapping stays reachable.
func withContext(err error, collection, operation string, id interface{}) error {
	if err == nil {
		return nil
	}
	var fe Error
	switch e := err.(type) {
	case Error:
		fe = e
	default:
		if errors.As(err, &fe) {
			fe.Cause = err
		} else {
			fe = NewErrorWithCause(ErrorTypeDatabase, "store operation failed", err)
		}
	}
	if fe.Collection == "" {
		fe.Collection = collection
	}
	if fe.Operation == "" {
		fe.Operation = operation
	}
	if fe.ID == nil {
		fe.ID = id
	}
	return fe
}

// IsErrorType checks if an error is, or wraps, an Error of the given type
func IsErrorType(err error, errorType ErrorType) bool {
	var fe Error
	if errors.As(err, &fe) {
		return fe.Type == errorType
	}
	return false
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return IsErrorType(err, ErrorTypeConfiguration)
}

// IsHook checks if an error was raised by an event hook
func IsHook(err error) bool {
	return IsErrorType(err, ErrorTypeHook)
}

// IsDuplicate checks if an error is a "duplicate" error
func IsDuplicate(err error) bool {
	return IsErrorType(err, ErrorTypeDuplicate)
}

// IsInvalidArgument checks if an error is an "invalid argument" error
func IsInvalidArgument(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidArgument)
}
