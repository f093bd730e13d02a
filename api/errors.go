// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-mq.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrContextClosed    = fmt.Errorf("context is closed")
	ErrSocketClosed     = fmt.Errorf("socket is closed")
	ErrLoopStopped      = fmt.Errorf("event loop is stopped")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
	ErrNotSupported     = fmt.Errorf("operation not supported")
	ErrAlreadyExists    = fmt.Errorf("resource already exists")
	ErrNotFound         = fmt.Errorf("resource not found")
	ErrEngineNotPresent = fmt.Errorf("messaging engine not compiled in")
)

// Engine error numbers that have no POSIX equivalent. Values follow libzmq.
const (
	errnoBase    = 156384712
	ErrnoEFSM    = errnoBase + 51
	ErrnoENOCOMP = errnoBase + 52
	ErrnoETERM   = errnoBase + 53
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeEngine
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
// Errno carries the engine error number when Code is ErrCodeEngine.
type Error struct {
	Code    ErrorCode
	Errno   int
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// NewEngineError wraps an engine error number raised by op.
func NewEngineError(errno int, op string) *Error {
	return &Error{
		Code:    ErrCodeEngine,
		Errno:   errno,
		Message: op + ": " + ErrnoString(errno),
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrnoOf returns the engine error number carried by err, or -1.
func ErrnoOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Code == ErrCodeEngine {
		return ae.Errno
	}
	var se syscall.Errno
	if errors.As(err, &se) {
		return int(se)
	}
	return -1
}

// ErrnoString renders engine error numbers, including the non-POSIX ones.
func ErrnoString(errno int) string {
	switch errno {
	case ErrnoEFSM:
		return "operation cannot be accomplished in current state"
	case ErrnoENOCOMP:
		return "the protocol is not compatible with the socket type"
	case ErrnoETERM:
		return "context was terminated"
	}
	return syscall.Errno(errno).Error()
}
