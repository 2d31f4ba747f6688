// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy of the connection engine and helpers to classify errors.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed   = errors.New("transport is closed")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrIdleTimeout       = errors.New("idle timeout")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrCloseTimeout      = errors.New("close timeout")
	ErrPipelineFull      = errors.New("pipelining depth exceeded")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeInternal
	// ErrCodeIO is a transport-level read or write failure.
	ErrCodeIO
	// ErrCodeProtocol is malformed framing.
	ErrCodeProtocol
	// ErrCodeHandshake is an encryption negotiation failure.
	ErrCodeHandshake
	// ErrCodeBufferOverflow is buffer growth beyond the configured maximum.
	ErrCodeBufferOverflow
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeNotSupported:
		return "not_supported"
	case ErrCodeIO:
		return "io"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeHandshake:
		return "handshake"
	case ErrCodeBufferOverflow:
		return "buffer_overflow"
	default:
		return "internal"
	}
}

// Class sentinels. errors.Is(err, IoError) holds for any *Error carrying ErrCodeIO.
var (
	IoError        = &Error{Code: ErrCodeIO, Message: "i/o error"}
	ProtocolError  = &Error{Code: ErrCodeProtocol, Message: "protocol error"}
	HandshakeError = &Error{Code: ErrCodeHandshake, Message: "handshake error"}
	BufferOverflow = &Error{Code: ErrCodeBufferOverflow, Message: "buffer overflow"}
)

// Error represents a structured error with code, context and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, cause error, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// Errorf creates a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
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

// CodeOf returns the code of the first *Error in err's chain, ErrCodeOK for
// nil and ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsProtocol reports whether err is a framing failure. Buffer overflows count
// as protocol errors since they stem from oversized peer input.
func IsProtocol(err error) bool {
	return errors.Is(err, ProtocolError) || errors.Is(err, BufferOverflow)
}

// IsConnectionFatal reports whether err must tear the connection down.
func IsConnectionFatal(err error) bool {
	return errors.Is(err, IoError) || errors.Is(err, HandshakeError)
}
