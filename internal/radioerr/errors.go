// Package radioerr defines the typed error kinds the radio engine can
// fail with, mirroring the distinction the wire protocol itself makes
// between a transport failure, a protocol assertion failure, and a
// configuration rejection.
package radioerr

import "fmt"

// Kind identifies which of the three fatal error categories an error
// belongs to.
type Kind int

const (
	// Transport indicates a serial open/read/write failure, or an
	// unexpected end of stream on the line-reader channel.
	Transport Kind = iota
	// Protocol indicates a response assertion failure: a hex decode
	// failure, or a reply other than the one the state machine expects.
	Protocol
	// Config indicates a failed initialization: the radio rejected an
	// init line with invalid_param, or the init file could not be read.
	Config
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a typed, wrappable fatal error raised by the engine or its
// collaborators. Every engine failure the caller must distinguish (to
// decide how to log it, and always to exit non-zero) is one of these.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the underlying cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error's category.
func (e *Error) Kind() Kind {
	return e.kind
}

// TransportF builds a Transport error, optionally wrapping cause.
func TransportF(cause error, format string, args ...interface{}) *Error {
	return &Error{Transport, fmt.Sprintf(format, args...), cause}
}

// ProtocolF builds a Protocol error, optionally wrapping cause.
func ProtocolF(cause error, format string, args ...interface{}) *Error {
	return &Error{Protocol, fmt.Sprintf(format, args...), cause}
}

// ConfigF builds a Config error, optionally wrapping cause.
func ConfigF(cause error, format string, args ...interface{}) *Error {
	return &Error{Config, fmt.Sprintf(format, args...), cause}
}
