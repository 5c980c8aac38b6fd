// Package errcode defines the typed error taxonomy used across the vizlog
// engine. Every error that crosses a public API boundary carries a Code so
// callers (and strict mode) can distinguish argument errors, stream errors,
// columnar errors and chunk validation failures.
package errcode

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Code identifies a class of engine error.
type Code int

const (
	OK Code = iota

	// Argument errors - detected synchronously at the call site.
	InvalidArgument
	InvalidStringArgument
	InvalidEnumValue
	InvalidServerURL
	InvalidHandle

	// Stream/runtime errors.
	SpawnFailure
	ConnectionFailure
	SaveFailure
	StreamClosed

	// Columnar errors.
	OutOfMemory
	TypeMismatch
	Invalid
	IOError
	CapacityError
	IndexError
	Cancelled
	NotImplemented

	// Chunk validation errors - mismatched partitions vs. actual data.
	ChunkValidation
)

// String returns the canonical name of the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid_argument"
	case InvalidStringArgument:
		return "invalid_string_argument"
	case InvalidEnumValue:
		return "invalid_enum_value"
	case InvalidServerURL:
		return "invalid_server_url"
	case InvalidHandle:
		return "invalid_handle"
	case SpawnFailure:
		return "spawn_failure"
	case ConnectionFailure:
		return "connection_failure"
	case SaveFailure:
		return "save_failure"
	case StreamClosed:
		return "stream_closed"
	case OutOfMemory:
		return "out_of_memory"
	case TypeMismatch:
		return "type_mismatch"
	case Invalid:
		return "invalid"
	case IOError:
		return "io_error"
	case CapacityError:
		return "capacity_error"
	case IndexError:
		return "index_error"
	case Cancelled:
		return "cancelled"
	case NotImplemented:
		return "not_implemented"
	case ChunkValidation:
		return "chunk_validation"
	default:
		return "unknown"
	}
}

// Error is a typed engine error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match on the code only, so sentinel comparisons like
// errors.Is(err, errcode.New(errcode.ChunkValidation, "")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a typed error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, or Invalid for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Invalid
}

// strictEnvVar promotes internally-handled errors to panics for local
// debugging. Truthy values: 1, true, yes, on (case-insensitive).
const strictEnvVar = "VIZLOG_STRICT"

// Strict reports whether strict mode is enabled for this process.
func Strict() bool {
	return isTruthy(os.Getenv(strictEnvVar))
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Handle applies the propagation policy to an internally-detected error:
// in strict mode it panics, otherwise it logs and returns. Callers use it
// for errors that are recoverable by design (the call degrades to a no-op).
func Handle(logger zerolog.Logger, err error) {
	if err == nil {
		return
	}
	if Strict() {
		panic(err)
	}
	logger.Error().Err(err).Str("code", CodeOf(err).String()).Msg("Recoverable engine error")
}
