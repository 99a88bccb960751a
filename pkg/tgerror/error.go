// Package tgerror defines the structured error tree used across tangram's
// core: every operation returns (T, error), and errors that cross a
// component boundary carry a code so callers can branch on outcome
// (checksum mismatch vs. cancellation vs. a plain I/O fault) without
// string matching.
package tgerror

import (
	"fmt"
)

// Code classifies an Error for programmatic handling. See spec.md §7.
type Code string

const (
	CodeCancellation           Code = "cancellation"
	CodeHeartbeatExpiration    Code = "heartbeat_expiration"
	CodeChecksumMismatch       Code = "checksum_mismatch"
	CodeInvalidKind            Code = "invalid_kind"
	CodeNotFound               Code = "not_found"
	CodeInvalidGraph           Code = "invalid_graph"
	CodePackageVersionConflict Code = "package_version_conflict"
	CodePackageCycle           Code = "package_cycle"
	CodeLockOutOfDate          Code = "lock_out_of_date"
	CodeIO                     Code = "io"
	CodeOther                  Code = "other"
)

// Location identifies a source position a diagnostic refers to.
type Location struct {
	Path   string
	Line   int
	Column int
}

// StackFrame is one entry in an Error's recorded call stack.
type StackFrame struct {
	Symbol   string
	Location *Location
}

// Error is tangram's structured error value: a code, a human message,
// optional source location and stack, and an optional wrapped source
// error for chaining (spec.md §7).
type Error struct {
	Code     Code
	Message  string
	Location *Location
	Stack    []StackFrame
	Values   map[string]string
	Source   error
}

func (e *Error) Error() string {
	if e.Source != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Source.Error())
	}
	return e.Message
}

// Unwrap exposes the wrapped source error to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Source
}

// New constructs an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that chains source under message, tagged code.
func Wrap(code Code, source error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Source: source}
}

// CodeOf extracts the nearest Code in err's chain, or CodeOther if err
// is non-nil but carries no tangram Error, or "" if err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for {
		if te, ok := err.(*Error); ok {
			return te.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeOther
		}
		next := unwrapper.Unwrap()
		if next == nil {
			return CodeOther
		}
		err = next
	}
}

// Is reports whether the nearest code in err's chain (CodeOf) is code;
// codes on Errors further down the chain are not consulted.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
