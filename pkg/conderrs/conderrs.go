// Package conderrs defines the error kinds raised by the client conductor
// and cluster sequencer.
package conderrs

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised by the conductor or sequencer.
type Kind string

const (
	// Registration means the driver reported a failure for a specific
	// correlation id; re-raised on awaitResponse.
	Registration Kind = "registration"
	// DriverTimeout means no response arrived within driverTimeoutNs, or
	// the driver's heartbeat went stale past driverTimeoutMs.
	DriverTimeout Kind = "driver-timeout"
	// ServiceTimeout means the conductor's own work loop missed its
	// deadline; fatal to the conductor.
	ServiceTimeout Kind = "service-timeout"
	// ChannelEndpoint is an asynchronous per-endpoint failure delivered to
	// the error sink for every resource whose status indicator matches.
	ChannelEndpoint Kind = "channel-endpoint"
	// InvalidArgument means a counter key or label length was out of range.
	InvalidArgument Kind = "invalid-argument"
	// AlreadyClosed means an API call landed on a closed conductor.
	AlreadyClosed Kind = "already-closed"
	// UnableToAppend means the log publication refused MAX_SEND_ATTEMPTS
	// claims for a timer event; the raft-backed log publication also
	// returns it for a single refused claim or apply. Session-event appends
	// that fail report Abort instead of this error.
	UnableToAppend Kind = "unable-to-append"
)

// Error is the concrete error type carried through awaitResponse, the
// sequencer's append paths, and the error sink.
type Error struct {
	Kind          Kind
	CorrelationID int64
	Message       string
	Cause         error
}

func (e *Error) Error() string {
	if e.CorrelationID != 0 {
		return fmt.Sprintf("%s (correlationId=%d): %s", e.Kind, e.CorrelationID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel created
// with New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithCorrelation attaches a correlation id for handlers that key off it.
func (e *Error) WithCorrelation(id int64) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinels for errors.Is comparisons where no message/correlation matters.
var (
	ErrDriverTimeout   = &Error{Kind: DriverTimeout}
	ErrServiceTimeout  = &Error{Kind: ServiceTimeout}
	ErrAlreadyClosed   = &Error{Kind: AlreadyClosed}
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrUnableToAppend  = &Error{Kind: UnableToAppend}
)
